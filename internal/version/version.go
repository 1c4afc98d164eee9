// Package version holds build-time version information for the retrieve
// binary, injected via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/retrieve-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/retrieve-go/internal/version.Commit=abc1234" ./cmd/retrieve
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders all three fields for `retrieve version` and the
// User-Agent header sent by the fetcher.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// UserAgent is the HTTP User-Agent used for outbound requests.
func UserAgent() string {
	return "retrieve-go/" + Version
}
