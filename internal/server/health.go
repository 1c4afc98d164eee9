package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/retrieve-go/internal/logging"
)

// pingTimeout bounds each dependency check behind /api/ready.
const pingTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability.
// Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency answered within ctx.
	Ping(ctx context.Context) error
	// Name labels the dependency in /api/ready, e.g. "postgres".
	Name() string
}

type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// readyResponse is the body of GET /api/ready. Checks keep the order of
// Config.Pingers.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// checkDependencies pings every dependency concurrently.
func checkDependencies(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			checks[i] = readyCheck{Name: p.Name(), OK: true}
			if err := p.Ping(pctx); err != nil {
				checks[i].OK = false
				checks[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

// handleReady handles GET /api/ready: 200 when every dependency answers,
// 503 otherwise. /api/health stays a pure liveness check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Checks: checkDependencies(r.Context(), s.pingers)}

	log := logging.FromContext(r.Context())
	for _, c := range resp.Checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("dependency unreachable",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
