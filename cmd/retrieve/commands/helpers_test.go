package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/retrieve-go/internal/config"
	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/rag"
)

func TestBuildSink_NSQReadsQueueSettings(t *testing.T) {
	t.Setenv("NSQD_ADDRESS", "127.0.0.1:4150")
	t.Setenv("NSQ_TOPIC", "")

	_, _, err := buildSink(logging.Discard(), sinkNSQ, "", 0)
	require.ErrorIs(t, err, config.ErrMissingRequired)

	t.Setenv("NSQ_TOPIC", "wiki")
	sender, closeSink, err := buildSink(logging.Discard(), sinkNSQ, "", 0)
	require.NoError(t, err)
	assert.NotNil(t, sender)
	closeSink()
}

func TestBuildSink_HTTPAndUnknown(t *testing.T) {
	sender, closeSink, err := buildSink(logging.Discard(), sinkHTTP, "http://localhost:8080", 0)
	require.NoError(t, err)
	assert.NotNil(t, sender)
	closeSink()

	_, _, err = buildSink(logging.Discard(), "kafka", "", 0)
	assert.ErrorContains(t, err, "unknown sink")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:4161", "b:4161"}, splitList(" a:4161, ,b:4161,"))
	assert.Nil(t, splitList(""))
}

func TestIngestSummary_CountsStoredAndRepeatedSeparately(t *testing.T) {
	total := rag.Result{Received: 5, Unique: 4, Inserted: 3, Skipped: 1}
	assert.Equal(t, "read 5 texts: 3 inserted, 1 already stored, 1 repeated in input", ingestSummary(total))

	total = rag.Result{Received: 2, Unique: 2, Inserted: 2}
	assert.Equal(t, "read 2 texts: 2 inserted, 0 already stored", ingestSummary(total))
}
