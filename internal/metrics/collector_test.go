package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chadiek/improv/internal/domain"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t))

	c.ObserveTransition(domain.StateListening)
	c.ObserveTransition(domain.StateListening)
	c.ObserveTransition(domain.StateIdle)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("Listening")))

	c.StageFailed("synthesize")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("synthesize")))

	c.SetPipelineQueueDepth(3)
	c.SetBroadcastQueueDepth(7)
	c.SetBroadcastClients(2)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.pipelineDepth))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.broadcastDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.broadcastClients))

	c.TurnDetected()
	c.SnapshotReceived()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsDetected))

	c.ObserveStage("transcribe", 120*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(c.stageDuration))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t))
	c.TurnDetected()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "improv_turns_detected_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
