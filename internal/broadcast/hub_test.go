package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/chadiek/improv/internal/domain"
)

type fakeClient struct {
	mu     sync.Mutex
	events []domain.Event
	failAt int // fail on the n-th send, 0 never
	closed atomic.Bool
}

func (c *fakeClient) Send(e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.events)+1 >= c.failAt {
		return errors.New("broken pipe")
	}
	c.events = append(c.events, e)
	return nil
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeClient) states() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.State)
	}
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *fakeSink) Deliver(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

type fakeGauges struct {
	depth   atomic.Int64
	clients atomic.Int64
}

func (g *fakeGauges) SetBroadcastQueueDepth(n int) { g.depth.Store(int64(n)) }
func (g *fakeGauges) SetBroadcastClients(n int)    { g.clients.Store(int64(n)) }

func runHub(t *testing.T, h *Hub) (wait func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(context.Background())
	}()
	return func() {
		h.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not stop")
		}
	}
}

func TestHubSnapshotPrecedesLaterEvents(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := &fakeClient{}

	h.Publish(domain.StateEvent(domain.StateListening))
	h.Register(c, domain.StateEvent(domain.StateListening), domain.CharacterEvent(domain.Roster{Current: "robot"}))
	h.Publish(domain.StateEvent(domain.StateProcessing))

	wait := runHub(t, h)
	wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.events, 3)
	assert.Equal(t, domain.EventStateUpdate, c.events[0].Type)
	assert.Equal(t, "Listening", c.events[0].State)
	assert.Equal(t, domain.EventCharacterUpdate, c.events[1].Type)
	assert.Equal(t, "Processing", c.events[2].State)
}

func TestHubPublishNeverDrops(t *testing.T) {
	g := &fakeGauges{}
	h := NewHub(zaptest.NewLogger(t), g)
	c := &fakeClient{}
	h.Register(c)

	const n = 1000
	for i := 0; i < n; i++ {
		h.Publish(domain.StateEvent(domain.StateIdle))
	}
	assert.EqualValues(t, n+1, g.depth.Load())

	wait := runHub(t, h)
	wait()

	c.mu.Lock()
	assert.Len(t, c.events, n)
	c.mu.Unlock()
	assert.Zero(t, g.depth.Load())
}

func TestHubUnregistersFailingClient(t *testing.T) {
	g := &fakeGauges{}
	h := NewHub(zaptest.NewLogger(t), g)
	good := &fakeClient{}
	bad := &fakeClient{failAt: 2}
	h.Register(good)
	h.Register(bad)
	wait := runHub(t, h)

	h.Publish(domain.StateEvent(domain.StateListening))
	h.Publish(domain.StateEvent(domain.StateProcessing))
	h.Publish(domain.StateEvent(domain.StateIdle))

	require.Eventually(t, func() bool {
		return len(good.states()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Clients())
	assert.EqualValues(t, 1, g.clients.Load())
	assert.True(t, bad.closed.Load())
	assert.Equal(t, []string{"Listening"}, bad.states())

	wait()
	assert.True(t, good.closed.Load())
	assert.Zero(t, h.Clients())
}

func TestHubFailedSnapshotNeverRegisters(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := &fakeClient{failAt: 1}
	h.Register(c, domain.StateEvent(domain.StateIdle))
	wait := runHub(t, h)
	wait()
	assert.True(t, c.closed.Load())
	assert.Zero(t, h.Clients())
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	c := &fakeClient{}
	h.Register(c)
	h.Unregister(c)
	h.Publish(domain.StateEvent(domain.StateIdle))
	wait := runHub(t, h)
	wait()
	assert.Empty(t, c.states())
	assert.True(t, c.closed.Load())
}

func TestHubSinkFailureKeepsSink(t *testing.T) {
	s := &fakeSink{err: errors.New("down")}
	h := NewHub(zaptest.NewLogger(t), nil, s)
	h.Publish(domain.StateEvent(domain.StateListening))
	h.Publish(domain.StateEvent(domain.StateIdle))
	wait := runHub(t, h)
	wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.events, 2)
}

func TestHubStopsOnContextCancel(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop on cancel")
	}

	c := &fakeClient{}
	h.Register(c)
	assert.True(t, c.closed.Load())
}

// slowCloseClient blocks in Close until released, like a websocket close
// handshake against an unresponsive peer.
type slowCloseClient struct {
	fakeClient
	release chan struct{}
}

func (c *slowCloseClient) Close() error {
	<-c.release
	return c.fakeClient.Close()
}

func TestHubEnqueueDoesNoIOUnderLock(t *testing.T) {
	var h *Hub
	var warnings atomic.Int32
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.Hooks(func(e zapcore.Entry) error {
		// Re-entering the hub from the log path deadlocks if enqueue logs under h.mu.
		_ = h.Clients()
		if e.Level == zapcore.WarnLevel {
			warnings.Add(1)
		}
		return nil
	})))
	h = NewHub(logger, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= HighWater; i++ {
			h.Publish(domain.StateEvent(domain.StateIdle))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
	assert.EqualValues(t, 1, warnings.Load())
}

func TestHubRegisterAfterCloseDoesNotBlock(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	h.Close()

	c := &slowCloseClient{release: make(chan struct{})}
	returned := make(chan struct{})
	go func() {
		h.Register(c, domain.StateEvent(domain.StateIdle))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Register waited for the client to close")
	}

	close(c.release)
	require.Eventually(t, c.closed.Load, time.Second, 5*time.Millisecond)
}
