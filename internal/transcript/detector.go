package transcript

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
)

// DefaultPollInterval is how often the detector checks for a pause.
const DefaultPollInterval = 100 * time.Millisecond

// TurnSink receives the text of every detected turn.
type TurnSink func(text string) error

// TranscriptWriter publishes the rendered rolling transcript.
type TranscriptWriter interface {
	WriteTranscript(text string) error
}

// DetectorMetrics counts snapshots and detected turns.
type DetectorMetrics interface {
	SnapshotReceived()
	TurnDetected()
}

// Detector is the single task that owns an Aggregator: it applies incoming
// snapshots and polls for turn boundaries.
type Detector struct {
	agg     *Aggregator
	poll    time.Duration
	sink    TurnSink
	writer  TranscriptWriter
	metrics DetectorMetrics
	now     func() time.Time
	logger  *zap.Logger
}

func NewDetector(agg *Aggregator, poll time.Duration, sink TurnSink, writer TranscriptWriter, metrics DetectorMetrics, logger *zap.Logger) *Detector {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		agg:     agg,
		poll:    poll,
		sink:    sink,
		writer:  writer,
		metrics: metrics,
		now:     agg.cfg.Now,
		logger:  logger.With(zap.String("component", "turn-detector")),
	}
}

// Run consumes snapshots until ctx is done or the snapshot channel closes.
// A nil snapshot signals a feed reconnect.
func (d *Detector) Run(ctx context.Context, snapshots <-chan []domain.Segment) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case segs, ok := <-snapshots:
			if !ok {
				return nil
			}
			d.Apply(segs)
		case <-ticker.C:
			d.Check()
		}
	}
}

// Apply reconciles one snapshot and refreshes the transcript file when it changed.
func (d *Detector) Apply(segs []domain.Segment) {
	if segs == nil {
		d.agg.ResetFeed()
		d.logger.Info("live feed reset")
		d.render()
		return
	}
	if d.metrics != nil {
		d.metrics.SnapshotReceived()
	}
	if d.agg.Update(segs) {
		d.render()
	}
}

// Check fires at most one turn.
func (d *Detector) Check() {
	text, ok := d.agg.CheckTurn(d.now())
	if !ok {
		return
	}
	if d.metrics != nil {
		d.metrics.TurnDetected()
	}
	d.logger.Info("turn detected", zap.String("text", text))
	if d.sink == nil {
		return
	}
	if err := d.sink(text); err != nil {
		d.logger.Warn("enqueue turn failed", zap.Error(err))
	}
}

func (d *Detector) render() {
	if d.writer == nil {
		return
	}
	if err := d.writer.WriteTranscript(d.agg.Render()); err != nil {
		d.logger.Warn("write transcript failed", zap.Error(err))
	}
}
