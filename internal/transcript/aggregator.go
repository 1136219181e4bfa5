// Package transcript turns the live transcription feed into a rolling
// transcript and detects conversational turns in it.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/chadiek/improv/internal/domain"
)

// Rolling window modes for Render.
const (
	ModeLines   = "lines"
	ModeSeconds = "seconds"
)

const defaultMaxStored = 256

// Line is one finalized transcript entry.
type Line struct {
	Seq  int
	Text string
	End  float64
}

// AggregatorConfig controls storage and rendering.
type AggregatorConfig struct {
	Mode           string
	Lines          int
	Window         time.Duration
	PauseThreshold time.Duration
	MaxStored      int
	// Suppressed reports whether input should be ignored, typically while the
	// character is talking.
	Suppressed func() bool
	Now        func() time.Time
}

// Aggregator reconciles repeated segment snapshots into finalized lines plus
// one tentative slot.
//
// Snapshots may redeliver, complete or extend earlier segments, and the feed
// may send only its most recent segments. A completed segment is new when it
// ends after the last reconciled one. Segments that began before the last
// suppressed snapshot ended are ignored entirely.
type Aggregator struct {
	cfg AggregatorConfig

	mu        sync.Mutex
	lines     []Line
	nextSeq   int
	gathered  int
	tentative string
	cursor    float64
	floor     float64
	start     time.Time
	lastVoice time.Time
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Mode != ModeSeconds {
		cfg.Mode = ModeLines
	}
	if cfg.Lines <= 0 {
		cfg.Lines = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = 2 * time.Second
	}
	if cfg.MaxStored < cfg.Lines {
		cfg.MaxStored = defaultMaxStored
	}
	now := cfg.Now()
	return &Aggregator{cfg: cfg, start: now, lastVoice: now}
}

// ResetFeed is called when the feed (re)connects: its timestamps restart at
// zero, so the reconciliation cursors and the running clock restart too.
// Stored lines are kept.
func (a *Aggregator) ResetFeed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursor = 0
	a.floor = 0
	a.tentative = ""
	a.start = a.cfg.Now()
}

// Update reconciles one snapshot. It reports whether the rolling transcript
// changed. Only a change resets the silence timer.
func (a *Aggregator) Update(segs []domain.Segment) bool {
	suppressed := a.cfg.Suppressed != nil && a.cfg.Suppressed()

	a.mu.Lock()
	defer a.mu.Unlock()

	if suppressed {
		for _, s := range segs {
			if s.End > a.floor {
				a.floor = s.End
			}
		}
		if a.floor > a.cursor {
			a.cursor = a.floor
		}
		changed := a.tentative != ""
		a.tentative = ""
		a.gathered = a.nextSeq
		return changed
	}

	changed := false
	tentative := ""
	for _, s := range segs {
		if s.Start < a.floor {
			continue
		}
		text := strings.TrimSpace(s.Text)
		if !s.Completed {
			if text != "" {
				tentative = text
			}
			continue
		}
		if s.End <= a.cursor {
			continue
		}
		a.cursor = s.End
		if text == "" {
			continue
		}
		if n := len(a.lines); n > 0 && a.lines[n-1].Text == text {
			continue
		}
		a.appendLine(Line{Seq: a.nextSeq, Text: text, End: s.End})
		changed = true
	}
	if tentative != a.tentative {
		a.tentative = tentative
		changed = true
	}
	if changed {
		a.lastVoice = a.cfg.Now()
	}
	return changed
}

func (a *Aggregator) appendLine(l Line) {
	a.nextSeq++
	a.lines = append(a.lines, l)
	if extra := len(a.lines) - a.cfg.MaxStored; extra > 0 {
		a.lines = append([]Line(nil), a.lines[extra:]...)
	}
}

// CheckTurn declares a turn boundary when the silence since the last change
// exceeds the pause threshold and finalized text is waiting. It returns the
// gathered text and restarts the silence timer, so one pause fires once.
func (a *Aggregator) CheckTurn(now time.Time) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if now.Sub(a.lastVoice) <= a.cfg.PauseThreshold || a.gathered >= a.nextSeq {
		return "", false
	}
	var parts []string
	for _, l := range a.lines {
		if l.Seq >= a.gathered {
			parts = append(parts, l.Text)
		}
	}
	a.gathered = a.nextSeq
	a.lastVoice = now
	text := strings.TrimSpace(strings.Join(parts, " "))
	return text, text != ""
}

// Render returns the rolling window followed by the tentative text, one entry per line.
func (a *Aggregator) Render() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []string
	switch a.cfg.Mode {
	case ModeSeconds:
		clock := a.cfg.Now().Sub(a.start).Seconds()
		from := clock - a.cfg.Window.Seconds()
		for _, l := range a.lines {
			if l.End >= from {
				out = append(out, l.Text)
			}
		}
	default:
		lines := a.lines
		if len(lines) > a.cfg.Lines {
			lines = lines[len(lines)-a.cfg.Lines:]
		}
		for _, l := range lines {
			out = append(out, l.Text)
		}
	}
	if a.tentative != "" {
		out = append(out, a.tentative)
	}
	return strings.Join(out, "\n")
}

// Lines returns a copy of the stored finalized lines.
func (a *Aggregator) Lines() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Line(nil), a.lines...)
}

// Tentative returns the current tentative text.
func (a *Aggregator) Tentative() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tentative
}
