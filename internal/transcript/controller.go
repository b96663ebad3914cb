// Package transcript turns cumulative transcription fragments into ordered
// caption updates, one open turn per conversation side.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/convoai/internal/model"
)

// DefaultRevealInterval reveals roughly 7.7 characters per second.
const DefaultRevealInterval = 130 * time.Millisecond

var sides = []model.TranscriptType{model.TranscriptUser, model.TranscriptAgent}

// Fragment is one cumulative transcription update.
type Fragment struct {
	TurnID int64
	Text   string
	Status model.TranscriptStatus
	Type   model.TranscriptType
	UserID string
}

// Options configures a Controller.
type Options struct {
	RenderMode     model.RenderMode
	RevealInterval time.Duration
}

type turn struct {
	transcript model.Transcript
	full       []rune
	revealed   int
}

func (t *turn) visible() string {
	return string(t.full[:t.revealed])
}

// Controller holds at most one open transcript per side. In word render mode
// text is revealed one rune per Tick; in text mode it is surfaced at once.
type Controller struct {
	mu         sync.Mutex
	mode       model.RenderMode
	interval   time.Duration
	emit       func(model.Transcript)
	open       map[model.TranscriptType]*turn
	lastClosed map[model.TranscriptType]int64
	generation uint64
}

// NewController creates a controller that reports every visible change to
// emit. emit is never called with the controller lock held.
func NewController(opts Options, emit func(model.Transcript)) *Controller {
	if opts.RenderMode == "" {
		opts.RenderMode = model.RenderModeText
	}
	if opts.RevealInterval <= 0 {
		opts.RevealInterval = DefaultRevealInterval
	}
	if emit == nil {
		emit = func(model.Transcript) {}
	}
	return &Controller{
		mode:       opts.RenderMode,
		interval:   opts.RevealInterval,
		emit:       emit,
		open:       make(map[model.TranscriptType]*turn),
		lastClosed: make(map[model.TranscriptType]int64),
	}
}

// RenderMode returns the configured render mode.
func (c *Controller) RenderMode() model.RenderMode {
	return c.mode
}

// Ingest applies a fragment. A fragment for a newer turn finalizes the open
// turn of the same side; fragments for older or already finalized turns are
// dropped. It reports whether the fragment was applied.
func (c *Controller) Ingest(f Fragment) bool {
	var out []model.Transcript
	applied := c.ingest(f, nil, &out)
	c.flush(out)
	return applied
}

// IngestAt is Ingest that drops f when Reset was called after gen was read
// from Generation.
func (c *Controller) IngestAt(gen uint64, f Fragment) bool {
	var out []model.Transcript
	applied := c.ingest(f, &gen, &out)
	c.flush(out)
	return applied
}

func (c *Controller) ingest(f Fragment, gen *uint64, out *[]model.Transcript) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != nil && *gen != c.generation {
		return false
	}
	if last, ok := c.lastClosed[f.Type]; ok && f.TurnID <= last {
		return false
	}

	cur := c.open[f.Type]
	if cur != nil && f.TurnID < cur.transcript.TurnID {
		return false
	}
	if cur != nil && f.TurnID > cur.transcript.TurnID {
		*out = append(*out, c.finalize(cur, model.TranscriptEnd))
		cur = nil
	}

	created := false
	if cur == nil {
		cur = &turn{transcript: model.Transcript{
			TurnID:     f.TurnID,
			UserID:     f.UserID,
			Status:     model.TranscriptInProgress,
			Type:       f.Type,
			RenderMode: c.mode,
		}}
		c.open[f.Type] = cur
		created = true
	}

	before := cur.visible()
	current := string(cur.full)
	switch {
	case len(f.Text) < len(current) && strings.HasPrefix(current, f.Text):
		// Cumulative text never shrinks within a turn; a strict prefix is a resend.
	case c.mode == model.RenderModeWord && !strings.HasPrefix(f.Text, before):
		// Revealed text is never rewritten.
	default:
		cur.full = []rune(f.Text)
	}
	switch {
	case c.mode != model.RenderModeWord:
		cur.revealed = len(cur.full)
	case cur.revealed > len(cur.full):
		cur.revealed = len(cur.full)
	case created && len(cur.full) > 0:
		cur.revealed = 1
	}

	if f.Status.Final() {
		*out = append(*out, c.finalize(cur, f.Status))
		return true
	}

	cur.transcript.Text = cur.visible()
	if created || cur.transcript.Text != before {
		*out = append(*out, cur.transcript)
	}
	return true
}

// OnInterrupt marks the open agent turn as interrupted when its id matches
// turnID. Any other turn is left untouched.
func (c *Controller) OnInterrupt(turnID int64) bool {
	return c.interrupt(turnID, nil)
}

// OnInterruptAt is OnInterrupt guarded by a generation, like IngestAt.
func (c *Controller) OnInterruptAt(gen uint64, turnID int64) bool {
	return c.interrupt(turnID, &gen)
}

func (c *Controller) interrupt(turnID int64, gen *uint64) bool {
	c.mu.Lock()
	if gen != nil && *gen != c.generation {
		c.mu.Unlock()
		return false
	}
	cur := c.open[model.TranscriptAgent]
	if cur == nil || cur.transcript.TurnID != turnID {
		c.mu.Unlock()
		return false
	}
	final := c.finalize(cur, model.TranscriptInterrupted)
	c.mu.Unlock()

	c.emit(final)
	return true
}

// Tick reveals one more rune of every open turn in word mode.
func (c *Controller) Tick() {
	if c.mode != model.RenderModeWord {
		return
	}

	var out []model.Transcript
	c.mu.Lock()
	for _, side := range sides {
		cur := c.open[side]
		if cur == nil || cur.revealed >= len(cur.full) {
			continue
		}
		cur.revealed++
		cur.transcript.Text = cur.visible()
		out = append(out, cur.transcript)
	}
	c.mu.Unlock()

	c.flush(out)
}

// Run drives Tick until ctx is done. It returns immediately in text mode.
func (c *Controller) Run(ctx context.Context) {
	if c.mode != model.RenderModeWord {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Open returns the open transcript for a side.
func (c *Controller) Open(side model.TranscriptType) (model.Transcript, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.open[side]
	if !ok {
		return model.Transcript{}, false
	}
	return cur.transcript, true
}

// Reset forgets all open and finalized turns without emitting and starts a
// new generation.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.open = make(map[model.TranscriptType]*turn)
	c.lastClosed = make(map[model.TranscriptType]int64)
	c.generation++
	c.mu.Unlock()
}

// Generation identifies the state since the last Reset.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// finalize must be called with c.mu held.
func (c *Controller) finalize(cur *turn, status model.TranscriptStatus) model.Transcript {
	if !status.Final() {
		status = model.TranscriptEnd
	}
	cur.revealed = len(cur.full)
	cur.transcript.Text = string(cur.full)
	cur.transcript.Status = status

	c.lastClosed[cur.transcript.Type] = cur.transcript.TurnID
	delete(c.open, cur.transcript.Type)
	return cur.transcript
}

func (c *Controller) flush(out []model.Transcript) {
	for _, t := range out {
		c.emit(t)
	}
}
