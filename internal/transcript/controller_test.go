package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/convoai/internal/model"
)

type sink struct {
	got []model.Transcript
}

func (s *sink) emit(t model.Transcript) { s.got = append(s.got, t) }

func (s *sink) texts() []string {
	out := make([]string, 0, len(s.got))
	for _, t := range s.got {
		out = append(out, t.Text)
	}
	return out
}

func (s *sink) last() model.Transcript { return s.got[len(s.got)-1] }

func agent(turnID int64, text string, status model.TranscriptStatus) Fragment {
	return Fragment{TurnID: turnID, Text: text, Status: status, Type: model.TranscriptAgent}
}

func TestIngest_CumulativeFragmentsThenEnd(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	for _, text := range []string{"H", "He", "Hell", "Hello"} {
		require.True(t, c.Ingest(agent(5, text, model.TranscriptInProgress)))
	}
	c.Ingest(agent(5, "Hello", model.TranscriptEnd))

	assert.Equal(t, []string{"H", "He", "Hell", "Hello", "Hello"}, s.texts())
	assert.Equal(t, model.TranscriptEnd, s.last().Status)
	assert.Equal(t, int64(5), s.last().TurnID)
	_, open := c.Open(model.TranscriptAgent)
	assert.False(t, open)
}

func TestIngest_NewTurnFinalizesPrevious(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(5, "Hello", model.TranscriptInProgress))
	c.Ingest(agent(6, "Next", model.TranscriptInProgress))

	require.Len(t, s.got, 3)
	assert.Equal(t, model.Transcript{TurnID: 5, Text: "Hello", Status: model.TranscriptEnd, Type: model.TranscriptAgent, RenderMode: model.RenderModeText}, s.got[1])
	assert.Equal(t, int64(6), s.got[2].TurnID)
	assert.Equal(t, model.TranscriptInProgress, s.got[2].Status)
}

func TestIngest_StalePrefixResendDoesNotFlicker(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(5, "Hello", model.TranscriptInProgress))
	c.Ingest(agent(5, "Hel", model.TranscriptInProgress))
	c.Ingest(agent(5, "Hel", model.TranscriptEnd))

	assert.Equal(t, []string{"Hello", "Hello"}, s.texts())
	assert.Equal(t, model.TranscriptEnd, s.last().Status)
}

func TestIngest_DuplicateFragmentEmitsOnce(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(1, "same", model.TranscriptInProgress))
	c.Ingest(agent(1, "same", model.TranscriptInProgress))

	assert.Len(t, s.got, 1)
}

func TestIngest_FinalizedTurnIsNotResurrected(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(5, "Hello", model.TranscriptEnd))
	assert.False(t, c.Ingest(agent(5, "Hello again", model.TranscriptInProgress)))
	assert.False(t, c.Ingest(agent(4, "older", model.TranscriptInProgress)))

	assert.Len(t, s.got, 1)
}

func TestIngest_OlderTurnThanOpenIsDropped(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(6, "six", model.TranscriptInProgress))
	assert.False(t, c.Ingest(agent(5, "five", model.TranscriptInProgress)))

	open, ok := c.Open(model.TranscriptAgent)
	require.True(t, ok)
	assert.Equal(t, int64(6), open.TurnID)
}

func TestIngest_SidesAreIndependent(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(Fragment{TurnID: 3, Text: "what time", Type: model.TranscriptUser, Status: model.TranscriptInProgress})
	c.Ingest(agent(3, "It is", model.TranscriptInProgress))

	user, ok := c.Open(model.TranscriptUser)
	require.True(t, ok)
	assert.Equal(t, "what time", user.Text)
	assert.Len(t, s.got, 2)
}

func TestOnInterrupt_MismatchedTurnIsIsolated(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(6, "Speaking now", model.TranscriptInProgress))
	assert.False(t, c.OnInterrupt(5))

	open, ok := c.Open(model.TranscriptAgent)
	require.True(t, ok)
	assert.Equal(t, model.TranscriptInProgress, open.Status)
	assert.Len(t, s.got, 1)
}

func TestOnInterrupt_MatchingTurn(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	c.Ingest(agent(6, "Speaking now", model.TranscriptInProgress))
	require.True(t, c.OnInterrupt(6))

	assert.Equal(t, model.TranscriptInterrupted, s.last().Status)
	assert.Equal(t, "Speaking now", s.last().Text)
	assert.False(t, c.Ingest(agent(6, "Speaking now and more", model.TranscriptInProgress)))
}

func TestOnInterrupt_DoesNotTouchUserSide(t *testing.T) {
	c := NewController(Options{}, nil)
	c.Ingest(Fragment{TurnID: 2, Text: "hey", Type: model.TranscriptUser})

	assert.False(t, c.OnInterrupt(2))
}

func TestWordMode_RevealsOneRunePerTick(t *testing.T) {
	s := &sink{}
	c := NewController(Options{RenderMode: model.RenderModeWord}, s.emit)

	c.Ingest(agent(1, "Héllo", model.TranscriptInProgress))
	c.Tick()
	c.Tick()

	assert.Equal(t, []string{"H", "Hé", "Hél"}, s.texts())
	assert.Equal(t, model.RenderModeWord, s.last().RenderMode)
}

func TestWordMode_ExtensionKeepsRevealedPrefix(t *testing.T) {
	s := &sink{}
	c := NewController(Options{RenderMode: model.RenderModeWord}, s.emit)

	c.Ingest(agent(1, "Hello", model.TranscriptInProgress))
	c.Tick()
	c.Ingest(agent(1, "Hello world", model.TranscriptInProgress))
	c.Ingest(agent(1, "H", model.TranscriptInProgress))
	c.Tick()

	assert.Equal(t, []string{"H", "He", "Hel"}, s.texts())
}

func TestWordMode_RevealedTextIsNeverRewritten(t *testing.T) {
	s := &sink{}
	c := NewController(Options{RenderMode: model.RenderModeWord}, s.emit)

	c.Ingest(agent(1, "Hello world", model.TranscriptInProgress))
	for i := 0; i < 6; i++ {
		c.Tick()
	}
	require.Equal(t, "Hello w", s.last().Text)
	emitted := len(s.got)

	c.Ingest(agent(1, "Help", model.TranscriptInProgress))
	assert.Len(t, s.got, emitted)
	open, ok := c.Open(model.TranscriptAgent)
	require.True(t, ok)
	assert.Equal(t, "Hello w", open.Text)

	c.Tick()
	assert.Equal(t, "Hello wo", s.last().Text)

	c.Ingest(agent(1, "Help", model.TranscriptEnd))
	assert.Equal(t, "Hello world", s.last().Text)
	assert.Equal(t, model.TranscriptEnd, s.last().Status)
}

func TestWordMode_InterruptShowsFullTextImmediately(t *testing.T) {
	s := &sink{}
	c := NewController(Options{RenderMode: model.RenderModeWord}, s.emit)

	c.Ingest(agent(1, "Hello world", model.TranscriptInProgress))
	c.Tick()
	require.Equal(t, "He", s.last().Text)

	require.True(t, c.OnInterrupt(1))
	assert.Equal(t, "Hello world", s.last().Text)
	assert.Equal(t, model.TranscriptInterrupted, s.last().Status)

	emitted := len(s.got)
	c.Tick()
	assert.Len(t, s.got, emitted)
}

func TestGeneration_StaleFragmentsAreDropped(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)

	gen := c.Generation()
	require.True(t, c.IngestAt(gen, agent(1, "Hi", model.TranscriptInProgress)))

	c.Reset()
	assert.NotEqual(t, gen, c.Generation())
	assert.False(t, c.IngestAt(gen, agent(1, "Hi there", model.TranscriptInProgress)))
	assert.False(t, c.OnInterruptAt(gen, 1))
	_, ok := c.Open(model.TranscriptAgent)
	assert.False(t, ok)
	assert.Len(t, s.got, 1)

	assert.True(t, c.IngestAt(c.Generation(), agent(1, "Hi there", model.TranscriptInProgress)))
	assert.Len(t, s.got, 2)
}

func TestWordMode_EndShowsFullTextImmediately(t *testing.T) {
	s := &sink{}
	c := NewController(Options{RenderMode: model.RenderModeWord}, s.emit)

	c.Ingest(agent(1, "Hello world", model.TranscriptInProgress))
	c.Ingest(agent(1, "Hello world", model.TranscriptEnd))
	c.Tick()

	assert.Equal(t, []string{"H", "Hello world"}, s.texts())
	assert.Equal(t, model.TranscriptEnd, s.last().Status)
}

func TestWordMode_NewTurnFlushesPrevious(t *testing.T) {
	s := &sink{}
	c := NewController(Options{RenderMode: model.RenderModeWord}, s.emit)

	c.Ingest(agent(1, "First answer", model.TranscriptInProgress))
	c.Ingest(agent(2, "Second", model.TranscriptInProgress))

	require.Len(t, s.got, 3)
	assert.Equal(t, "First answer", s.got[1].Text)
	assert.Equal(t, model.TranscriptEnd, s.got[1].Status)
	assert.Equal(t, "S", s.got[2].Text)
}

func TestTick_NoopInTextMode(t *testing.T) {
	s := &sink{}
	c := NewController(Options{}, s.emit)
	c.Ingest(agent(1, "Hello", model.TranscriptInProgress))
	c.Tick()

	assert.Len(t, s.got, 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := NewController(Options{RenderMode: model.RenderModeWord, RevealInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReset_ForgetsFinalizedTurns(t *testing.T) {
	c := NewController(Options{}, nil)
	c.Ingest(agent(5, "done", model.TranscriptEnd))
	c.Reset()

	assert.True(t, c.Ingest(agent(5, "again", model.TranscriptInProgress)))
}
