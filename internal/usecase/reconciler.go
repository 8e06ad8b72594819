package usecase

import (
	"strings"
	"time"

	"voxstream/internal/domain"
	"voxstream/internal/ports"
)

// ResultReconciler turns partial/final events into an append-only transcript.
//
// It is not safe for concurrent use; the inbound delivery path owns it.
type ResultReconciler struct {
	startedAt   time.Time
	now         func() time.Time
	onFirstWord func(time.Duration)

	lastSegment    string
	hasLastSegment bool

	firstObserved bool
	firstWord     time.Duration

	currentPartial string
	committed      []string
}

func NewResultReconciler(startedAt time.Time, now func() time.Time, onFirstWord func(time.Duration)) *ResultReconciler {
	if now == nil {
		now = time.Now
	}
	return &ResultReconciler{startedAt: startedAt, now: now, onFirstWord: onFirstWord}
}

// Handle applies one event and returns what the display should do.
//
// Finals are deduplicated by segment identity only, never by text, so a
// speaker repeating the same words in a new segment is kept. A final without
// a segment token is always committed.
func (r *ResultReconciler) Handle(event domain.TranscriptEvent) domain.RenderInstruction {
	if strings.TrimSpace(event.Text) == "" {
		return domain.NoOp
	}

	if !r.firstObserved {
		r.firstObserved = true
		r.firstWord = r.now().Sub(r.startedAt)
		if r.onFirstWord != nil {
			r.onFirstWord(r.firstWord)
		}
	}

	switch event.Kind {
	case domain.TranscriptKindPartial:
		r.currentPartial = event.Text
		return domain.OverwriteCurrentLine(event.Text)
	case domain.TranscriptKindFinal:
		if event.HasSegment() && r.hasLastSegment && event.Segment == r.lastSegment {
			return domain.NoOp
		}
		r.lastSegment = event.Segment
		r.hasLastSegment = event.HasSegment()
		r.currentPartial = ""
		r.committed = append(r.committed, event.Text)
		return domain.CommitLine(event.Text)
	default:
		return domain.NoOp
	}
}

// Transcript returns the committed lines in order.
func (r *ResultReconciler) Transcript() []string {
	out := make([]string, len(r.committed))
	copy(out, r.committed)
	return out
}

// CurrentPartial returns the uncommitted line shown on screen, or "" if none.
func (r *ResultReconciler) CurrentPartial() string {
	return r.currentPartial
}

// FirstWord reports the time from streaming start to the first non-empty event.
func (r *ResultReconciler) FirstWord() (time.Duration, bool) {
	return r.firstWord, r.firstObserved
}

func consumeTranscriptEvents(
	transport ports.Transport,
	reconciler *ResultReconciler,
	renderer ports.Renderer,
	done chan struct{},
) {
	defer close(done)

	for event := range transport.Events() {
		instruction := reconciler.Handle(event)
		if instruction.Op == domain.RenderNoOp {
			continue
		}
		renderer.Render(instruction)
	}
}
