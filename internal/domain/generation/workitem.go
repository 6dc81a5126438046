package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// WorkItem is one serializable frame of a distributed enumeration: the
// courses still to assign, each with its valid sections, and the partial
// combination chosen so far.
type WorkItem struct {
	GenerationID uuid.UUID            `json:"generationId"`
	Remaining    []schedule.Course    `json:"remainingCourses"`
	Partial      schedule.Combination `json:"partialCombination"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// NewSeedItem builds the root item of a generation.
func NewSeedItem(generationID uuid.UUID, courses []schedule.Course) WorkItem {
	return WorkItem{
		GenerationID: generationID,
		Remaining:    courses,
		Partial:      schedule.Combination{},
		CreatedAt:    time.Now(),
	}
}

// Frame converts the item into a search frame.
func (w WorkItem) Frame() schedule.Frame {
	return schedule.Frame{Remaining: w.Remaining, Partial: w.Partial}
}

// Child builds the item for next, copying its partial so the child does not
// share storage with the parent.
func (w WorkItem) Child(next schedule.Frame) WorkItem {
	return WorkItem{
		GenerationID: w.GenerationID,
		Remaining:    next.Remaining,
		Partial:      next.Partial.Clone(),
		CreatedAt:    time.Now(),
	}
}

// Key deterministically identifies the item within the search tree. The
// course order is fixed per generation, so the ordered partial section IDs
// name exactly one frame. Redeliveries of the same item share a key.
func (w WorkItem) Key() string {
	return WorkItemKey(w.GenerationID, w.Partial.SectionIDs())
}

// WorkItemKey computes the key for a frame reached by choosing ids in order.
func WorkItemKey(generationID uuid.UUID, ids []string) string {
	h := sha256.New()
	h.Write([]byte(generationID.String()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Depth is the number of courses already assigned.
func (w WorkItem) Depth() int { return len(w.Partial) }

// EventType implements events.DomainEvent.
func (w WorkItem) EventType() events.EventType { return events.EventTypeWorkItemCreated }

// OccurredAt implements events.DomainEvent.
func (w WorkItem) OccurredAt() time.Time { return w.CreatedAt }

// FinishedEvent announces a generation reaching a terminal status.
type FinishedEvent struct {
	GenerationID uuid.UUID `json:"generationId"`
	Status       Status    `json:"status"`
	Count        int       `json:"count"`
	Reason       string    `json:"reason,omitempty"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// NewFinishedEvent builds the event for g.
func NewFinishedEvent(g *Generation) FinishedEvent {
	at := g.CompletedAt()
	if at.IsZero() {
		at = time.Now()
	}
	return FinishedEvent{
		GenerationID: g.ID(),
		Status:       g.Status(),
		Count:        g.Count(),
		Reason:       g.Reason(),
		FinishedAt:   at,
	}
}

// EventType implements events.DomainEvent.
func (e FinishedEvent) EventType() events.EventType { return events.EventTypeGenerationFinished }

// OccurredAt implements events.DomainEvent.
func (e FinishedEvent) OccurredAt() time.Time { return e.FinishedAt }
