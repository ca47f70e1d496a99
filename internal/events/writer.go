package events

import (
	"sync"
	"time"

	"momentum/internal/logger"
)

// Notification types emitted by the dispatcher.
const (
	TypeRender       = "render"
	TypeLevelUp      = "level.up"
	TypeSkillLevelUp = "skill.level_up"
	TypeGoalComplete = "goal.completed"
	TypeAccessDenied = "auth.denied"
	TypeLogout       = "session.logout"
	TypeStateLoaded  = "state.loaded"
)

type Payload map[string]any

type Notification struct {
	TS         string  `json:"ts" format:"date-time"`
	Type       string  `json:"type"`
	EntityKind string  `json:"entity_kind,omitempty"`
	EntityID   string  `json:"entity_id,omitempty"`
	Payload    Payload `json:"payload,omitempty"`
}

type Sink interface {
	Notify(Notification)
}

type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

type Writer struct {
	Now   func() time.Time
	Sinks []Sink
}

// Stamp builds a notification without delivering it.
func (w Writer) Stamp(evtType, entityKind, entityID string, payload Payload) Notification {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	return Notification{
		TS:         now().UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		Payload:    payload,
	}
}

// Notify delivers ns, in order, to every sink.
func (w Writer) Notify(ns ...Notification) {
	for _, n := range ns {
		for _, s := range w.Sinks {
			s.Notify(n)
		}
	}
}

// Append stamps a notification and fans it out to every sink.
func (w Writer) Append(evtType, entityKind, entityID string, payload Payload) Notification {
	n := w.Stamp(evtType, entityKind, entityID, payload)
	w.Notify(n)
	return n
}

// Log returns a sink that records notifications at info level.
func Log(log *logger.Logger) Sink {
	return SinkFunc(func(n Notification) {
		log.Info("notification", "type", n.Type, "entity_kind", n.EntityKind, "entity_id", n.EntityID, "payload", map[string]any(n.Payload))
	})
}

// Buffer keeps the most recent notifications, up to Max (unbounded when 0).
type Buffer struct {
	Max int

	mu    sync.Mutex
	items []Notification
}

func (b *Buffer) Notify(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
	if b.Max > 0 && len(b.items) > b.Max {
		b.items = append([]Notification(nil), b.items[len(b.items)-b.Max:]...)
	}
}

func (b *Buffer) Items() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notification(nil), b.items...)
}
