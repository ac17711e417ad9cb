// Package notify collects transient event records emitted by the engine.
// The engine only emits; whether a consumer displays a notification never
// feeds back into simulation state.
package notify

import "github.com/google/uuid"

// Kind classifies a notification for display and filtering.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is a single event record. Ref carries a correlation id
// (loan id or symbol) so consumers can deduplicate or filter.
type Notification struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	// TTL is the lifetime in cycles; 0 means it must be dismissed explicitly.
	TTL   int    `json:"ttl"`
	Ref   string `json:"ref,omitempty"`
	Cycle int    `json:"cycle"`
}

// New builds a notification with a fresh id.
func New(kind Kind, title, message string, ttl int, ref string) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Kind:    kind,
		Title:   title,
		Message: message,
		TTL:     ttl,
		Ref:     ref,
	}
}

// Feed is a bounded in-memory notification store. Oldest entries are
// evicted once capacity is reached.
type Feed struct {
	items   []Notification
	maxSize int
}

// NewFeed creates a feed with the given capacity.
func NewFeed(maxSize int) *Feed {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Feed{
		items:   make([]Notification, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add stamps the notification with the emitting cycle and stores it.
func (f *Feed) Add(n Notification, cycle int) {
	n.Cycle = cycle
	f.items = append(f.items, n)
	if len(f.items) > f.maxSize {
		f.items = f.items[len(f.items)-f.maxSize:]
	}
}

// All returns a copy of the stored notifications, oldest first.
func (f *Feed) All() []Notification {
	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Dismiss removes a notification by id. Unknown ids are a no-op.
func (f *Feed) Dismiss(id string) {
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return
		}
	}
}

// DismissRef removes every notification correlated to ref.
func (f *Feed) DismissRef(ref string) {
	kept := f.items[:0]
	for _, n := range f.items {
		if n.Ref != ref {
			kept = append(kept, n)
		}
	}
	f.items = kept
}

// Expire drops notifications whose TTL has elapsed by the given cycle.
// TTL 0 entries persist until dismissed.
func (f *Feed) Expire(cycle int) {
	kept := f.items[:0]
	for _, n := range f.items {
		if n.TTL == 0 || cycle-n.Cycle < n.TTL {
			kept = append(kept, n)
		}
	}
	f.items = kept
}

// Len returns the number of stored notifications.
func (f *Feed) Len() int {
	return len(f.items)
}

// Restore replaces the feed contents wholesale, trimming to capacity.
func (f *Feed) Restore(items []Notification) {
	if len(items) > f.maxSize {
		items = items[len(items)-f.maxSize:]
	}
	f.items = append(f.items[:0], items...)
}
