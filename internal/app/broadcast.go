package app

import (
	"errors"
	"log/slog"
	"sync"

	"live-poll-service/internal/domain"
)

var (
	// ErrSlowConsumer is reported when a member's buffer overflowed and it was dropped.
	// The member must rejoin to receive a resync.
	ErrSlowConsumer = errors.New("subscriber fell behind and was dropped")
	// ErrSessionClosed is reported when the session ended and fan-out stopped.
	ErrSessionClosed = errors.New("session closed")
	// ErrUnsubscribed is reported when the subscriber closed its own subscription.
	ErrUnsubscribed = errors.New("unsubscribed")
)

// Subscription delivers a session's events to one connected member.
type Subscription struct {
	memberID string
	ch       chan domain.Event
	hub      *hub
	err      error
}

// MemberID is the participant (or host) the subscription belongs to.
func (s *Subscription) MemberID() string {
	return s.memberID
}

// Events returns the event stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Err explains why Events was closed. Only valid after the channel is closed.
func (s *Subscription) Err() error {
	return s.err
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s, ErrUnsubscribed)
}

// hub fans events out to the session's subscribers without ever blocking the
// publisher: a subscriber with a full buffer is dropped instead.
type hub struct {
	code   string
	buffer int
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	members map[string]int
	closed  bool
}

func newHub(code string, buffer int, logger *slog.Logger) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{
		code:   code,
		buffer: buffer,
		logger: logger,
		subs:    make(map[*Subscription]struct{}),
		members: make(map[string]int),
	}
}

func (h *hub) subscribe(memberID string) *Subscription {
	sub := &Subscription{
		memberID: memberID,
		ch:       make(chan domain.Event, h.buffer),
		hub:      h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.err = ErrSessionClosed
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	h.members[memberID]++
	return sub
}

func (h *hub) publish(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping slow subscriber",
				"session", h.code, "member", sub.memberID, "event", ev.Type, "seq", ev.Seq)
			h.removeLocked(sub, ErrSlowConsumer)
		}
	}
}

func (h *hub) remove(sub *Subscription, reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, reason)
}

func (h *hub) removeLocked(sub *Subscription, reason error) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	h.members[sub.memberID]--
	if h.members[sub.memberID] <= 0 {
		delete(h.members, sub.memberID)
	}
	sub.err = reason
	close(sub.ch)
}

// close ends every subscription; later publishes are discarded.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		h.removeLocked(sub, ErrSessionClosed)
	}
	h.closed = true
}

// subscriptions returns how many live subscriptions a member holds.
func (h *hub) subscriptions(memberID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.members[memberID]
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
