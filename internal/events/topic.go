// Package events provides the synchronous publish/subscribe bus that carries
// map and storage change notifications into workers and telemetry out of them.
//
// Dispatch is single-threaded: Publish calls every live subscriber in
// subscription order before returning. Callers that share a bus across
// goroutines must serialize access themselves.
package events

// Topic is a typed channel of notifications.
type Topic[T any] struct {
	subs []*subscriber[T]
}

type subscriber[T any] struct {
	fn     func(T)
	active bool
}

// Subscription cancels one Subscribe call.
type Subscription struct {
	cancel func()
}

// Cancel removes the subscriber. Safe to call more than once, and safe to
// call from inside a handler during Publish.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers fn and returns its cancellation handle.
func (t *Topic[T]) Subscribe(fn func(T)) Subscription {
	sub := &subscriber[T]{fn: fn, active: true}
	t.subs = append(t.subs, sub)
	return Subscription{cancel: func() { t.remove(sub) }}
}

func (t *Topic[T]) remove(sub *subscriber[T]) {
	if !sub.active {
		return
	}
	sub.active = false
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber registered at call time.
// Subscribers cancelled mid-dispatch are skipped.
func (t *Topic[T]) Publish(v T) {
	if len(t.subs) == 0 {
		return
	}
	snapshot := make([]*subscriber[T], len(t.subs))
	copy(snapshot, t.subs)
	for _, s := range snapshot {
		if s.active {
			s.fn(v)
		}
	}
}

// Len returns the number of live subscribers.
func (t *Topic[T]) Len() int {
	return len(t.subs)
}

// Group collects subscriptions so an owner can drop them all at once.
type Group []Subscription

// Add records s.
func (g *Group) Add(s Subscription) {
	*g = append(*g, s)
}

// Cancel cancels every recorded subscription and empties the group.
func (g *Group) Cancel() {
	for _, s := range *g {
		s.Cancel()
	}
	*g = nil
}
