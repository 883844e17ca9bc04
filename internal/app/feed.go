package app

import (
	"sync"

	"factcheck-challenge-service/internal/domain"
)

const subscriberBuffer = 8

// feed fans leaderboard snapshots out to live subscribers, per challenge.
// Each subscriber sees strictly increasing revisions; a snapshot loaded
// before a newer one was delivered is dropped.
type feed struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan domain.Leaderboard
	last   int64
	primed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[string]map[*subscriber]struct{})}
}

// subscribe registers an empty subscriber. The caller publishes the first
// snapshot after registering, so no mutation can fall between the two.
func (f *feed) subscribe(id string) (<-chan domain.Leaderboard, func()) {
	sub := &subscriber{ch: make(chan domain.Leaderboard, subscriberBuffer)}

	f.mu.Lock()
	if f.subs[id] == nil {
		f.subs[id] = make(map[*subscriber]struct{})
	}
	f.subs[id][sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		set := f.subs[id]
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		close(sub.ch)
		if len(set) == 0 {
			delete(f.subs, id)
		}
	}
	return sub.ch, cancel
}

func (f *feed) active(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id]) > 0
}

// publish never blocks: a full subscriber loses its oldest snapshot.
func (f *feed) publish(id string, lb domain.Leaderboard) {
	rev := lb.Challenge.Revision
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[id] {
		if sub.primed && rev <= sub.last {
			continue
		}
		sub.primed, sub.last = true, rev
		select {
		case sub.ch <- lb:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- lb
		}
	}
}
