package netstate

import "sync"

// Observer reports current connectivity and publishes transitions. Subscribers
// receive the new state (true = online) on every transition; the returned
// cancel func deterministically removes the subscription.
type Observer interface {
	IsOnline() bool
	Subscribe() (<-chan bool, func())
}

// Switch is a manual Observer implementation. Transitions are published to all
// subscribers; setting the same state twice is a no-op.
type Switch struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan bool
}

func NewSwitch(online bool) *Switch {
	return &Switch{
		online: online,
		subs:   make(map[int]chan bool),
	}
}

func (s *Switch) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline flips connectivity and notifies subscribers on a transition.
// Notification is non-blocking: a subscriber that has not drained its channel
// misses intermediate states but always observes the latest one eventually
// because the channel holds one buffered element.
func (s *Switch) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online

	channels := make([]chan bool, 0, len(s.subs))
	for _, ch := range s.subs {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- online:
		default:
			// Replace the stale buffered state with the current one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

func (s *Switch) Subscribe() (<-chan bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan bool, 1)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
	return ch, cancel
}
