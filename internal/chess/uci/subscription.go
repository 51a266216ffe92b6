package uci

import "sync"

// Subscription receives every engine output line read after Subscribe
// returned, in order. Delivery blocks the reader while the buffer is full,
// so a subscriber must drain Lines or Unsubscribe.
type Subscription struct {
	session *Session
	lines   chan string
	quit    chan struct{}

	unsubOnce sync.Once
	closeOnce sync.Once
}

func (s *Session) Subscribe() *Subscription {
	sub := &Subscription{
		session: s,
		lines:   make(chan string, s.subBuffer),
		quit:    make(chan struct{}),
	}
	s.subMu.Lock()
	if s.readerDone {
		sub.closeLines()
	} else {
		s.subs[sub] = struct{}{}
	}
	s.subMu.Unlock()
	return sub
}

// Lines is closed after Unsubscribe or when the engine output ends.
func (sub *Subscription) Lines() <-chan string {
	return sub.lines
}

// Unsubscribe stops delivery. No line is delivered after it returns.
func (sub *Subscription) Unsubscribe() {
	sub.unsubOnce.Do(func() {
		close(sub.quit)
		s := sub.session
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
		sub.drain()
		sub.closeLines()
	})
}

// drain discards buffered lines. Once the subscription is out of the map
// nothing sends on lines again.
func (sub *Subscription) drain() {
	for {
		select {
		case <-sub.lines:
		default:
			return
		}
	}
}

func (sub *Subscription) closeLines() {
	sub.closeOnce.Do(func() { close(sub.lines) })
}

func (s *Session) dispatch(line string) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subs {
		select {
		case sub.lines <- line:
		case <-sub.quit:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.readerDone = true
	for sub := range s.subs {
		delete(s.subs, sub)
		sub.closeLines()
	}
}
