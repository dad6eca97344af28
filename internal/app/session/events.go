package session

type EventKind string

const (
	EventState   EventKind = "state"
	EventStreams EventKind = "streams"
	EventLocal   EventKind = "local"
	EventError   EventKind = "error"
)

type Event struct {
	Kind  EventKind
	State State
	Err   error
}

// Subscribe registers fn for every session event. fn runs synchronously on
// the goroutine that caused the change and must not block.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) emit(e Event) {
	s.subsMu.Lock()
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

// emitError is the engine error path: failures are also returned to the caller.
func (s *Session) emitError(err error) {
	s.logger.Error().Err(err).Msg("session error")
	s.emit(Event{Kind: EventError, Err: err})
}
