package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatter/internal/core"
)

// auditBuffer is how many events may sit between the emitting goroutines
// and the database writer before new events are dropped.
const auditBuffer = 256

// AuditSink is a core.Sink that records events asynchronously. Emit
// never blocks: events queue onto a buffered channel and a single writer
// goroutine drains it, so database latency stays out of the store's
// critical sections. Chat and whisper events are skipped entirely.
type AuditSink struct {
	store *Store
	log   zerolog.Logger

	mu     sync.Mutex
	closed bool
	events chan core.Event
	done   chan struct{}
}

// NewAuditSink starts the writer goroutine over an open store.
func NewAuditSink(st *Store, log zerolog.Logger) *AuditSink {
	s := &AuditSink{
		store:  st,
		log:    log,
		events: make(chan core.Event, auditBuffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AuditSink) run() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.store.RecordEvent(ev); err != nil {
			s.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("audit write failed")
		}
	}
}

// Emit implements core.Sink. A full queue drops the event rather than
// stalling the caller.
func (s *AuditSink) Emit(ev core.Event) {
	if ev.Kind == core.KindChat || ev.Kind == core.KindWhisper {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("kind", string(ev.Kind)).Msg("audit queue full, event dropped")
	}
}

// Flush stops intake and waits for the writer to drain what is already
// queued. Safe to call more than once; later Emits are dropped.
func (s *AuditSink) Flush(timeout time.Duration) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit flush timed out after %s", timeout)
	}
}
