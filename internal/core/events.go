package core

import (
	"fmt"
	"io"
	"time"
)

// EventKind labels one sink event.
type EventKind string

const (
	KindStartup  EventKind = "startup"
	KindJoin     EventKind = "join"
	KindLeave    EventKind = "leave"
	KindChat     EventKind = "chat"
	KindWhisper  EventKind = "whisper"
	KindKick     EventKind = "kick"
	KindMute     EventKind = "mute"
	KindEmpty    EventKind = "empty"
	KindAFK      EventKind = "afk"
	KindUsage    EventKind = "usage"
	KindShutdown EventKind = "shutdown"
)

// Event is one observable server event. Line is the console rendering;
// it is empty for events that have no console output (an AFK eviction is
// announced to the channel but never echoed to the sink).
type Event struct {
	Kind    EventKind `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	User    string    `json:"user,omitempty"`
	Line    string    `json:"line,omitempty"`
	At      time.Time `json:"at"`
}

// Sink receives server events. Emit is called from inside the store's
// critical sections and from the admin console, so implementations must
// not block: write fast or hand off to a goroutine.
type Sink interface {
	Emit(Event)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// ConsoleSink prints event lines to one writer. With W = os.Stdout it is
// the operator console.
type ConsoleSink struct {
	W io.Writer
}

func (c ConsoleSink) Emit(ev Event) {
	if ev.Line == "" {
		return
	}
	fmt.Fprintln(c.W, ev.Line)
}
