package core

import (
	"bytes"
	"testing"
)

func TestConsoleSinkPrintsOnlyRenderableEvents(t *testing.T) {
	var buf bytes.Buffer
	sink := ConsoleSink{W: &buf}

	sink.Emit(Event{Kind: KindChat, Line: "[alice] hi"})
	sink.Emit(Event{Kind: KindAFK, User: "bob"})
	sink.Emit(Event{Kind: KindStartup, Line: "Welcome to chatserver."})

	if got, want := buf.String(), "[alice] hi\nWelcome to chatserver.\n"; got != want {
		t.Fatalf("console = %q, want %q", got, want)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &recordSink{}, &recordSink{}
	sink := MultiSink{a, b}

	sink.Emit(Event{Kind: KindChat, Line: "[alice] hi"})

	for name, s := range map[string]*recordSink{"first": a, "second": b} {
		if got := len(s.Events()); got != 1 {
			t.Fatalf("%s sink saw %d events, want 1", name, got)
		}
	}
}
