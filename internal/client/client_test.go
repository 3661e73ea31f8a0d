package client

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"chatter/internal/protocol"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// session drives a client over one half of a net.Pipe, playing the
// server side itself.
type session struct {
	t      *testing.T
	peer   net.Conn
	sc     *bufio.Scanner
	stdin  *io.PipeWriter
	out    *syncBuffer
	result chan int
}

func startSession(t *testing.T, user string) *session {
	t.Helper()
	local, remote := net.Pipe()
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	c := New(local, user, pr, out)

	s := &session{
		t:      t,
		peer:   remote,
		sc:     bufio.NewScanner(remote),
		stdin:  pw,
		out:    out,
		result: make(chan int, 1),
	}
	go func() { s.result <- c.Run() }()
	t.Cleanup(func() {
		_ = pw.Close()
		_ = remote.Close()
		_ = local.Close()
	})
	s.expectSent(protocol.UserHello(user))
	return s
}

func (s *session) expectSent(want string) {
	s.t.Helper()
	_ = s.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if !s.sc.Scan() {
		s.t.Fatalf("expected client to send %q: %v", want, s.sc.Err())
	}
	if got := s.sc.Text(); got != want {
		s.t.Fatalf("client sent %q, want %q", got, want)
	}
}

func (s *session) deliver(line string) {
	s.t.Helper()
	_ = s.peer.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.peer.Write([]byte(line + "\n")); err != nil {
		s.t.Fatalf("deliver %q: %v", line, err)
	}
}

func (s *session) typeLine(line string) {
	s.t.Helper()
	if _, err := s.stdin.Write([]byte(line + "\n")); err != nil {
		s.t.Fatalf("type %q: %v", line, err)
	}
}

func (s *session) exitCode() int {
	s.t.Helper()
	select {
	case code := <-s.result:
		return code
	case <-time.After(2 * time.Second):
		s.t.Fatal("client did not exit")
		return -1
	}
}

func TestAdmissionChatAndQuit(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	s.deliver("[bob] hi")
	s.deliver("$Mystery")

	s.typeLine("hello everyone")
	s.expectSent("hello everyone")
	s.typeLine("/list")
	s.expectSent("$List")
	s.typeLine("/quit")
	s.expectSent("$Quit")

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
	want := "Welcome to chatclient, alice.\n[bob] hi\n"
	if got := s.out.String(); got != want {
		t.Fatalf("transcript: got %q, want %q", got, want)
	}
}

func TestEmptyInputLineQuits(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	s.typeLine("")
	s.expectSent("$Quit")

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
}

func TestStdinEOFQuits(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	_ = s.stdin.Close()
	s.expectSent("$Quit")

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
}

func TestQueueNoticesAndPromotion(t *testing.T) {
	s := startSession(t, "carol")

	s.deliver("$01-InQueue: 2")
	s.deliver("$02-InQueue: 1")
	s.deliver("$02-JoinSuccess: gossip")
	s.deliver("$Empty")

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
	want := "[Server Message] You are in the waiting queue and there are 2 user(s) ahead of you.\n" +
		"[Server Message] You are in the waiting queue and there are 1 user(s) ahead of you.\n" +
		`[Server Message] You have joined the channel "gossip".` + "\n" +
		"[Server Message] The channel has been emptied.\n"
	if got := s.out.String(); got != want {
		t.Fatalf("transcript: got %q, want %q", got, want)
	}
}

func TestUserErrorExits(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$UserError: gossip")
	if code := s.exitCode(); code != ExitUserError {
		t.Fatalf("exit code: got %d, want %d", code, ExitUserError)
	}
	want := `[Server Message] Channel "gossip" already has user alice.` + "\n"
	if got := s.out.String(); got != want {
		t.Fatalf("transcript: got %q, want %q", got, want)
	}
}

func TestUserDupKeepsSessionAlive(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	s.deliver("$UserDup: dev")
	s.deliver("$AFK")

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
	want := "Welcome to chatclient, alice.\n" +
		`[Server Message] Channel "dev" already has user alice.` + "\n" +
		"[Server Message] You are removed from the channel for being AFK.\n"
	if got := s.out.String(); got != want {
		t.Fatalf("transcript: got %q, want %q", got, want)
	}
}

func TestKickAnswersQuitKicked(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	s.deliver("$Kick")
	s.expectSent("$Quit-kicked")

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
	want := "Welcome to chatclient, alice.\n[Server Message] You are removed from the channel.\n"
	if got := s.out.String(); got != want {
		t.Fatalf("transcript: got %q, want %q", got, want)
	}
}

func TestServerDropIsLostPeer(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	_ = s.peer.Close()

	if code := s.exitCode(); code != ExitLostPeer {
		t.Fatalf("exit code: got %d, want %d", code, ExitLostPeer)
	}
}

func TestWriteFailureIsLostPeer(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	_ = s.peer.Close()
	s.typeLine("anyone home")

	if code := s.exitCode(); code != ExitLostPeer {
		t.Fatalf("exit code: got %d, want %d", code, ExitLostPeer)
	}
}

func TestUnterminatedFinalRecordStillRenders(t *testing.T) {
	s := startSession(t, "alice")

	s.deliver("$01-JoinSuccess: gossip")
	s.expectSent("$Joined")
	_ = s.peer.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.peer.Write([]byte("$Empty")); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
	_ = s.peer.Close()

	if code := s.exitCode(); code != ExitClean {
		t.Fatalf("exit code: got %d, want %d", code, ExitClean)
	}
	want := "Welcome to chatclient, alice.\n[Server Message] The channel has been emptied.\n"
	if got := s.out.String(); got != want {
		t.Fatalf("transcript: got %q, want %q", got, want)
	}
}
