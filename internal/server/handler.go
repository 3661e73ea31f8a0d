package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"chatter/internal/core"
	"chatter/internal/protocol"
)

// handle speaks the wire protocol with one connection from hello to
// disconnect. The read deadline is re-armed before every record, so a
// peer that stays silent for the idle window gets evicted no matter
// what state it is in.
func (s *Server) handle(idx int, conn net.Conn) {
	channel := s.table[idx].Name
	addr := conn.RemoteAddr().String()
	lr := protocol.NewLineReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(s.idle))
	hello, err := lr.Next()
	if err != nil {
		_ = conn.Close()
		return
	}
	ctrl, ok := protocol.ParseControl(hello)
	if !ok || ctrl.Marker != protocol.MarkerUser || ctrl.Arg == "" {
		s.log.Debug().Str("channel", channel).Str("addr", addr).Msg("connection without hello rejected")
		_ = conn.Close()
		return
	}
	user := ctrl.Arg

	if res := s.store.Admit(idx, user, addr, conn); res.Outcome == core.AdmitDuplicate {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, _ = io.WriteString(conn, protocol.UserError(channel)+"\n")
		_ = conn.Close()
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idle))
		line, err := lr.Next()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.store.EvictIdle(channel, user)
				return
			}
			// A final unterminated fragment still counts as a record.
			if line != "" {
				s.dispatch(channel, user, line)
			}
			if _, known := s.store.Resolve(addr); known {
				s.store.Disconnect(channel, user, core.ReasonAbrupt)
			}
			return
		}
		if ended := s.dispatch(channel, user, line); ended {
			return
		}
	}
}

// dispatch applies one record. It reports true once the session is over
// and the member is gone from the store.
func (s *Server) dispatch(channel, user, line string) bool {
	switch protocol.Classify(line) {
	case protocol.KindControl:
		ctrl, _ := protocol.ParseControl(line)
		switch ctrl.Marker {
		case protocol.MarkerQuit:
			s.store.Disconnect(channel, user, core.ReasonQuit)
			return true
		case protocol.MarkerQuitKicked:
			s.store.Disconnect(channel, user, core.ReasonKicked)
			return true
		case protocol.MarkerList:
			s.store.ListChannels(channel, user)
		}
		// $Joined and unrecognized markers are inert.
	case protocol.KindCommand:
		s.command(channel, user, line)
	default:
		s.store.Chat(channel, user, line)
	}
	return false
}

// command applies one slash command. Known words with the wrong shape
// are dropped; unknown words are chat that happens to start with "/".
func (s *Server) command(channel, user, line string) {
	word, rest, _ := strings.Cut(line, " ")
	switch word {
	case "/list":
		if rest != "" {
			return
		}
		s.store.ListChannels(channel, user)
	case "/switch":
		if rest == "" || strings.Contains(rest, " ") {
			return
		}
		s.store.Switch(channel, user, rest)
	case "/send":
		target, path, ok := strings.Cut(rest, " ")
		if !ok || target == "" || path == "" {
			return
		}
		s.store.OfferFile(channel, user, target, path)
	case "/whisper":
		target, text, ok := strings.Cut(rest, " ")
		if !ok || target == "" {
			return
		}
		s.store.Whisper(channel, user, target, text)
	default:
		s.store.Chat(channel, user, line)
	}
}
