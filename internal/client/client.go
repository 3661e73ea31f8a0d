// Package client implements the interactive chatclient engine: the
// $User hello, the socket-to-stdout render loop, and the
// stdin-to-socket input loop.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"chatter/internal/protocol"
)

// Exit codes of the connected phase.
const (
	ExitClean     = 0
	ExitUserError = 2
	ExitLostPeer  = 8
)

// Client drives one chat session over an established connection. Run
// returns the process exit code once either loop decides the session is
// over.
type Client struct {
	conn net.Conn
	user string
	in   io.Reader
	out  io.Writer
	log  zerolog.Logger

	writeMu sync.Mutex
	quit    atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches an operational logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a client for an established connection. in and out are the
// interactive surface, normally os.Stdin and os.Stdout.
func New(conn net.Conn, user string, in io.Reader, out io.Writer, opts ...Option) *Client {
	c := &Client{
		conn: conn,
		user: user,
		in:   in,
		out:  out,
		log:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run performs the hello and pumps both loops until one of them ends
// the session.
func (c *Client) Run() int {
	if err := c.send(protocol.UserHello(c.user)); err != nil {
		return ExitLostPeer
	}
	result := make(chan int, 2)
	go func() { result <- c.readLoop() }()
	go func() { result <- c.inputLoop() }()
	return <-result
}

// readLoop renders server records until the stream ends or a record
// terminates the session.
func (c *Client) readLoop() int {
	lr := protocol.NewLineReader(c.conn)
	for {
		line, err := lr.Next()
		if err != nil {
			if line != "" {
				if code, ended := c.render(line); ended {
					return code
				}
			}
			if c.quit.Load() {
				return ExitClean
			}
			c.log.Debug().Err(err).Msg("server stream ended")
			return ExitLostPeer
		}
		if code, ended := c.render(line); ended {
			return code
		}
	}
}

// render applies one server record. It reports the exit code and
// whether the session is over.
func (c *Client) render(line string) (int, bool) {
	ctrl, ok := protocol.ParseControl(line)
	if !ok {
		c.print(line)
		return 0, false
	}
	switch ctrl.Marker {
	case protocol.MarkerUserError:
		c.print(protocol.UserTakenMessage(ctrl.Arg, c.user))
		return ExitUserError, true
	case protocol.MarkerUserDup:
		c.print(protocol.UserTakenMessage(ctrl.Arg, c.user))
	case protocol.MarkerJoinFirst:
		c.print(protocol.ClientWelcomeLine(c.user))
		_ = c.send(protocol.MarkerJoined)
	case protocol.MarkerJoinLater:
		c.print(protocol.JoinedChannelMessage(ctrl.Arg))
	case protocol.MarkerQueueFirst, protocol.MarkerQueueLater:
		c.print(protocol.QueueNoticeMessage(ctrl.Arg))
	case protocol.MarkerKick:
		_ = c.send(protocol.MarkerQuitKicked)
		c.print(protocol.RemovedKickedMessage())
		return ExitClean, true
	case protocol.MarkerEmpty:
		c.print(protocol.RemovedEmptiedMessage())
		return ExitClean, true
	case protocol.MarkerAFK:
		c.print(protocol.RemovedAFKMessage())
		return ExitClean, true
	}
	// Unrecognized markers are dropped.
	return 0, false
}

// inputLoop forwards the interactive input until it asks to quit or the
// input ends.
func (c *Client) inputLoop() int {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		line := sc.Text()
		switch line {
		case "", "/quit":
			return c.requestQuit()
		case "/list":
			if err := c.send(protocol.MarkerList); err != nil {
				return ExitLostPeer
			}
		default:
			if err := c.send(line); err != nil {
				return ExitLostPeer
			}
		}
	}
	return c.requestQuit()
}

// requestQuit marks the session as locally terminated before the $Quit
// goes out, so a racing close from the server still reads as clean.
func (c *Client) requestQuit() int {
	c.quit.Store(true)
	_ = c.send(protocol.MarkerQuit)
	return ExitClean
}

func (c *Client) send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *Client) print(line string) {
	fmt.Fprintln(c.out, line)
}
