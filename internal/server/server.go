// Package server runs the TCP side of chatserver: one listener per
// configured channel, one protocol engine goroutine per accepted
// connection, and the operator console on stdin.
package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatter/internal/config"
	"chatter/internal/core"
)

// BindError reports the first channel port that could not be bound.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("listen on port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Server owns the channel listeners. Accept goroutines start parked on
// the ready barrier and only run once every port is bound and the
// startup banner has gone to the sink.
type Server struct {
	store *core.Store
	table []config.Channel
	idle  time.Duration
	log   zerolog.Logger

	onAccept func()

	listeners []net.Listener
	ready     chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches an operational logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithAcceptHook registers a callback invoked once per accepted
// connection, before the handler goroutine starts.
func WithAcceptHook(fn func()) Option {
	return func(s *Server) { s.onAccept = fn }
}

// New builds a server over an admitted channel table. idle is the
// per-connection read deadline; a member silent for that long is
// evicted.
func New(store *core.Store, table []config.Channel, idle time.Duration, opts ...Option) *Server {
	s := &Server{
		store: store,
		table: table,
		idle:  idle,
		log:   zerolog.Nop(),
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Listen binds every channel port in table order. On the first failure
// the earlier listeners are closed and a *BindError names the port.
func (s *Server) Listen() error {
	for _, ch := range s.table {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(ch.Port))
		if err != nil {
			s.closeListeners()
			return &BindError{Port: ch.Port, Err: err}
		}
		s.listeners = append(s.listeners, ln)
		s.log.Info().Str("channel", ch.Name).Int("port", ch.Port).Msg("listener bound")
	}
	return nil
}

// Serve starts the accept goroutines, announces the channel table on
// the sink, and releases the barrier. Listen must have succeeded first.
func (s *Server) Serve() {
	for i, ln := range s.listeners {
		s.wg.Add(1)
		go s.acceptLoop(i, ln)
	}
	s.store.Announce()
	close(s.ready)
}

// Close stops the listeners and waits for the accept goroutines.
// Handlers for connections already accepted keep running until their
// peers go away.
func (s *Server) Close() {
	s.closeListeners()
	s.wg.Wait()
}

// Ports returns the bound port for each channel in table order.
func (s *Server) Ports() []int {
	ports := make([]int, len(s.listeners))
	for i, ln := range s.listeners {
		ports[i] = ln.Addr().(*net.TCPAddr).Port
	}
	return ports
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}

func (s *Server) acceptLoop(idx int, ln net.Listener) {
	defer s.wg.Done()
	<-s.ready
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Int("port", s.table[idx].Port).Msg("accept failed")
			continue
		}
		if s.onAccept != nil {
			s.onAccept()
		}
		go s.handle(idx, conn)
	}
}
