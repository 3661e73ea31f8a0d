package server

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatter/internal/core"
	"chatter/internal/protocol"
)

// Operator command usage lines, printed to the sink on any validation
// failure.
const (
	usageShutdown = "Usage: /shutdown"
	usageKick     = "Usage: /kick channel_name client_username"
	usageEmpty    = "Usage: /empty channel_name"
	usageMute     = "Usage: /mute channel_name client_username mute_duration"
)

// Console is the operator command loop. It belongs on the main
// goroutine; Run returns when the process should exit.
type Console struct {
	store *core.Store
	sink  core.Sink
	log   zerolog.Logger
}

// NewConsole builds the operator console over the channel store.
func NewConsole(store *core.Store, sink core.Sink, log zerolog.Logger) *Console {
	return &Console{store: store, sink: sink, log: log}
}

// Run reads operator commands until a shutdown is requested: by
// /shutdown, by an empty input line, or by the input ending.
func (c *Console) Run(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			c.shutdown()
			return
		}
		if c.apply(line) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		c.log.Warn().Err(err).Msg("console read failed")
	}
	c.shutdown()
}

// apply runs one operator command. Commands split on single spaces;
// anything unrecognized is ignored. It reports true when the command
// was a shutdown.
func (c *Console) apply(line string) bool {
	fields := strings.Split(line, " ")
	switch fields[0] {
	case "/shutdown":
		if len(fields) != 1 {
			c.usage(usageShutdown)
			return false
		}
		c.shutdown()
		return true
	case "/kick":
		if len(fields) != 3 {
			c.usage(usageKick)
			return false
		}
		if err := c.store.Kick(fields[1], fields[2]); err != nil {
			c.log.Debug().Err(err).Msg("kick rejected")
			c.usage(usageKick)
		}
	case "/empty":
		if len(fields) != 2 {
			c.usage(usageEmpty)
			return false
		}
		if err := c.store.EmptyChannel(fields[1]); err != nil {
			c.log.Debug().Err(err).Msg("empty rejected")
			c.usage(usageEmpty)
		}
	case "/mute":
		if len(fields) != 4 || !allDigits(fields[3]) {
			c.usage(usageMute)
			return false
		}
		seconds, err := strconv.Atoi(fields[3])
		if err != nil {
			c.usage(usageMute)
			return false
		}
		if err := c.store.Mute(fields[1], fields[2], seconds); err != nil {
			c.log.Debug().Err(err).Msg("mute rejected")
			c.usage(usageMute)
		}
	}
	return false
}

func (c *Console) shutdown() {
	c.emit(core.Event{Kind: core.KindShutdown, Line: protocol.ShutdownMessage()})
	c.log.Info().Msg("shutdown requested")
}

func (c *Console) usage(text string) {
	c.emit(core.Event{Kind: core.KindUsage, Line: text})
}

func (c *Console) emit(ev core.Event) {
	if c.sink == nil {
		return
	}
	ev.At = time.Now()
	c.sink.Emit(ev)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
