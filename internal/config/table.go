package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Channel descriptor bounds.
const (
	MinPort     = 1024
	MaxPort     = 65535
	MinCapacity = 1
	MaxCapacity = 8
)

// Channel is one immutable channel descriptor from the configuration
// file. The slice order is configuration order and is load-bearing:
// startup lines, $List output, and bind order all follow it.
type Channel struct {
	Name     string
	Port     int
	Capacity int
}

// LoadTable reads and validates the channel configuration file. Any
// error at all means the caller prints the invalid-configuration message
// and exits 5; the error text exists for diagnostic logging only.
func LoadTable(path string) ([]Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration file: %w", err)
	}
	defer f.Close()
	return parseTable(f)
}

func parseTable(r io.Reader) ([]Channel, error) {
	var (
		table []Channel
		names = make(map[string]struct{})
		ports = make(map[int]struct{})
	)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		ch, err := parseChannelLine(strings.Fields(sc.Text()))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, dup := names[ch.Name]; dup {
			return nil, fmt.Errorf("line %d: duplicate channel name %q", lineNo, ch.Name)
		}
		if _, dup := ports[ch.Port]; dup {
			return nil, fmt.Errorf("line %d: duplicate port %d", lineNo, ch.Port)
		}
		names[ch.Name] = struct{}{}
		ports[ch.Port] = struct{}{}
		table = append(table, ch)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("no channel lines")
	}
	return table, nil
}

// parseChannelLine validates one whitespace-split configuration line.
// Blank lines arrive as zero fields and are invalid.
func parseChannelLine(fields []string) (Channel, error) {
	if len(fields) != 4 || fields[0] != "channel" {
		return Channel{}, fmt.Errorf("expected `channel <name> <port> <capacity>`")
	}
	name := fields[1]
	for _, c := range name {
		if !isNameRune(c) {
			return Channel{}, fmt.Errorf("channel name %q has invalid characters", name)
		}
	}
	port, err := parseBounded(fields[2], MinPort, MaxPort)
	if err != nil {
		return Channel{}, fmt.Errorf("port: %w", err)
	}
	capacity, err := parseBounded(fields[3], MinCapacity, MaxCapacity)
	if err != nil {
		return Channel{}, fmt.Errorf("capacity: %w", err)
	}
	return Channel{Name: name, Port: port, Capacity: capacity}, nil
}

func isNameRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_':
		return true
	}
	return false
}

func parseBounded(s string, min, max int) (int, error) {
	if !allDigits(s) {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%q is outside %d..%d", s, min, max)
	}
	return n, nil
}
