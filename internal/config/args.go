// Package config validates the command-line surface and the channel
// configuration file, and loads the operational options that sit outside
// that pinned surface.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Exact usage strings. Both programs print these to stderr followed by a
// blank line on any command-line error.
const (
	ServerUsage = "Usage: chatserver [afk_time] config_file"
	ClientUsage = "Usage: chatclient port_number client_username"
)

// Idle-timeout bounds in seconds.
const (
	DefaultAFKSeconds = 100
	MinAFKSeconds     = 1
	MaxAFKSeconds     = 1000
)

// ServerArgs are the validated positional arguments of chatserver.
type ServerArgs struct {
	AFKSeconds int
	ConfigPath string
}

// ParseServerArgs validates `chatserver [afk_time] config_file`. Any
// error means the caller prints ServerUsage and exits 4.
func ParseServerArgs(args []string) (ServerArgs, error) {
	out := ServerArgs{AFKSeconds: DefaultAFKSeconds}
	switch len(args) {
	case 1:
		out.ConfigPath = args[0]
	case 2:
		if !allDigits(args[0]) {
			return ServerArgs{}, fmt.Errorf("afk_time %q is not a whole number", args[0])
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < MinAFKSeconds || n > MaxAFKSeconds {
			return ServerArgs{}, fmt.Errorf("afk_time %q is outside %d..%d", args[0], MinAFKSeconds, MaxAFKSeconds)
		}
		out.AFKSeconds = n
		out.ConfigPath = args[1]
	default:
		return ServerArgs{}, fmt.Errorf("expected 1 or 2 arguments, got %d", len(args))
	}
	if out.ConfigPath == "" {
		return ServerArgs{}, fmt.Errorf("config_file must not be empty")
	}
	return out, nil
}

// ClientArgs are the validated positional arguments of chatclient. The
// port stays a raw string: a bad port is a connect failure, not a usage
// error, and the failure message echoes the argument as given.
type ClientArgs struct {
	PortArg  string
	Username string
}

// ParseClientArgs validates `chatclient port_number client_username`.
// Any error means the caller prints ClientUsage and exits 3.
func ParseClientArgs(args []string) (ClientArgs, error) {
	if len(args) != 2 {
		return ClientArgs{}, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	if args[0] == "" {
		return ClientArgs{}, fmt.Errorf("port_number must not be empty")
	}
	if args[1] == "" {
		return ClientArgs{}, fmt.Errorf("client_username must not be empty")
	}
	if strings.IndexFunc(args[1], unicode.IsSpace) >= 0 {
		return ClientArgs{}, fmt.Errorf("client_username must not contain whitespace")
	}
	return ClientArgs{PortArg: args[0], Username: args[1]}, nil
}

// CheckPort reports whether a client port argument names a connectable
// port. ok=false means the client reports a connect failure, echoing the
// raw argument.
func CheckPort(arg string) (port int, ok bool) {
	if !allDigits(arg) {
		return 0, false
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < MinPort || n > MaxPort {
		return 0, false
	}
	return n, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
