package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"chatter/internal/client"
	"chatter/internal/config"
	"chatter/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("chatclient", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	host := flags.String("host", "localhost", "server host")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", config.ClientUsage)
		os.Exit(3)
	}

	args, err := config.ParseClientArgs(flags.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", config.ClientUsage)
		os.Exit(3)
	}

	// A bad port argument reads as a connect failure, echoing the
	// argument exactly as given.
	port, ok := config.CheckPort(args.PortArg)
	if !ok {
		connectFailure(args.PortArg)
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(*host, strconv.Itoa(port)))
	if err != nil {
		connectFailure(args.PortArg)
	}

	log := logging.New("chatclient", "info", "console")
	c := client.New(conn, args.Username, os.Stdin, os.Stdout, client.WithLogger(log))
	os.Exit(c.Run())
}

func connectFailure(portArg string) {
	fmt.Fprintf(os.Stdout, "Error: Unable to connect to port %s.\n\n", portArg)
	os.Exit(7)
}
