package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"chatter/internal/config"
	"chatter/internal/core"
	"chatter/internal/httpapi"
	"chatter/internal/logging"
	"chatter/internal/metrics"
	"chatter/internal/monitor"
	"chatter/internal/server"
	"chatter/internal/store"
)

func main() {
	opts, err := config.LoadOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatserver:", err)
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("chatserver", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	apiAddr := flags.String("api-addr", opts.APIAddr, "status API listen address (empty disables)")
	dbPath := flags.String("db", opts.DBPath, "SQLite audit database path (empty disables)")
	logLevel := flags.String("log-level", opts.LogLevel, "log level")
	logFormat := flags.String("log-format", opts.LogFormat, "log format: console or json")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", config.ServerUsage)
		os.Exit(4)
	}

	log := logging.New("chatserver", *logLevel, *logFormat)

	args, err := config.ParseServerArgs(flags.Args())
	if err != nil {
		log.Debug().Err(err).Msg("command line rejected")
		fmt.Fprintf(os.Stderr, "%s\n\n", config.ServerUsage)
		os.Exit(4)
	}

	table, err := config.LoadTable(args.ConfigPath)
	if err != nil {
		log.Debug().Err(err).Str("path", args.ConfigPath).Msg("configuration rejected")
		fmt.Fprintln(os.Stderr, "Error: Invalid configuration file.")
		os.Exit(5)
	}

	// The console sink is the protocol surface; everything after it is
	// operational.
	sinks := core.MultiSink{core.ConsoleSink{W: os.Stdout}}

	var (
		st    *store.Store
		audit *store.AuditSink
	)
	if *dbPath != "" {
		st, err = store.New(*dbPath, log)
		if err != nil {
			log.Error().Err(err).Str("path", *dbPath).Msg("open audit store")
			os.Exit(1)
		}
		audit = store.NewAuditSink(st, log)
		sinks = append(sinks, audit)
	}

	m := metrics.New()
	sinks = append(sinks, m)

	var hub *monitor.Hub
	if *apiAddr != "" {
		hub = monitor.NewHub(log)
		sinks = append(sinks, hub)
	}

	channels := core.NewStore(table, sinks, core.WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *apiAddr != "" {
		api := httpapi.New(channels, m.Handler(), hub, log)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Warn().Err(err).Str("addr", *apiAddr).Msg("status api stopped")
			}
		}()
	}
	go metrics.RunStats(ctx, channels, m, opts.StatsInterval, log)

	srv := server.New(channels, table, time.Duration(args.AFKSeconds)*time.Second,
		server.WithLogger(log), server.WithAcceptHook(m.ConnectionAccepted))
	if err := srv.Listen(); err != nil {
		var be *server.BindError
		if errors.As(err, &be) {
			log.Debug().Err(be.Err).Int("port", be.Port).Msg("bind failed")
			fmt.Fprintf(os.Stderr, "Error: unable to listen on port %d.\n", be.Port)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(6)
	}
	srv.Serve()
	log.Info().Int("channels", len(table)).Int("afk_seconds", args.AFKSeconds).Msg("chatserver up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info().Msg("received interrupt, shutting down")
		shutdown(cancel, audit, st, log)
	}()

	server.NewConsole(channels, sinks, log).Run(os.Stdin)
	shutdown(cancel, audit, st, log)
}

// shutdown drains the audit trail and ends the process. The operator
// console has already printed its shutdown line by the time this runs.
func shutdown(cancel context.CancelFunc, audit *store.AuditSink, st *store.Store, log zerolog.Logger) {
	cancel()
	if audit != nil {
		if err := audit.Flush(2 * time.Second); err != nil {
			log.Warn().Err(err).Msg("audit flush incomplete")
		}
	}
	if st != nil {
		_ = st.Close()
	}
	os.Exit(0)
}
