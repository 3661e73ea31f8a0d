package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options are the operational knobs outside the pinned CLI surface.
// Environment variables provide the values; the chatserver command binds
// flags over them so flags win. Empty APIAddr disables the status API,
// empty DBPath disables the audit store.
type Options struct {
	APIAddr       string        `env:"CHATSERVER_API_ADDR"`
	DBPath        string        `env:"CHATSERVER_DB"`
	LogLevel      string        `env:"CHATSERVER_LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"CHATSERVER_LOG_FORMAT" envDefault:"console"`
	StatsInterval time.Duration `env:"CHATSERVER_STATS_INTERVAL" envDefault:"60s"`
}

// LoadOptions parses Options from the environment.
func LoadOptions() (Options, error) {
	var o Options
	if err := env.Parse(&o); err != nil {
		return Options{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}
