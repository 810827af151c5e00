package main

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matchcards/chatsync"
)

var errNoToken = errors.New("no session token: run 'chatsync init <token>' or set CHATSYNC_TOKEN")

// getClient creates a REST client authenticated with the configured token.
func getClient(cfg *Config) (*chatsync.Client, error) {
	if cfg.Default.Token == "" {
		return nil, errNoToken
	}
	var opts []chatsync.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatsync.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatsync.NewClient(cfg.Default.Token, opts...), nil
}

// wsURL returns the push endpoint, derived from the base URL when unset.
func wsURL(cfg *Config) string {
	if cfg.Default.WSURL != "" {
		return cfg.Default.WSURL
	}
	return strings.TrimRight(valueOrDefault(cfg.Default.BaseURL, chatsync.DefaultBaseURL), "/") + "/ws"
}

// newEngine builds a sync engine from the CLI config. The token is not
// applied; callers call SetCredential once listeners are registered.
func newEngine(cfg *Config, reg prometheus.Registerer) (*chatsync.Engine, error) {
	client, err := getClient(cfg)
	if err != nil {
		return nil, err
	}
	dialer := &chatsync.WebSocketDialer{URL: wsURL(cfg)}
	return chatsync.NewEngine(dialer, client,
		chatsync.WithConfig(cfg.engineConfig()),
		chatsync.WithLogger(logger),
		chatsync.WithMetrics(chatsync.NewMetrics(reg)),
	), nil
}

// maskKey shows the first 8 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
