package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig bounds the TCP connect phase. The delay is fixed between
// attempts; only connection-refused failures are retried.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 5, Delay: time.Second}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetryConfig().Attempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryConfig().Delay
	}
	return cfg
}

// dialWithRetry runs dial up to cfg.Attempts times, sleeping cfg.Delay between
// attempts while the failure is connection-refused. Any other failure is
// returned immediately. Exhausting the budget yields ErrConnectFailed.
//
// The dial func is injected so the retry policy is testable without sockets.
func dialWithRetry(ctx context.Context, dial func() (net.Conn, error), cfg RetryConfig) (net.Conn, error) {
	cfg = cfg.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		conn, err := dial()
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, err
		}
		lastErr = err
		log.Debug().Int("attempt", attempt).Int("budget", cfg.Attempts).Err(err).
			Msg("rpc.dial refused")
		if attempt == cfg.Attempts {
			break
		}
		timer := time.NewTimer(cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectFailed, cfg.Attempts, lastErr)
}
