package gree

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"
)

// Option configures a Device or Protocol.
type Option func(*config) error

// ListenFunc opens the local UDP endpoint used to talk to devices.
type ListenFunc func(ctx context.Context) (net.PacketConn, error)

// config holds the configuration for a Device or Protocol.
type config struct {
	port           int
	timeout        time.Duration
	bindTimeout    time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	listen         ListenFunc
	broadcast      []string
}

// defaultConfig returns the default configuration.
func defaultConfig() *config {
	return &config{
		port:           DefaultPort,
		timeout:        10 * time.Second,
		bindTimeout:    10 * time.Second,
		requestTimeout: 30 * time.Second,
		logger:         nil,
	}
}

func newConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, errors.Join(ErrConfiguration, err)
		}
	}
	return cfg, nil
}

// log returns the configured logger or one that discards everything.
func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.logger
}

func listenUDP(ctx context.Context) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, "udp4", ":0")
}

// WithPort sets the UDP port devices listen on.
// Default is 7000.
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		c.port = port
		return nil
	}
}

// WithTimeout sets how long Send waits for the transport to accept a write.
// Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithBindTimeout sets how long each bind attempt waits for the bind
// acknowledgement. Keep this short, every cipher candidate pays it.
// Default is 10 seconds.
func WithBindTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("bind timeout must be positive")
		}
		c.bindTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the timeout for waiting for a status or command
// response when the context has no deadline.
// Default is 30 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithLogger sets a structured logger for debug and error logging.
// By default, no logging is performed.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics records protocol traffic into m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}

// WithListenPacket replaces the function opening the local UDP endpoint.
func WithListenPacket(fn ListenFunc) Option {
	return func(c *config) error {
		if fn == nil {
			return errors.New("listen function must not be nil")
		}
		c.listen = fn
		return nil
	}
}

// WithBroadcastAddress scans the given addresses instead of the broadcast
// address of every local interface.
func WithBroadcastAddress(addrs ...string) Option {
	return func(c *config) error {
		for _, a := range addrs {
			if net.ParseIP(a) == nil {
				return errors.New("invalid broadcast address " + a)
			}
		}
		c.broadcast = addrs
		return nil
	}
}
