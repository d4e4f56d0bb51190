// Package config contains the configuration shared by sessions.
package config

import (
	"time"

	"github.com/apex/log"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/engine"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/model"
	"github.com/ooni/minikcp/internal/networkio"
)

const (
	// DefaultTickInterval is the period of the engine clock driver.
	DefaultTickInterval = time.Millisecond

	// DefaultReadSize is the scratch buffer size used by Recv when the
	// caller does not pass one.
	DefaultReadSize = 64 * 1024
)

// SocketFactory creates the datagram socket of a session.
type SocketFactory func(loop *eventloop.Loop, logger model.Logger, family addrcodec.Family) (networkio.Socket, error)

// Config contains options to initialize sessions.
type Config struct {
	// logger will be used to log events.
	logger model.Logger

	// loop is the event loop; nil means the process-wide loop.
	loop *eventloop.Loop

	// engineFactory creates the ARQ engine.
	engineFactory engine.Factory

	// allocator allocates buffers; nil means the process-wide allocator.
	allocator engine.Allocator

	// socketFactory creates the datagram socket.
	socketFactory SocketFactory

	// tickInterval is the period of the engine clock driver.
	tickInterval time.Duration

	// readSize is the default scratch size for Recv.
	readSize int
}

// NewConfig returns a [*Config] with defaults overridden by options.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		logger:        log.Log,
		engineFactory: engine.NewKCP,
		socketFactory: newUDPSocket,
		tickInterval:  DefaultTickInterval,
		readSize:      DefaultReadSize,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

func newUDPSocket(loop *eventloop.Loop, logger model.Logger, family addrcodec.Family) (networkio.Socket, error) {
	return networkio.NewUDPSocket(loop, logger, family)
}

// Option is an option you can pass to [NewConfig].
type Option func(config *Config)

// WithLogger configures the passed [model.Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// WithLoop configures the event loop driving the sessions.
func WithLoop(loop *eventloop.Loop) Option {
	return func(config *Config) {
		config.loop = loop
	}
}

// WithEngineFactory configures the ARQ engine implementation.
func WithEngineFactory(factory engine.Factory) Option {
	return func(config *Config) {
		config.engineFactory = factory
	}
}

// WithAllocator configures a per-session [engine.Allocator].
func WithAllocator(allocator engine.Allocator) Option {
	return func(config *Config) {
		config.allocator = allocator
	}
}

// WithSocketFactory configures how sessions create their socket.
func WithSocketFactory(factory SocketFactory) Option {
	return func(config *Config) {
		config.socketFactory = factory
	}
}

// WithTickInterval configures the engine clock period. Non positive
// values are ignored.
func WithTickInterval(d time.Duration) Option {
	return func(config *Config) {
		if d > 0 {
			config.tickInterval = d
		}
	}
}

// WithReadSize configures the default Recv scratch size. Non positive
// values are ignored.
func WithReadSize(size int) Option {
	return func(config *Config) {
		if size > 0 {
			config.readSize = size
		}
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// Loop returns the configured loop, or the process-wide one.
func (c *Config) Loop() *eventloop.Loop {
	if c.loop == nil {
		return eventloop.Default(c.logger)
	}
	return c.loop
}

// EngineFactory returns the configured engine factory.
func (c *Config) EngineFactory() engine.Factory {
	return c.engineFactory
}

// Allocator returns the configured allocator, or the process-wide one.
func (c *Config) Allocator() engine.Allocator {
	if c.allocator == nil {
		return engine.DefaultAllocator()
	}
	return c.allocator
}

// SocketFactory returns the configured socket factory.
func (c *Config) SocketFactory() SocketFactory {
	return c.socketFactory
}

// TickInterval returns the engine clock period.
func (c *Config) TickInterval() time.Duration {
	return c.tickInterval
}

// ReadSize returns the default Recv scratch size.
func (c *Config) ReadSize() int {
	return c.readSize
}
