// File: transport/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/reactor"
	"github.com/momentics/hioload-nio/strategy"
)

// Config holds all transport parameters.
type Config struct {
	Strategy strategy.Kind
	// Runners is the number of selector goroutines.
	Runners int

	CoreWorkers  int
	MaxWorkers   int
	QueueSize    int
	RejectPolicy concurrency.RejectPolicy

	// Memory serves every buffer. A private pool.Manager is created when nil.
	Memory api.MemoryManager

	// SocketReadBuffer and SocketWriteBuffer set SO_RCVBUF and SO_SNDBUF
	// when positive.
	SocketReadBuffer  int
	SocketWriteBuffer int
	NoDelay           bool
	Backlog           int

	SelectTimeout time.Duration
	BatchSize     int
	// PinRunners binds runner i to CPU i modulo the CPU count.
	PinRunners bool

	Processor api.Processor
	Logger    *zap.Logger
	// Probes may implement any of the api probe interfaces.
	Probes []any
}

// DefaultConfig returns sensible defaults. Processor must still be set.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Strategy:      strategy.KindWorkerThread,
		Runners:       max(1, n/2),
		CoreWorkers:   n,
		MaxWorkers:    n * 4,
		QueueSize:     n * 64,
		RejectPolicy:  concurrency.RejectCallerRuns,
		NoDelay:       true,
		Backlog:       1024,
		SelectTimeout: reactor.DefaultSelectTimeout,
		BatchSize:     reactor.DefaultBatchSize,
		Logger:        zap.NewNop(),
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Processor == nil:
		return fmt.Errorf("transport: processor is required: %w", api.ErrInvalidArgument)
	case c.Runners < 1:
		return fmt.Errorf("transport: runners must be positive, got %d: %w", c.Runners, api.ErrInvalidArgument)
	case c.CoreWorkers < 1:
		return fmt.Errorf("transport: core workers must be positive, got %d: %w", c.CoreWorkers, api.ErrInvalidArgument)
	case c.MaxWorkers < c.CoreWorkers:
		return fmt.Errorf("transport: max workers %d below core %d: %w", c.MaxWorkers, c.CoreWorkers, api.ErrInvalidArgument)
	case c.QueueSize < 1:
		return fmt.Errorf("transport: queue size must be positive: %w", api.ErrInvalidArgument)
	case c.Backlog < 1:
		return fmt.Errorf("transport: backlog must be positive: %w", api.ErrInvalidArgument)
	case c.SelectTimeout <= 0:
		return fmt.Errorf("transport: select timeout must be positive: %w", api.ErrInvalidArgument)
	case c.BatchSize < 1:
		return fmt.Errorf("transport: batch size must be positive: %w", api.ErrInvalidArgument)
	case c.SocketReadBuffer < 0 || c.SocketWriteBuffer < 0:
		return fmt.Errorf("transport: socket buffer sizes must not be negative: %w", api.ErrInvalidArgument)
	}
	return nil
}

// Option customizes a Config.
type Option func(*Config)

func WithStrategy(k strategy.Kind) Option {
	return func(c *Config) { c.Strategy = k }
}

// WithWorkers sets the core and maximum worker counts.
func WithWorkers(core, maxWorkers int) Option {
	return func(c *Config) {
		c.CoreWorkers = core
		c.MaxWorkers = maxWorkers
	}
}

func WithQueueSize(n int) Option {
	return func(c *Config) { c.QueueSize = n }
}

func WithRejectPolicy(p concurrency.RejectPolicy) Option {
	return func(c *Config) { c.RejectPolicy = p }
}

func WithRunners(n int) Option {
	return func(c *Config) { c.Runners = n }
}

func WithMemoryManager(m api.MemoryManager) Option {
	return func(c *Config) { c.Memory = m }
}

// WithSocketBuffers sets the kernel socket buffer sizes.
func WithSocketBuffers(read, write int) Option {
	return func(c *Config) {
		c.SocketReadBuffer = read
		c.SocketWriteBuffer = write
	}
}

func WithNoDelay(on bool) Option {
	return func(c *Config) { c.NoDelay = on }
}

func WithBacklog(n int) Option {
	return func(c *Config) { c.Backlog = n }
}

func WithSelectTimeout(d time.Duration) Option {
	return func(c *Config) { c.SelectTimeout = d }
}

func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

func WithRunnerAffinity(on bool) Option {
	return func(c *Config) { c.PinRunners = on }
}

func WithProcessor(p api.Processor) Option {
	return func(c *Config) { c.Processor = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithProbes registers observers. Each is added to every probe set whose
// interface it implements.
func WithProbes(p ...any) Option {
	return func(c *Config) { c.Probes = append(c.Probes, p...) }
}
