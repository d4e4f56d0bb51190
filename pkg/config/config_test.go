package config

import (
	"testing"
	"time"

	"github.com/apex/log"

	"github.com/ooni/minikcp/internal/engine"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/model"
)

func TestNewConfig(t *testing.T) {
	t.Run("default constructor does not fail", func(t *testing.T) {
		c := NewConfig()
		if c.Logger() == nil {
			t.Errorf("logger should not be nil")
		}
		if c.EngineFactory() == nil {
			t.Errorf("engine factory should not be nil")
		}
		if c.SocketFactory() == nil {
			t.Errorf("socket factory should not be nil")
		}
		if c.TickInterval() != DefaultTickInterval {
			t.Errorf("unexpected tick interval %v", c.TickInterval())
		}
		if c.ReadSize() != DefaultReadSize {
			t.Errorf("unexpected read size %d", c.ReadSize())
		}
		if c.Allocator() != engine.DefaultAllocator() {
			t.Errorf("expected the process-wide allocator")
		}
	})
	t.Run("WithLogger sets the logger", func(t *testing.T) {
		testLogger := model.NewTestLogger()
		c := NewConfig(WithLogger(testLogger))
		if c.Logger() != testLogger {
			t.Errorf("expected logger to be set to the configured one")
		}
	})
	t.Run("WithLoop sets the loop", func(t *testing.T) {
		l := eventloop.New(log.Log)
		defer l.Stop()
		c := NewConfig(WithLoop(l))
		if c.Loop() != l {
			t.Errorf("expected loop to be set to the configured one")
		}
	})
	t.Run("the process-wide loop is shared", func(t *testing.T) {
		if NewConfig().Loop() != NewConfig().Loop() {
			t.Errorf("expected the same process-wide loop")
		}
	})
	t.Run("WithAllocator sets the allocator", func(t *testing.T) {
		a := engine.NewCountingAllocator()
		c := NewConfig(WithAllocator(a))
		if c.Allocator() != a {
			t.Errorf("expected allocator to be set to the configured one")
		}
	})
	t.Run("invalid sizes are ignored", func(t *testing.T) {
		c := NewConfig(WithTickInterval(-time.Second), WithReadSize(0))
		if c.TickInterval() != DefaultTickInterval || c.ReadSize() != DefaultReadSize {
			t.Errorf("expected defaults, got %v and %d", c.TickInterval(), c.ReadSize())
		}
		c = NewConfig(WithTickInterval(5*time.Millisecond), WithReadSize(1400))
		if c.TickInterval() != 5*time.Millisecond || c.ReadSize() != 1400 {
			t.Errorf("unexpected values %v and %d", c.TickInterval(), c.ReadSize())
		}
	})
}
