package accessctl

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/orchidsec/accessctl/logger"
)

// WithLogger installs a structured logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l == nil {
			return fmt.Errorf("logger is nil")
		}
		e.log = l
		return nil
	}
}

// WithTraceIDFunc installs a correlation id generator for decision logs and
// audit entries.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}

// WithAuditSink enables the fire-and-forget audit side channel. The engine
// buffers entries and drops them under backpressure rather than blocking a
// decision.
func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) error {
		e.auditSink = sink
		return nil
	}
}

// WithBatchWorkers bounds the CheckBulkAccess worker pool.
func WithBatchWorkers(n int) EngineOption {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("batch worker count must be positive, got %d", n)
		}
		e.batchWorkers = n
		return nil
	}
}

// WithRoleCache fronts hierarchy resolution with a ristretto cache sized by
// the given parameters. The cache is cleared on every registry mutation, so
// evaluation never observes a stale flattened permission set.
func WithRoleCache(numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("create role cache: %w", err)
		}
		e.roleCache = cache
		return nil
	}
}
