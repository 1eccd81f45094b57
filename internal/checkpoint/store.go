package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/execd/internal/checkpoint"

// Store persists and consumes pipeline checkpoints.
type Store interface {
	// Save persists a new checkpoint under its key.
	Save(ctx context.Context, cp *Checkpoint) error

	// Take removes and returns the checkpoint for the key. The removal is
	// atomic with the read, so concurrent takes of the same key produce one
	// winner; the others get ErrConsumed.
	Take(ctx context.Context, key string) (*Checkpoint, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps checkpoints in process memory. Suitable for
// single-process deployments where resumption happens in the same daemon.
type MemoryStore struct {
	logger *zap.Logger

	takeCounter metric.Int64Counter

	mu       sync.Mutex
	open     map[string]*Checkpoint
	consumed map[string]time.Time
	closed   bool
}

// NewMemoryStore creates an in-memory checkpoint store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &MemoryStore{
		logger:   logger,
		open:     make(map[string]*Checkpoint),
		consumed: make(map[string]time.Time),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.takeCounter, err = meter.Int64Counter(
		"execd.checkpoint.takes_total",
		metric.WithDescription("Total number of checkpoint resume takes"),
		metric.WithUnit("{take}"),
	)
	if err != nil {
		logger.Warn("failed to create take counter", zap.Error(err))
	}

	return s
}

// Save persists a new checkpoint.
func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.Key == "" {
		return errors.New("checkpoint key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store is closed")
	}
	if _, ok := s.open[cp.Key]; ok {
		return fmt.Errorf("checkpoint %s already pending", cp.Key)
	}

	s.open[cp.Key] = cp
	s.logger.Info("saved checkpoint",
		zap.String("key", cp.Key),
		zap.Int("chain_len", len(cp.Chain)),
	)
	return nil
}

// Take removes and returns the checkpoint, enforcing single use.
func (s *MemoryStore) Take(ctx context.Context, key string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}

	cp, ok := s.open[key]
	if !ok {
		if _, was := s.consumed[key]; was {
			s.count(ctx, "consumed")
			return nil, fmt.Errorf("%w: %s", ErrConsumed, key)
		}
		s.count(ctx, "not_found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	delete(s.open, key)
	s.consumed[key] = time.Now()
	s.count(ctx, "ok")

	s.logger.Info("took checkpoint", zap.String("key", key))
	return cp, nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) count(ctx context.Context, result string) {
	if s.takeCounter != nil {
		s.takeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

var _ Store = (*MemoryStore)(nil)
