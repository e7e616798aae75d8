// Package audit writes dispatch ledger records asynchronously.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/tiered-gateway/models"
	"github.com/upb/tiered-gateway/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when records are submitted before Start
	ErrNotStarted = errors.New("recorder not started")
	// ErrStopped is returned when records are submitted after Stop
	ErrStopped = errors.New("recorder stopped")
	// ErrBufferFull is returned when the queue has no room; the record is dropped
	ErrBufferFull = errors.New("recorder buffer full")
)

// Recorder buffers dispatch records and persists them with a pool of workers.
// It satisfies dispatch.Recorder.
type Recorder struct {
	repo   repositories.DispatchRepository
	logger *zap.Logger
	config Config

	queue chan *models.DispatchRecord
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// Config holds configuration for the Recorder
type Config struct {
	BufferSize   int           // Size of the record queue
	WorkerCount  int           // Number of concurrent writers
	WriteTimeout time.Duration // Deadline for one insert
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewRecorder creates a new Recorder instance
func NewRecorder(repo repositories.DispatchRepository, logger *zap.Logger, config Config) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize < 1 {
		config.BufferSize = 1
	}
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Recorder{
		repo:   repo,
		logger: logger,
		config: config,
		queue:  make(chan *models.DispatchRecord, config.BufferSize),
	}
}

// Start starts the background workers
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return fmt.Errorf("recorder already started")
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started dispatch recorder",
		zap.Int("worker_count", r.config.WorkerCount),
		zap.Int("buffer_size", r.config.BufferSize))

	return nil
}

// Stop stops accepting records and waits for queued records to be written
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	pending := len(r.queue)
	close(r.queue)
	r.mu.Unlock()

	r.logger.Info("stopping dispatch recorder", zap.Int("pending_records", pending))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("dispatch recorder stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("recorder stop timeout after %v", timeout)
	}
}

// Record enqueues a record without blocking. Failures are logged, never returned.
func (r *Recorder) Record(record *models.DispatchRecord) {
	if err := r.Enqueue(record); err != nil && !errors.Is(err, ErrBufferFull) {
		r.logger.Debug("dispatch record not queued", zap.Error(err))
	}
}

// Enqueue queues a record without blocking and reports why it was not accepted
func (r *Recorder) Enqueue(record *models.DispatchRecord) error {
	if record == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrStopped
	}
	if !r.started {
		return ErrNotStarted
	}

	select {
	case r.queue <- record:
		return nil
	default:
		r.dropped.Add(1)
		r.logger.Warn("dispatch record queue full, dropping record",
			zap.String("request_id", record.RequestID),
			zap.String("status", string(record.Status)))
		return ErrBufferFull
	}
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("recorder worker started", zap.Int("worker_id", id))

	for record := range r.queue {
		if err := r.write(record); err != nil {
			r.failed.Add(1)
			r.logger.Error("failed to write dispatch record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", record.RequestID))
		}
	}

	r.logger.Debug("recorder worker stopped", zap.Int("worker_id", id))
}

func (r *Recorder) write(record *models.DispatchRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}
	return nil
}

// Stats represents recorder statistics
type Stats struct {
	BufferSize     int   `json:"buffer_size"`
	PendingRecords int   `json:"pending_records"`
	WorkerCount    int   `json:"worker_count"`
	Dropped        int64 `json:"dropped"`
	Failed         int64 `json:"failed"`
	Started        bool  `json:"started"`
}

// GetStats returns statistics about the recorder
func (r *Recorder) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		BufferSize:     r.config.BufferSize,
		PendingRecords: len(r.queue),
		WorkerCount:    r.config.WorkerCount,
		Dropped:        r.dropped.Load(),
		Failed:         r.failed.Load(),
		Started:        r.started && !r.stopped,
	}
}
