package ledger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Writer is an asynchronous batch writer for ledger entries
//
// Features:
// - Log() returns immediately while the queue has room
// - Batching: collects entries and inserts them in one statement
// - Retry with configurable backoff on store errors
// - Graceful shutdown: drains the queue before returning
// - Backpressure: waits up to EnqueueWait, then drops the entry
type Writer struct {
	store  Store
	config *Config
	logger *slog.Logger

	queue chan *Entry

	stopChan chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
	wg       sync.WaitGroup

	// sendMu is held shared by Log while it enqueues and exclusively by
	// Shutdown before the worker is told to drain
	sendMu      sync.RWMutex
	closing     chan struct{}
	closingOnce sync.Once

	// OnFlush, when set, is called after every batch attempt sequence
	// with the batch size and the final error (nil on success)
	OnFlush func(size int, err error)

	queued    uint64
	written   uint64
	dropped   uint64
	errors    uint64
	batchesOK uint64
}

// NewWriter creates a writer. Call Start before Log.
func NewWriter(store Store, cfg *Config) *Writer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()

	return &Writer{
		store:    store,
		config:   cfg,
		logger:   cfg.Logger,
		queue:    make(chan *Entry, cfg.QueueSize),
		stopChan: make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

// Start starts the background worker
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
	w.logger.Info("Ledger writer started",
		"queue_size", w.config.QueueSize,
		"batch_size", w.config.BatchSize,
		"flush_interval", w.config.FlushInterval,
	)
}

// Log adds an entry to the queue. When the queue is full it blocks up to
// EnqueueWait and then returns ErrQueueFull.
func (w *Writer) Log(entry *Entry) error {
	if entry == nil {
		return nil
	}

	w.sendMu.RLock()
	defer w.sendMu.RUnlock()

	if w.closed.Load() {
		return ErrClosed
	}

	select {
	case w.queue <- entry:
		atomic.AddUint64(&w.queued, 1)
		return nil
	default:
	}

	timer := time.NewTimer(w.config.EnqueueWait)
	defer timer.Stop()

	select {
	case w.queue <- entry:
		atomic.AddUint64(&w.queued, 1)
		w.logger.Debug("Ledger entry queued after backpressure",
			"request_id", entry.RequestID,
			"queue_len", len(w.queue),
		)
		return nil
	case <-w.closing:
		return ErrClosed
	case <-timer.C:
		atomic.AddUint64(&w.dropped, 1)
		w.logger.Error("Ledger entry dropped: queue full timeout",
			"request_id", entry.RequestID,
			"queue_len", len(w.queue),
			"queue_cap", cap(w.queue),
		)
		return ErrQueueFull
	}
}

// Shutdown stops the worker and waits until queued entries are written
func (w *Writer) Shutdown(ctx context.Context) error {
	w.closed.Store(true)
	w.closingOnce.Do(func() { close(w.closing) })

	// Wait for in-flight Log calls so every accepted entry is drained
	w.sendMu.Lock()
	w.sendMu.Unlock()
	w.logger.Info("Ledger writer shutting down...", "pending", len(w.queue))

	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Ledger writer shutdown complete",
			"written", atomic.LoadUint64(&w.written),
			"dropped", atomic.LoadUint64(&w.dropped),
			"errors", atomic.LoadUint64(&w.errors),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Ledger writer shutdown timeout", "pending", len(w.queue))
		return ctx.Err()
	}
}

// Stats returns writer statistics
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		QueueLen:  len(w.queue),
		QueueCap:  cap(w.queue),
		Queued:    atomic.LoadUint64(&w.queued),
		Written:   atomic.LoadUint64(&w.written),
		Dropped:   atomic.LoadUint64(&w.dropped),
		Errors:    atomic.LoadUint64(&w.errors),
		BatchesOK: atomic.LoadUint64(&w.batchesOK),
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]*Entry, 0, w.config.BatchSize)
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			w.drainQueue(&batch)
			for len(batch) > 0 {
				n := min(len(batch), w.config.BatchSize)
				w.flushBatch(batch[:n])
				batch = batch[n:]
			}
			return

		case entry := <-w.queue:
			batch = append(batch, entry)
			if len(batch) >= w.config.BatchSize {
				w.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// drainQueue reads all remaining entries from the queue
func (w *Writer) drainQueue(batch *[]*Entry) {
	for {
		select {
		case entry := <-w.queue:
			*batch = append(*batch, entry)
		default:
			return
		}
	}
}

// flushBatch writes a batch, retrying after each RetryBackoff delay
func (w *Writer) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	maxAttempts := len(w.config.RetryBackoff) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(w.config.RetryBackoff[attempt-1])
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.store.InsertBatch(ctx, batch)
		cancel()
		if err == nil {
			atomic.AddUint64(&w.written, uint64(len(batch)))
			atomic.AddUint64(&w.batchesOK, 1)
			w.logger.Debug("Ledger batch written", "count", len(batch), "attempt", attempt+1)
			w.notify(len(batch), nil)
			return
		}

		lastErr = err
		w.logger.Warn("Ledger batch insert failed",
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"batch_size", len(batch),
			"error", err,
		)
	}

	atomic.AddUint64(&w.errors, uint64(len(batch)))
	w.logger.Error("Ledger batch dropped after retries",
		"batch_size", len(batch),
		"last_error", lastErr,
		"sample_request_ids", sampleRequestIDs(batch, 3),
	)
	w.notify(len(batch), lastErr)
}

func (w *Writer) notify(size int, err error) {
	if w.OnFlush != nil {
		w.OnFlush(size, err)
	}
}

// sampleRequestIDs extracts up to count request IDs from a batch
func sampleRequestIDs(batch []*Entry, count int) []string {
	count = min(count, len(batch))
	result := make([]string, count)
	for i := 0; i < count; i++ {
		result[i] = batch[i].RequestID
	}
	return result
}
