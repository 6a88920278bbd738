package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/akhenakh/nodeacq/metrics"
	"github.com/akhenakh/nodeacq/storage"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

var (
	ErrQueueClosed    = errors.New("upload queue is shut down")
	ErrAlreadyRunning = errors.New("upload worker already running")
)

// WithJournal persists the pending tasks in j, tasks left by a previous run are reloaded.
func WithJournal(j storage.Journal) func(*Queue) {
	return func(q *Queue) {
		q.journal = j
	}
}

// WithPollInterval sets the time between two drains.
func WithPollInterval(d time.Duration) func(*Queue) {
	return func(q *Queue) {
		q.pollInterval = d
	}
}

// WithFinalDrain makes Shutdown attempt one last drain bounded by timeout.
func WithFinalDrain(timeout time.Duration) func(*Queue) {
	return func(q *Queue) {
		q.finalDrain = true
		q.drainTimeout = timeout
	}
}

// WithCompressor sets the function applied to a local file once uploaded, nil disables it.
func WithCompressor(compress func(path string) (string, error)) func(*Queue) {
	return func(q *Queue) {
		q.compress = compress
	}
}

func WithMetrics(m *metrics.Metrics) func(*Queue) {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue is a FIFO of upload tasks drained by a single background worker.
// The lock only guards push and pop, it is never held during an upload.
type Queue struct {
	logger   log.Logger
	uploader Uploader
	journal  storage.Journal
	metrics  *metrics.Metrics

	pollInterval time.Duration
	finalDrain   bool
	drainTimeout time.Duration
	compress     func(string) (string, error)

	mu     sync.Mutex
	tasks  []Task
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	// held for reading by producers, Shutdown takes it to close the queue
	closeMu sync.RWMutex
	closed  bool

	seq   uint64
	alive int32
}

// NewQueue returns a stopped queue, call Run to start the worker.
func NewQueue(logger log.Logger, uploader Uploader, options ...func(*Queue)) (*Queue, error) {
	q := &Queue{
		logger:       log.With(logger, "component", "offload"),
		uploader:     uploader,
		pollInterval: DefaultPollInterval,
		drainTimeout: DefaultDrainTimeout,
		compress:     GzipFile,
	}
	for _, option := range options {
		option(q)
	}
	if q.metrics == nil {
		q.metrics = metrics.New(prometheus.NewRegistry())
	}

	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// load restores the tasks left in the journal
func (q *Queue) load() error {
	if q.journal == nil {
		return nil
	}

	entries, err := q.journal.Entries()
	if err != nil {
		return fmt.Errorf("can't read upload journal: %w", err)
	}
	for _, e := range entries {
		t, err := unmarshalTask(e.Seq, e.Value)
		if err != nil {
			level.Error(q.logger).Log("msg", "dropping unreadable journal entry", "seq", e.Seq, "error", err)
			if err := q.journal.Delete(e.Seq); err != nil {
				return err
			}
			continue
		}
		q.tasks = append(q.tasks, t)
		if e.Seq > q.seq {
			q.seq = e.Seq
		}
	}

	if len(q.tasks) > 0 {
		level.Info(q.logger).Log("msg", "restored pending uploads", "count", len(q.tasks))
	}
	q.metrics.UploadQueueLength.Set(float64(len(q.tasks)))
	return nil
}

// QueueUpload appends t at the tail of the queue, it never blocks on the worker.
// A journal failure is logged, the task is still queued in memory.
func (q *Queue) QueueUpload(t Task) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if err := q.journalPut(&t); err != nil {
		t.seq = 0
		level.Error(q.logger).Log("msg", "can't journal upload task, it won't survive a restart", "path", t.LocalPath, "error", err)
	}

	q.push(t)
	level.Debug(q.logger).Log("msg", "queued upload", "path", t.LocalPath, "key", t.RemotePath)
	return nil
}

func (q *Queue) push(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	l := len(q.tasks)
	q.mu.Unlock()
	q.metrics.UploadQueueLength.Set(float64(l))
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	q.metrics.UploadQueueLength.Set(float64(len(q.tasks)))
	return t, true
}

// Len returns the number of tasks waiting, a task being uploaded is not counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Pending returns a copy of the waiting tasks in order.
func (q *Queue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := make([]Task, len(q.tasks))
	copy(res, q.tasks)
	return res
}

func (q *Queue) journalPut(t *Task) error {
	if q.journal == nil {
		return nil
	}
	t.seq = atomic.AddUint64(&q.seq, 1)
	v, err := t.marshal()
	if err != nil {
		return err
	}
	return q.journal.Put(t.seq, v)
}

// journalMove rewrites t at a fresh tail sequence
func (q *Queue) journalMove(t *Task) error {
	if q.journal == nil {
		return nil
	}
	v, err := t.marshal()
	if err != nil {
		return err
	}
	seq := atomic.AddUint64(&q.seq, 1)

	tx := q.journal.Begin()
	defer tx.Discard()
	if t.seq != 0 {
		if err := q.journal.DeleteTx(tx, t.seq); err != nil {
			return err
		}
	}
	if err := q.journal.PutTx(tx, seq, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	t.seq = seq
	return nil
}

func (q *Queue) journalDelete(t Task) error {
	if q.journal == nil || t.seq == 0 {
		return nil
	}
	return q.journal.Delete(t.seq)
}

// Run starts the worker, it returns immediately.
// The worker stops when ctx is canceled or Shutdown is called.
func (q *Queue) Run(ctx context.Context) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done != nil {
		return ErrAlreadyRunning
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	atomic.StoreInt32(&q.alive, 1)
	go q.work(ctx, q.done)
	return nil
}

func (q *Queue) work(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer atomic.StoreInt32(&q.alive, 0)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("upload worker panic: %v", r)
			level.Error(q.logger).Log("msg", "upload worker crashed", "error", err)
			q.mu.Lock()
			q.err = err
			q.mu.Unlock()
		}
	}()

	level.Info(q.logger).Log("msg", "upload worker started", "poll_interval", q.pollInterval)

	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if q.finalDrain {
				q.drainOnShutdown()
			}
			level.Info(q.logger).Log("msg", "upload worker stopped", "pending", q.Len())
			return
		case <-timer.C:
			q.drain(ctx)
			timer.Reset(q.pollInterval)
		}
	}
}

func (q *Queue) drainOnShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), q.drainTimeout)
	defer cancel()
	level.Info(q.logger).Log("msg", "final upload drain", "pending", q.Len(), "timeout", q.drainTimeout)
	q.drain(ctx)
}

// drain uploads tasks from the head until the queue is empty or an upload fails,
// a failed task goes back to the tail and waits for the next tick.
// It returns the number of uploaded tasks.
func (q *Queue) drain(ctx context.Context) int {
	var uploaded int
	for {
		t, ok := q.pop()
		if !ok {
			return uploaded
		}

		if err := q.uploader.Upload(ctx, t); err != nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.ResultError).Inc()
			level.Warn(q.logger).Log("msg", "upload failed, requeued", "path", t.LocalPath, "error", err)
			if err := q.journalMove(&t); err != nil {
				level.Error(q.logger).Log("msg", "can't journal requeued task", "path", t.LocalPath, "error", err)
			}
			q.push(t)
			return uploaded
		}

		uploaded++
		q.metrics.UploadsTotal.WithLabelValues(metrics.ResultOK).Inc()
		if err := q.journalDelete(t); err != nil {
			level.Error(q.logger).Log("msg", "can't remove uploaded task from journal", "path", t.LocalPath, "error", err)
		}

		if q.compress == nil {
			continue
		}
		if _, err := q.compress(t.LocalPath); err != nil {
			q.metrics.CompressionFailures.Inc()
			level.Warn(q.logger).Log("msg", "can't compress uploaded file", "path", t.LocalPath, "error", err)
		}

		if ctx.Err() != nil {
			return uploaded
		}
	}
}

// Shutdown stops the worker and waits for it to terminate.
// Tasks still queued stay in the journal, unless a final drain was configured and succeeds.
func (q *Queue) Shutdown() error {
	q.closeMu.Lock()
	q.closed = true
	q.closeMu.Unlock()

	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return q.Err()
}

// IsAlive reports whether the worker is still running.
func (q *Queue) IsAlive() bool {
	return atomic.LoadInt32(&q.alive) == 1
}

// Err returns the error that terminated the worker, if it crashed.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}
