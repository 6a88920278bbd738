package offload

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	log "github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/nodeacq/metrics"
	"github.com/akhenakh/nodeacq/storage"
	bstore "github.com/akhenakh/nodeacq/storage/badger"
)

type fakeUploader struct {
	mu       sync.Mutex
	attempts []string
	fail     func(n int, t Task) error
}

func (u *fakeUploader) Upload(ctx context.Context, t Task) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts = append(u.attempts, t.LocalPath)
	if u.fail != nil {
		return u.fail(len(u.attempts), t)
	}
	return nil
}

func (u *fakeUploader) Attempts() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	res := make([]string, len(u.attempts))
	copy(res, u.attempts)
	return res
}

func paths(tasks []Task) []string {
	res := make([]string, len(tasks))
	for i, t := range tasks {
		res[i] = t.LocalPath
	}
	return res
}

func TestDrainRequeuesFailedTaskAtTail(t *testing.T) {
	u := &fakeUploader{fail: func(n int, t Task) error {
		if n == 2 {
			return errors.New("bucket unreachable")
		}
		return nil
	}}
	m := metrics.New(prometheus.NewRegistry())
	q, err := NewQueue(log.NewNopLogger(), u, WithCompressor(nil), WithMetrics(m))
	require.NoError(t, err)

	for _, p := range []string{"t1", "t2", "t3"} {
		require.NoError(t, q.QueueUpload(Task{Bucket: "b", LocalPath: p, RemotePath: "n/" + p}))
	}

	// t1 goes through, t2 fails, t3 waits for the next tick
	require.Equal(t, 1, q.drain(context.Background()))
	require.Equal(t, []string{"t1", "t2"}, u.Attempts())
	require.Equal(t, []string{"t3", "t2"}, paths(q.Pending()))
	require.Equal(t, 2.0, testutil.ToFloat64(m.UploadQueueLength))
	require.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(metrics.ResultError)))

	require.Equal(t, 2, q.drain(context.Background()))
	require.Equal(t, []string{"t1", "t2", "t3", "t2"}, u.Attempts())
	require.Equal(t, 0, q.Len())
	require.Equal(t, 3.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(metrics.ResultOK)))
}

func TestDrainCompressesUploadedFiles(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.csv")
	require.NoError(t, ioutil.WriteFile(ok, []byte("1,2,3\n"), 0o644))

	m := metrics.New(prometheus.NewRegistry())
	q, err := NewQueue(log.NewNopLogger(), &fakeUploader{}, WithMetrics(m))
	require.NoError(t, err)

	require.NoError(t, q.QueueUpload(Task{LocalPath: ok}))
	// already gone, compression fails but the task is still done
	require.NoError(t, q.QueueUpload(Task{LocalPath: filepath.Join(dir, "missing.csv")}))

	require.Equal(t, 2, q.drain(context.Background()))
	require.Equal(t, 0, q.Len())
	require.NoFileExists(t, ok)
	require.FileExists(t, ok+".gz")
	require.Equal(t, 1.0, testutil.ToFloat64(m.CompressionFailures))
}

func TestRunAndShutdown(t *testing.T) {
	u := &fakeUploader{}
	q, err := NewQueue(log.NewNopLogger(), u, WithCompressor(nil), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.False(t, q.IsAlive())

	require.NoError(t, q.Run(context.Background()))
	require.Equal(t, ErrAlreadyRunning, q.Run(context.Background()))
	require.True(t, q.IsAlive())

	require.NoError(t, q.QueueUpload(Task{LocalPath: "a"}))
	require.Eventually(t, func() bool { return q.Len() == 0 && len(u.Attempts()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Shutdown())
	require.False(t, q.IsAlive())
	require.Equal(t, ErrQueueClosed, q.QueueUpload(Task{LocalPath: "b"}))
}

func TestShutdownWithoutFinalDrainKeepsTasks(t *testing.T) {
	u := &fakeUploader{}
	q, err := NewQueue(log.NewNopLogger(), u, WithCompressor(nil), WithPollInterval(time.Hour))
	require.NoError(t, err)
	require.NoError(t, q.Run(context.Background()))
	require.NoError(t, q.QueueUpload(Task{LocalPath: "a"}))

	require.NoError(t, q.Shutdown())
	require.Empty(t, u.Attempts())
	require.Equal(t, 1, q.Len())
}

func TestShutdownWithFinalDrain(t *testing.T) {
	u := &fakeUploader{}
	q, err := NewQueue(log.NewNopLogger(), u,
		WithCompressor(nil),
		WithPollInterval(time.Hour),
		WithFinalDrain(time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, q.Run(context.Background()))
	require.NoError(t, q.QueueUpload(Task{LocalPath: "a"}))
	require.NoError(t, q.QueueUpload(Task{LocalPath: "b"}))

	require.NoError(t, q.Shutdown())
	require.Equal(t, []string{"a", "b"}, u.Attempts())
	require.Equal(t, 0, q.Len())
}

func TestWorkerPanicIsReported(t *testing.T) {
	u := &fakeUploader{fail: func(n int, t Task) error {
		panic("boom")
	}}
	q, err := NewQueue(log.NewNopLogger(), u, WithCompressor(nil), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, q.Run(context.Background()))
	require.NoError(t, q.QueueUpload(Task{LocalPath: "a"}))

	require.Eventually(t, func() bool { return !q.IsAlive() }, time.Second, time.Millisecond)
	require.Error(t, q.Err())
	require.Error(t, q.Shutdown())
}

func openJournal(t *testing.T, dir string) (*bstore.Journal, func()) {
	opt := badger.DefaultOptions(dir)
	opt.Logger = nil
	db, err := badger.Open(opt)
	require.NoError(t, err)
	return &bstore.Journal{DB: db}, func() { db.Close() }
}

func TestJournalSurvivesRestart(t *testing.T) {
	dir, err := ioutil.TempDir("", "journal")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	j, closeJournal := openJournal(t, dir)
	u := &fakeUploader{fail: func(n int, t Task) error {
		if n == 2 {
			return errors.New("denied")
		}
		return nil
	}}
	q, err := NewQueue(log.NewNopLogger(), u, WithCompressor(nil), WithJournal(j))
	require.NoError(t, err)
	require.NoError(t, q.QueueUpload(NewTask("b", "node42", "/data/t1")))
	require.NoError(t, q.QueueUpload(NewTask("b", "node42", "/data/t2")))
	require.NoError(t, q.QueueUpload(NewTask("b", "node42", "/data/t3")))
	q.drain(context.Background())
	require.Equal(t, []string{"/data/t3", "/data/t2"}, paths(q.Pending()))
	closeJournal()

	j, closeJournal = openJournal(t, dir)
	defer closeJournal()
	q, err = NewQueue(log.NewNopLogger(), &fakeUploader{}, WithCompressor(nil), WithJournal(j))
	require.NoError(t, err)

	pending := q.Pending()
	require.Equal(t, []string{"/data/t3", "/data/t2"}, paths(pending))
	require.Equal(t, "node42/t3", pending[0].RemotePath)
	require.Equal(t, "b", pending[0].Bucket)

	// seqs keep growing after a reload
	require.NoError(t, q.QueueUpload(NewTask("b", "node42", "/data/t4")))
	require.Equal(t, 3, q.drain(context.Background()))

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestNewTask(t *testing.T) {
	task := NewTask("captures", "node42", "/var/lib/nodeacq/node42_20240305_140709_0123abcd.csv")
	require.Equal(t, "captures", task.Bucket)
	require.Equal(t, "node42/node42_20240305_140709_0123abcd.csv", task.RemotePath)
	require.Equal(t, "UNKNOWN/x.csv", RemoteKey("", "x.csv"))
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("http://localhost:9000")
	require.NoError(t, err)
	require.Equal(t, "localhost:9000", host)
	require.False(t, secure)

	host, secure, err = parseEndpoint("s3.amazonaws.com")
	require.NoError(t, err)
	require.Equal(t, "s3.amazonaws.com", host)
	require.True(t, secure)

	_, _, err = parseEndpoint("ftp://example.com")
	require.Error(t, err)
}

// fullJournal refuses new entries, like a journal on a full disk
type fullJournal struct {
	mu      sync.Mutex
	entries map[uint64][]byte
	full    bool
}

type nopTx struct{}

func (nopTx) Discard()      {}
func (nopTx) Commit() error { return nil }

func (j *fullJournal) Put(seq uint64, v []byte) error { return j.PutTx(nopTx{}, seq, v) }

func (j *fullJournal) PutTx(tx storage.Tx, seq uint64, v []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.full {
		return syscall.ENOSPC
	}
	j.entries[seq] = v
	return nil
}

func (j *fullJournal) Delete(seq uint64) error { return j.DeleteTx(nopTx{}, seq) }

func (j *fullJournal) DeleteTx(tx storage.Tx, seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, seq)
	return nil
}

func (j *fullJournal) Entries() ([]storage.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var res []storage.Entry
	for seq, v := range j.entries {
		res = append(res, storage.Entry{Seq: seq, Value: v})
	}
	sort.Slice(res, func(a, b int) bool { return res[a].Seq < res[b].Seq })
	return res, nil
}

func (j *fullJournal) Begin() storage.Tx { return nopTx{} }

func TestQueueUploadKeepsTaskWhenJournalFails(t *testing.T) {
	j := &fullJournal{entries: make(map[uint64][]byte), full: true}
	u := &fakeUploader{fail: func(n int, t Task) error {
		return errors.New("offline")
	}}
	q, err := NewQueue(log.NewNopLogger(), u, WithCompressor(nil), WithJournal(j))
	require.NoError(t, err)

	require.NoError(t, q.QueueUpload(NewTask("b", "node42", "/data/t1")))
	require.Equal(t, []string{"/data/t1"}, paths(q.Pending()))

	// once the disk has room again a requeue journals the task
	j.mu.Lock()
	j.full = false
	j.mu.Unlock()
	q.drain(context.Background())
	require.Equal(t, []string{"/data/t1"}, paths(q.Pending()))
	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	u.fail = nil
	require.Equal(t, 1, q.drain(context.Background()))
	entries, err = j.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestQueueUploadConcurrentWithShutdown(t *testing.T) {
	q, err := NewQueue(log.NewNopLogger(), &fakeUploader{}, WithCompressor(nil), WithPollInterval(time.Hour))
	require.NoError(t, err)
	require.NoError(t, q.Run(context.Background()))

	var accepted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if q.QueueUpload(Task{LocalPath: strconv.Itoa(i)}) == nil {
				atomic.AddInt64(&accepted, 1)
			}
		}(i)
	}
	require.NoError(t, q.Shutdown())
	wg.Wait()

	// every accepted task is queued, none slipped in after the close
	require.Equal(t, int(atomic.LoadInt64(&accepted)), q.Len())
	require.Equal(t, ErrQueueClosed, q.QueueUpload(Task{LocalPath: "late"}))
	require.Equal(t, int(atomic.LoadInt64(&accepted)), q.Len())
}
