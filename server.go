package nodeacq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/akhenakh/nodeacq/capture"
	"github.com/akhenakh/nodeacq/frame"
	"github.com/akhenakh/nodeacq/metrics"
	"github.com/akhenakh/nodeacq/offload"
	"github.com/akhenakh/nodeacq/serial"
	"github.com/akhenakh/nodeacq/status"
)

// LineSource reads one protocol line, waiting at most timeout.
type LineSource interface {
	ReadLine(ctx context.Context, timeout time.Duration) (string, error)
}

// Enqueuer receives the capture files to upload.
type Enqueuer interface {
	QueueUpload(t offload.Task) error
}

// StatusSink receives the decoded frames and the node state.
type StatusSink interface {
	PushFrame(f *frame.Frame)
	SetColor(c status.Color)
}

type Config struct {
	NodeID      string
	DataDir     string
	Bucket      string
	ReadTimeout time.Duration
	Rotation    capture.Rotation
}

// WithClock sets the wall clock used for rotations and capture file names.
func WithClock(now func() time.Time) func(*Server) {
	return func(s *Server) {
		s.now = now
	}
}

// Server is the acquisition loop, it owns the active capture file.
type Server struct {
	appName  string
	logger   log.Logger
	config   Config
	metadata *capture.Metadata

	source  LineSource
	queue   Enqueuer
	status  StatusSink
	metrics *metrics.Metrics

	now       func() time.Time
	file      *capture.File
	rotatedAt time.Time
	running   int32
}

func NewServer(
	appName string,
	logger log.Logger,
	cfg Config,
	md *capture.Metadata,
	source LineSource,
	queue Enqueuer,
	st StatusSink,
	m *metrics.Metrics,
	options ...func(*Server),
) *Server {
	logger = log.With(logger, "component", "acquisition")
	s := &Server{
		appName:  appName,
		logger:   logger,
		config:   cfg,
		metadata: md,
		source:   source,
		queue:    queue,
		status:   st,
		metrics:  m,
		now:      time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// IsRunning reports whether the loop is acquiring.
func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Run acquires lines until ctx is canceled or the device is gone.
// On exit the active capture file is closed and queued for upload if it holds any line.
func (s *Server) Run(ctx context.Context) error {
	s.status.SetColor(status.Magenta)

	if err := s.openFile(); err != nil {
		s.status.SetColor(status.Red)
		return err
	}

	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	s.status.SetColor(status.White)
	level.Info(s.logger).Log(
		"msg", "acquisition started",
		"capture_id", s.metadata.CaptureID(),
		"file", s.file.Path(),
	)

	err := s.loop(ctx)
	s.finish()
	return err
}

func (s *Server) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		if s.config.Rotation.Due(s.now(), s.rotatedAt, s.file.LinesWritten()) {
			if err := s.rotate(); err != nil {
				s.status.SetColor(status.Red)
				return err
			}
		}

		line, err := s.source.ReadLine(ctx, s.config.ReadTimeout)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, serial.ErrBrokenPipe):
				s.metrics.TransportErrors.WithLabelValues("broken_pipe").Inc()
				s.status.SetColor(status.Red)
				level.Error(s.logger).Log("msg", "serial device disconnected, stopping acquisition", "error", err)
				return err
			case errors.Is(err, serial.ErrTimeout):
				s.metrics.TransportErrors.WithLabelValues("timeout").Inc()
				level.Debug(s.logger).Log("msg", "no line before timeout", "timeout", s.config.ReadTimeout)
			case errors.Is(err, serial.ErrNoData):
				s.metrics.TransportErrors.WithLabelValues("no_data").Inc()
				level.Debug(s.logger).Log("msg", "no data from serial device")
			default:
				s.metrics.TransportErrors.WithLabelValues("io").Inc()
				level.Warn(s.logger).Log("msg", "serial read error", "error", err)
			}
			continue
		}

		s.handleLine(line)
	}
	return nil
}

func (s *Server) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, string(frame.CommentMarker)):
		text := strings.TrimSpace(strings.TrimPrefix(line, string(frame.CommentMarker)))
		if err := s.file.Comment(text); err != nil {
			level.Error(s.logger).Log("msg", "can't write comment", "error", err)
		}
		return
	case !strings.HasPrefix(line, string(frame.DataMarker)):
		level.Debug(s.logger).Log("msg", "discarding line", "line", strings.TrimSpace(line))
		return
	}

	start := time.Now()
	f, err := frame.Parse(line)
	if err != nil {
		s.handleDecodeError(line, err)
		return
	}

	s.status.SetColor(status.Green)
	s.metrics.FramesTotal.WithLabelValues(metrics.ResultOK).Inc()

	if err := s.file.WriteLine(withEOL(line[1:])); err != nil {
		level.Error(s.logger).Log("msg", "can't write frame", "error", err)
	}
	if f.Timestamp == nil {
		txt := fmt.Sprintf("ERR Missing timestamp, time as of writing is %.3f", float64(s.now().UnixNano())/1e9)
		if err := s.file.Comment(txt); err != nil {
			level.Error(s.logger).Log("msg", "can't write comment", "error", err)
		}
	}

	s.status.PushFrame(f)

	if !f.HasGPSFix() {
		level.Warn(s.logger).Log("msg", "no GPS fix, data may be misaligned for this second")
		s.status.SetColor(status.Yellow)
	}

	s.metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// handleDecodeError keeps the raw line in the capture for manual recovery
func (s *Server) handleDecodeError(line string, err error) {
	level.Error(s.logger).Log("msg", "can't decode frame", "error", err)

	kind := "unknown"
	var perr *frame.ProtocolError
	if errors.As(err, &perr) {
		kind = perr.Kind.String()
	}
	s.metrics.FramesTotal.WithLabelValues(metrics.ResultError).Inc()
	s.metrics.ProtocolErrors.WithLabelValues(kind).Inc()

	if err := s.file.WriteLine(withEOL(line)); err != nil {
		level.Error(s.logger).Log("msg", "can't write raw line", "error", err)
	}
	if err := s.file.Comment("ERR " + err.Error()); err != nil {
		level.Error(s.logger).Log("msg", "can't write comment", "error", err)
	}
	s.status.SetColor(status.Red)
}

func (s *Server) openFile() error {
	f, err := capture.New(s.config.DataDir, s.metadata, capture.WithClock(s.now))
	if err != nil {
		return err
	}
	if err := f.Init(); err != nil {
		f.Close()
		return fmt.Errorf("can't write capture metadata: %w", err)
	}
	s.file = f
	s.rotatedAt = f.Created()
	return nil
}

// rotate closes the active file, queues it and opens its replacement
func (s *Server) rotate() error {
	old := s.file
	s.closeAndQueue(old)

	if err := s.openFile(); err != nil {
		return err
	}
	s.metrics.RotationsTotal.Inc()
	s.status.SetColor(status.Cyan)
	level.Info(s.logger).Log("msg", "rotated capture file", "previous", old.Filename(), "file", s.file.Filename())
	return nil
}

func (s *Server) closeAndQueue(f *capture.File) {
	if err := f.Close(); err != nil {
		level.Error(s.logger).Log("msg", "can't close capture file", "file", f.Path(), "error", err)
	}
	t := offload.NewTask(s.config.Bucket, s.config.NodeID, f.Path())
	if err := s.queue.QueueUpload(t); err != nil {
		level.Error(s.logger).Log("msg", "can't queue capture file", "file", f.Path(), "error", err)
	}
}

// finish releases the active file, an empty one is removed
func (s *Server) finish() {
	if s.file.LinesWritten() > 0 {
		s.closeAndQueue(s.file)
		return
	}
	if err := s.file.Close(); err != nil {
		level.Error(s.logger).Log("msg", "can't close capture file", "file", s.file.Path(), "error", err)
	}
	if err := os.Remove(s.file.Path()); err != nil {
		level.Warn(s.logger).Log("msg", "can't remove empty capture file", "file", s.file.Path(), "error", err)
	}
}

func withEOL(line string) string {
	if strings.HasSuffix(line, "\n") {
		return line
	}
	return line + "\n"
}
