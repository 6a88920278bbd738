package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/nodeacq"
	"github.com/akhenakh/nodeacq/capture"
	"github.com/akhenakh/nodeacq/config"
	"github.com/akhenakh/nodeacq/metrics"
	"github.com/akhenakh/nodeacq/offload"
	"github.com/akhenakh/nodeacq/serial"
	"github.com/akhenakh/nodeacq/status"
	badgerstore "github.com/akhenakh/nodeacq/storage/badger"
	"github.com/akhenakh/nodeacq/web"
)

const appName = "nodeacqd"

var (
	version = "no version from LDFLAGS"

	configPath = flag.String("config", "nodeacq.toml", "node configuration file")
	logLevel   = flag.String("logLevel", "info", "log level: debug, info, warn or error")

	httpMetricsPort = flag.Int("httpMetricsPort", 8888, "http port")
	httpAPIPort     = flag.Int("httpAPIPort", 8003, "http API port")
	healthPort      = flag.Int("healthPort", 6666, "grpc health port")
)

func main() {
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	logger = level.NewFilter(logger, levelOption(*logLevel))

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "error", err, "path", *configPath)
		os.Exit(2)
	}

	md := capture.NewMetadata(uuid.New(), cfg.Acquire.SampleRate)
	if cfg.Acquire.NodeID != "" {
		md.Set(capture.KeyNodeID, cfg.Acquire.NodeID)
	}
	level.Info(logger).Log("msg", "new capture", "node_id", cfg.Acquire.NodeID, "capture_id", md.CaptureID())

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// every series carries the node and capture
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(prometheus.WrapRegistererWith(prometheus.Labels{
		"node_id":    cfg.Acquire.NodeID,
		"capture_id": md.CaptureID().String(),
	}, reg))

	// Badger
	journalDir := cfg.Storage.JournalDir
	if journalDir == "" {
		journalDir = filepath.Join(cfg.Acquire.DataDir, ".journal")
	}
	opts := badger.DefaultOptions(journalDir)
	opts.Logger = nil
	opts.TableLoadingMode = options.FileIO

	bdb, err := badger.Open(opts)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open DB", "error", err, "path", journalDir)
		os.Exit(2)
	}
	defer bdb.Close()

	uploader, err := offload.NewMinioUploader(logger, cfg.Storage.Endpoint, cfg.Storage.Key, cfg.Storage.Secret)
	if err != nil {
		level.Error(logger).Log("msg", "can't create uploader", "error", err)
		os.Exit(2)
	}

	qopts := []func(*offload.Queue){
		offload.WithJournal(&badgerstore.Journal{DB: bdb}),
		offload.WithPollInterval(cfg.Storage.PollInterval),
		offload.WithMetrics(m),
	}
	if cfg.Storage.FinalDrain {
		qopts = append(qopts, offload.WithFinalDrain(cfg.Storage.DrainTimeout))
	}
	if !cfg.Storage.Compress {
		qopts = append(qopts, offload.WithCompressor(nil))
	}
	queue, err := offload.NewQueue(logger, uploader, qopts...)
	if err != nil {
		level.Error(logger).Log("msg", "can't create upload queue", "error", err)
		os.Exit(2)
	}

	var led status.LED = status.NewLogLED(logger)
	if pins := cfg.Status.LEDPins; len(pins) == 3 {
		gled, err := status.NewGPIOLED(cfg.Status.LEDChip, pins[0], pins[1], pins[2])
		if err != nil {
			level.Warn(logger).Log("msg", "can't use gpio led, logging colors only", "error", err)
		} else {
			defer gled.Close()
			led = gled
		}
	}
	st := status.NewService(logger, m, led)

	port, err := serial.Open(cfg.Acquire.SerialPort, cfg.Acquire.BaudRate)
	if err != nil {
		level.Error(logger).Log("msg", "can't open serial port", "error", err)
		os.Exit(2)
	}
	lines := serial.NewLineReader(port)
	defer lines.Close()

	s := nodeacq.NewServer(appName, logger, nodeacq.Config{
		NodeID:      cfg.Acquire.NodeID,
		DataDir:     cfg.Acquire.DataDir,
		Bucket:      cfg.Storage.Bucket,
		ReadTimeout: cfg.Acquire.ReadTimeout,
		Rotation: capture.Rotation{
			Interval: cfg.Acquire.RotationInterval,
			MaxLines: cfg.Acquire.RotationLines,
		},
	}, md, lines, queue, st, m)

	// servers are built before their goroutines so shutdown never races their creation
	healthServer := health.NewServer()
	grpcHealthServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpMetricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      metricsMux,
	}

	ws := web.NewServer(appName, logger, st, queue)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *httpAPIPort),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      ws.Handler(),
	}

	// gRPC Health Server
	g.Go(func() error {
		haddr := fmt.Sprintf(":%d", *healthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC Health server: failed to listen", "error", err)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC health server serving at %s", haddr))
		return grpcHealthServer.Serve(hln)
	})

	// web server metrics
	g.Go(func() error {
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server serving at :%d", *httpMetricsPort))

		if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// web server
	g.Go(func() error {
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server serving at :%d", *httpAPIPort))

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	if err := queue.Run(context.Background()); err != nil {
		level.Error(logger).Log("msg", "can't start upload worker", "error", err)
		os.Exit(2)
	}

	// acquisition, stopping it ends the process
	acqCtx, acqCancel := context.WithCancel(ctx)
	defer acqCancel()
	acqDone := make(chan struct{})
	g.Go(func() error {
		defer close(acqDone)
		defer cancel()
		return s.Run(acqCtx)
	})

	// health reflects both the acquisition and the upload worker
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			serving := healthpb.HealthCheckResponse_NOT_SERVING
			if s.IsRunning() && queue.IsAlive() {
				serving = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), serving)

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	select {
	case <-interrupt:
		cancel()
		break
	case <-ctx.Done():
		break
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_NOT_SERVING)

	// the acquisition has to stop before the queue so the last file is queued
	acqCancel()
	<-acqDone
	if err := queue.Shutdown(); err != nil {
		level.Error(logger).Log("msg", "upload worker terminated with an error", "error", err)
	}
	level.Info(logger).Log("msg", "upload queue stopped", "pending", queue.Len())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	_ = httpMetricsServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)
	grpcHealthServer.GracefulStop()

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
	}
}

func levelOption(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
