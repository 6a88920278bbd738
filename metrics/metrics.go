package metrics

import (
	"github.com/golang/geo/s2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "nodeacq"

	ResultLabel = "result"
	ResultOK    = "ok"
	ResultError = "error"

	KindLabel = "kind"
	CellLabel = "cell"

	// s2 level used to bucket positions, ~600m cells
	cellLevel = 13
)

// TickBuckets are the histogram buckets of the per frame processing time in seconds.
var TickBuckets = []float64{0.0, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 1.0, 10.0}

// Metrics is the fixed set of handles exported by the daemon.
type Metrics struct {
	FramesTotal         *prometheus.CounterVec
	ProtocolErrors      *prometheus.CounterVec
	TransportErrors     *prometheus.CounterVec
	GPSSatellites       prometheus.Gauge
	CellSatellites      *prometheus.GaugeVec
	TickDuration        prometheus.Histogram
	RotationsTotal      prometheus.Counter
	UploadsTotal        *prometheus.CounterVec
	UploadQueueLength   prometheus.Gauge
	CompressionFailures prometheus.Counter
}

// New registers all the handles on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "The total number of data lines received by decoding result",
			},
			[]string{ResultLabel},
		),
		ProtocolErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_errors_total",
				Help:      "The total number of frames dropped by decoding error kind",
			},
			[]string{KindLabel},
		),
		TransportErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "The total number of serial read errors by kind",
			},
			[]string{KindLabel},
		),
		GPSSatellites: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gps_satellite_count",
				Help:      "Number of satellites in GPS fix",
			},
		),
		CellSatellites: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gps_cell_satellite_count",
				Help:      "Number of satellites in GPS fix by s2 cell of the last position",
			},
			[]string{CellLabel},
		),
		TickDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "heartbeat_tick_time_seconds",
				Help:      "Time spent processing one data line",
				Buckets:   TickBuckets,
			},
		),
		RotationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rotations_total",
				Help:      "The total number of capture file rotations",
			},
		),
		UploadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "The total number of upload attempts by result",
			},
			[]string{ResultLabel},
		),
		UploadQueueLength: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upload_queue_length",
				Help:      "Number of capture files waiting for upload",
			},
		),
		CompressionFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compression_failures_total",
				Help:      "The total number of uploaded files that could not be compressed",
			},
		),
	}
}

// CellToken returns the token of the s2 cell containing lat lng.
func CellToken(lat, lng float64) string {
	c := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng))
	return c.Parent(cellLevel).ToToken()
}
