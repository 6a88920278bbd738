// Package status keeps the last decoded frame and reflects the node state on the LED and metrics.
package status

import (
	"sync"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/akhenakh/nodeacq/frame"
	"github.com/akhenakh/nodeacq/metrics"
)

type Service struct {
	logger  log.Logger
	metrics *metrics.Metrics
	led     LED

	mu       sync.RWMutex
	last     *frame.Frame
	received time.Time
	color    Color
	lastCell string
}

func NewService(logger log.Logger, m *metrics.Metrics, led LED) *Service {
	return &Service{
		logger:  log.With(logger, "component", "status"),
		metrics: m,
		led:     led,
	}
}

// PushFrame caches f as the last frame and updates the gauges.
func (s *Service) PushFrame(f *frame.Frame) {
	s.metrics.GPSSatellites.Set(float64(f.SatelliteCount))

	var cell string
	if f.HasGPSFix() {
		cell = metrics.CellToken(f.Latitude, f.Longitude)
	}

	s.mu.Lock()
	s.last = f
	s.received = time.Now()
	prevCell := s.lastCell
	if cell != "" {
		s.lastCell = cell
	}
	s.mu.Unlock()

	if cell == "" {
		return
	}
	// only the current cell is exported
	if prevCell != "" && prevCell != cell {
		s.metrics.CellSatellites.DeleteLabelValues(prevCell)
	}
	s.metrics.CellSatellites.WithLabelValues(cell).Set(float64(f.SatelliteCount))
}

// LastFrame returns the last pushed frame and when it was received.
func (s *Service) LastFrame() (*frame.Frame, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.received, s.last != nil
}

// SetColor displays c, LED failures are only logged.
func (s *Service) SetColor(c Color) {
	s.mu.Lock()
	if s.color == c {
		s.mu.Unlock()
		return
	}
	s.color = c
	s.mu.Unlock()

	if err := s.led.Set(c); err != nil {
		level.Warn(s.logger).Log("msg", "can't set led color", "color", c, "error", err)
	}
}

func (s *Service) Color() Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.color
}
