package status

import (
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type Color int

const (
	Off Color = iota
	Red
	Green
	Blue
	Cyan
	Magenta
	Yellow
	White
)

var colorNames = map[Color]string{
	Off:     "off",
	Red:     "red",
	Green:   "green",
	Blue:    "blue",
	Cyan:    "cyan",
	Magenta: "magenta",
	Yellow:  "yellow",
	White:   "white",
}

func (c Color) String() string {
	if s, ok := colorNames[c]; ok {
		return s
	}
	return "unknown"
}

// RGB returns which of the red, green and blue channels are lit for c.
func (c Color) RGB() (r, g, b bool) {
	switch c {
	case Red:
		return true, false, false
	case Green:
		return false, true, false
	case Blue:
		return false, false, true
	case Cyan:
		return false, true, true
	case Magenta:
		return true, false, true
	case Yellow:
		return true, true, false
	case White:
		return true, true, true
	}
	return false, false, false
}

// LED displays a status color.
type LED interface {
	Set(c Color) error
}

// LogLED only logs color changes, used when no LED is wired.
type LogLED struct {
	logger log.Logger
}

func NewLogLED(logger log.Logger) *LogLED {
	return &LogLED{logger: log.With(logger, "component", "led")}
}

func (l *LogLED) Set(c Color) error {
	level.Debug(l.logger).Log("msg", "status color", "color", c)
	return nil
}
