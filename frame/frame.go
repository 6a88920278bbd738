package frame

import "strings"

const (
	// DataMarker prefixes every data line sent by the microcontroller.
	DataMarker = '$'

	// CommentMarker prefixes lines that carry no frame, both on the wire and in capture files.
	CommentMarker = '#'

	// sampleZero is the raw ADC reading mapped to 0.0
	sampleZero = 512
)

// Flags holds the presence based status bits of a frame.
type Flags struct {
	GPSFix   bool `json:"gps_fix"`
	Clipping bool `json:"clipping"`
}

// ParseFlags reads a flags token, 'G' means GPS fix, 'O' input overload,
// any other character is ignored.
func ParseFlags(token string) Flags {
	return Flags{
		GPSFix:   strings.ContainsRune(token, 'G'),
		Clipping: strings.ContainsRune(token, 'O'),
	}
}

func (f Flags) String() string {
	var sb strings.Builder
	if f.GPSFix {
		sb.WriteByte('G')
	}
	if f.Clipping {
		sb.WriteByte('O')
	}
	return sb.String()
}

// Frame is one decoded telemetry sample.
type Frame struct {
	// Timestamp is the device clock in seconds since epoch, nil when the device did not send one
	Timestamp      *int64    `json:"timestamp"`
	Flags          Flags     `json:"flags"`
	SampleRate     float64   `json:"sample_rate"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Elevation      float64   `json:"elevation"`
	SatelliteCount uint16    `json:"satellite_count"`
	Speed          float64   `json:"speed"`
	Angle          float64   `json:"angle"`
	Samples        []float64 `json:"samples"`
}

func (f *Frame) HasGPSFix() bool {
	return f.Flags.GPSFix
}

func (f *Frame) IsClipping() bool {
	return f.Flags.Clipping
}

// Normalize maps a 10 bits ADC reading to [-1, 1).
func Normalize(raw int64) float64 {
	return float64(raw-sampleZero) / sampleZero
}
