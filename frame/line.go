package frame

import (
	"strconv"
	"strings"
)

// Line is the wire representation of a frame before normalization,
// used to generate protocol lines for tools and tests.
type Line struct {
	Timestamp      *int64
	Flags          Flags
	SampleRate     float64
	Latitude       float64
	Longitude      float64
	Elevation      float64
	SatelliteCount uint16
	Speed          float64
	Angle          float64
	Raw            []int64
}

// Checksum returns the sum of the raw samples as computed by the device.
func (l *Line) Checksum() uint64 {
	var sum uint64
	for _, r := range l.Raw {
		sum += uint64(r)
	}
	return sum
}

// String renders the line with its DataMarker and newline.
func (l *Line) String() string {
	return l.Format(l.Checksum())
}

// Format renders the line using the given checksum, newline terminated.
func (l *Line) Format(checksum uint64) string {
	fields := make([]string, 0, 11+len(l.Raw))
	if l.Timestamp != nil {
		fields = append(fields, strconv.FormatInt(*l.Timestamp, 10))
	} else {
		fields = append(fields, "")
	}
	fields = append(fields,
		l.Flags.String(),
		formatFloat(l.SampleRate),
		formatFloat(l.Latitude),
		formatFloat(l.Longitude),
		formatFloat(l.Elevation),
		strconv.FormatUint(uint64(l.SatelliteCount), 10),
		formatFloat(l.Speed),
		formatFloat(l.Angle),
		strconv.Itoa(len(l.Raw)),
	)
	for _, r := range l.Raw {
		fields = append(fields, strconv.FormatInt(r, 10))
	}
	fields = append(fields, strconv.FormatUint(checksum, 10))

	return string(DataMarker) + strings.Join(fields, ",") + "\n"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
