package frame

import (
	"strconv"
	"strings"
)

// tokens walks the comma separated fields of a line
type tokens struct {
	parts []string
	pos   int
}

func (t *tokens) next(field string) (string, error) {
	if t.pos >= len(t.parts) {
		return "", &ProtocolError{Kind: MissingField, Field: field}
	}
	p := strings.TrimSpace(t.parts[t.pos])
	t.pos++
	return p, nil
}

func (t *tokens) remaining() int {
	return len(t.parts) - t.pos
}

func (t *tokens) float(field string) (float64, error) {
	p, err := t.next(field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(p, 64)
	if err != nil {
		return 0, &ProtocolError{Kind: FieldParse, Field: field, Err: err}
	}
	return v, nil
}

func (t *tokens) uint(field string, bitSize int) (uint64, error) {
	p, err := t.next(field)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(p, 10, bitSize)
	if err != nil {
		return 0, &ProtocolError{Kind: FieldParse, Field: field, Err: err}
	}
	return v, nil
}

// Parse decodes one protocol line into a Frame.
// A leading DataMarker is stripped, the trailing line break is ignored.
// The returned error is always a *ProtocolError, no partial Frame is returned.
func Parse(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, string(DataMarker))

	t := &tokens{parts: strings.Split(line, ",")}
	f := &Frame{}

	// an unparsable timestamp is not fatal, the device may not have a clock yet
	p, err := t.next("timestamp")
	if err != nil {
		return nil, err
	}
	if ts, err := strconv.ParseInt(p, 10, 64); err == nil {
		f.Timestamp = &ts
	}

	p, err = t.next("flags")
	if err != nil {
		return nil, err
	}
	f.Flags = ParseFlags(p)

	if f.SampleRate, err = t.float("sample_rate"); err != nil {
		return nil, err
	}
	if f.Latitude, err = t.float("latitude"); err != nil {
		return nil, err
	}
	if f.Longitude, err = t.float("longitude"); err != nil {
		return nil, err
	}
	if f.Elevation, err = t.float("elevation"); err != nil {
		return nil, err
	}
	sats, err := t.uint("satellite_count", 16)
	if err != nil {
		return nil, err
	}
	f.SatelliteCount = uint16(sats)
	if f.Speed, err = t.float("speed"); err != nil {
		return nil, err
	}
	if f.Angle, err = t.float("angle"); err != nil {
		return nil, err
	}
	n, err := t.uint("sample_count", 16)
	if err != nil {
		return nil, err
	}

	// the checksum is always the last token after the n samples
	if uint64(t.remaining()) < n+1 {
		if n == 0 {
			return nil, &ProtocolError{Kind: MissingField, Field: "checksum"}
		}
		got := 0
		if t.remaining() > 0 {
			got = t.remaining() - 1
		}
		return nil, &ProtocolError{Kind: SampleCountMismatch, Want: n, Got: uint64(got)}
	}

	f.Samples = make([]float64, 0, n)
	var sum uint64
	for i := uint64(0); i < n; i++ {
		p, err := t.next("sample")
		if err != nil {
			return nil, err
		}
		raw, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, &ProtocolError{Kind: FieldParse, Field: "sample", Err: err}
		}
		// negative readings wrap like the device unsigned accumulator
		sum += uint64(raw)
		f.Samples = append(f.Samples, Normalize(raw))
	}

	checksum, err := t.uint("checksum", 64)
	if err != nil {
		return nil, err
	}
	if checksum != sum {
		return nil, &ProtocolError{Kind: ChecksumMismatch, Want: checksum, Got: sum}
	}

	return f, nil
}
