package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	MetadataStart = "## BEGIN METADATA ##"
	MetadataEnd   = "## END METADATA ##"

	// Version of the capture file layout written in the preamble
	Version = 3

	KeyCaptureID  = "CAPTURE_ID"
	KeySampleRate = "SAMPLE_RATE"
	KeyNodeID     = "NODE_ID"
	KeyCreated    = "CREATED"
	KeyVersion    = "VERSION"
)

// ErrNoMetadata is returned by ReadMetadata when no complete preamble is found.
var ErrNoMetadata = errors.New("no metadata preamble")

// Metadata is written at the top of every capture file.
// It is created once per run then cloned into each rotated file.
type Metadata struct {
	captureID  uuid.UUID
	sampleRate float64
	extras     map[string]string
}

func NewMetadata(captureID uuid.UUID, sampleRate float64) *Metadata {
	return &Metadata{
		captureID:  captureID,
		sampleRate: sampleRate,
		extras:     make(map[string]string),
	}
}

func (m *Metadata) CaptureID() uuid.UUID {
	return m.captureID
}

func (m *Metadata) SampleRate() float64 {
	return m.sampleRate
}

// Set adds or replaces an extra key.
func (m *Metadata) Set(k, v string) {
	m.extras[k] = v
}

func (m *Metadata) Get(k string) (string, bool) {
	v, ok := m.extras[k]
	return v, ok
}

// Extras returns a copy of the caller set keys.
func (m *Metadata) Extras() map[string]string {
	res := make(map[string]string, len(m.extras))
	for k, v := range m.extras {
		res[k] = v
	}
	return res
}

func (m *Metadata) Clone() *Metadata {
	return &Metadata{
		captureID:  m.captureID,
		sampleRate: m.sampleRate,
		extras:     m.Extras(),
	}
}

// String renders the sentinel bounded preamble, one "# KEY value" line per entry.
func (m *Metadata) String() string {
	var sb strings.Builder
	sb.WriteString(MetadataStart + "\n")
	fmt.Fprintf(&sb, "# %s %s\n", KeyCaptureID, m.captureID)
	fmt.Fprintf(&sb, "# %s %s\n", KeySampleRate, strconv.FormatFloat(m.sampleRate, 'f', -1, 64))

	keys := make([]string, 0, len(m.extras))
	for k := range m.extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "# %s %s\n", k, m.extras[k])
	}

	sb.WriteString(MetadataEnd + "\n")
	return sb.String()
}

// ReadMetadata parses the preamble of a capture file.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	scanner := bufio.NewScanner(r)
	inside := false
	m := NewMetadata(uuid.Nil, 0)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == MetadataStart:
			inside = true
			continue
		case line == MetadataEnd:
			if !inside {
				return nil, fmt.Errorf("unexpected %q", MetadataEnd)
			}
			return m, nil
		case !inside:
			continue
		}

		kv := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "#")), " ", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid metadata line %q", line)
		}
		k, v := kv[0], strings.TrimSpace(kv[1])

		switch k {
		case KeyCaptureID:
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", KeyCaptureID, err)
			}
			m.captureID = id
		case KeySampleRate:
			sr, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", KeySampleRate, err)
			}
			m.sampleRate = sr
		default:
			m.extras[k] = v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return nil, ErrNoMetadata
}
