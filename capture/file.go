package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	filenameTimeLayout = "20060102_150405"
	unknownNode        = "UNKNOWN"
	maxFilenameSuffix  = 1000
)

// WithClock sets the function used to stamp the creation time.
func WithClock(now func() time.Time) func(*File) {
	return func(f *File) {
		f.now = now
	}
}

// File is an append only capture file, owned by a single goroutine.
type File struct {
	dir      string
	filename string
	created  time.Time
	metadata *Metadata

	f            *os.File
	w            *bufio.Writer
	linesWritten int

	now func() time.Time
}

// New creates dir if needed and opens a new capture file in it.
// An existing file is never overwritten, a _N suffix is added to the name instead.
// The creation time and layout version are stamped into md extras so the header reflects reality,
// the file keeps its own copy of md.
func New(dir string, md *Metadata, options ...func(*File)) (*File, error) {
	cf := &File{
		dir: dir,
		now: time.Now,
	}
	for _, option := range options {
		option(cf)
	}

	cf.created = cf.now().UTC()
	md.Set(KeyCreated, cf.created.Format(time.RFC3339))
	md.Set(KeyVersion, strconv.Itoa(Version))

	node, ok := md.Get(KeyNodeID)
	if !ok || node == "" {
		node = unknownNode
	}
	base := fmt.Sprintf("%s_%s_%s",
		node,
		cf.created.Format(filenameTimeLayout),
		md.CaptureID().String()[:8],
	)
	cf.metadata = md.Clone()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("can't create capture dir %s: %w", dir, err)
	}

	// several rotations can happen within the same second, never reuse an existing file
	var f *os.File
	for i := 0; ; i++ {
		cf.filename = base + ".csv"
		if i > 0 {
			cf.filename = fmt.Sprintf("%s_%d.csv", base, i)
		}

		// an uploaded file only remains compressed
		if _, err := os.Stat(cf.Path() + ".gz"); err == nil {
			continue
		}

		var err error
		f, err = os.OpenFile(cf.Path(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) || i >= maxFilenameSuffix {
			return nil, fmt.Errorf("can't create capture file: %w", err)
		}
	}
	cf.f = f
	cf.w = bufio.NewWriter(f)

	return cf, nil
}

// Init writes the metadata preamble.
func (cf *File) Init() error {
	if _, err := cf.w.WriteString(cf.metadata.String()); err != nil {
		return err
	}
	return cf.w.Flush()
}

// WriteLine appends text verbatim, the caller provides the line break.
// Every line is flushed to the OS right away.
func (cf *File) WriteLine(text string) error {
	if _, err := cf.w.WriteString(text); err != nil {
		return err
	}
	if err := cf.w.Flush(); err != nil {
		return err
	}
	cf.linesWritten++
	return nil
}

// Comment writes text as a comment line, readers skip them when decoding frames.
func (cf *File) Comment(text string) error {
	return cf.WriteLine("# " + text + "\n")
}

func (cf *File) LinesWritten() int {
	return cf.linesWritten
}

func (cf *File) Path() string {
	return filepath.Join(cf.dir, cf.filename)
}

func (cf *File) Filename() string {
	return cf.filename
}

func (cf *File) Created() time.Time {
	return cf.created
}

func (cf *File) Metadata() *Metadata {
	return cf.metadata
}

// Close flushes the buffered bytes, syncs and releases the file.
// It is safe to call Close more than once.
func (cf *File) Close() error {
	if cf.f == nil {
		return nil
	}
	f := cf.f
	cf.f = nil

	if err := cf.w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
