// Package serial reads protocol lines from the node microcontroller.
package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	tarm "github.com/tarm/serial"
)

// port level timeout, the blocking read returns empty handed after it
const portReadTimeout = 500 * time.Millisecond

var (
	// ErrTimeout is returned when no complete line arrived in time.
	ErrTimeout = errors.New("serial read timeout")

	// ErrNoData is returned when the device returned without data,
	// any partial line is kept for the next read.
	ErrNoData = errors.New("serial no data")

	// ErrBrokenPipe means the device is gone, no more lines will be read.
	ErrBrokenPipe = errors.New("serial broken pipe")
)

// Open opens the serial device name at baud.
func Open(name string, baud int) (*tarm.Port, error) {
	c := &tarm.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: portReadTimeout,
	}
	p, err := tarm.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("can't open serial port %s: %w", name, err)
	}
	return p, nil
}

type result struct {
	line string
	err  error
}

// LineReader reads newline terminated lines from a blocking reader.
// Reads happen in a dedicated goroutine so a stalled device never blocks the caller
// past its timeout, a line completed after its deadline is dropped.
type LineReader struct {
	rc  io.ReadCloser
	br  *bufio.Reader
	buf strings.Builder

	reqs chan chan result
	quit chan struct{}
	dead chan struct{}
	err  error

	closeOnce sync.Once
}

// NewLineReader starts reading lines from rc.
func NewLineReader(rc io.ReadCloser) *LineReader {
	l := &LineReader{
		rc:   rc,
		br:   bufio.NewReader(rc),
		reqs: make(chan chan result),
		quit: make(chan struct{}),
		dead: make(chan struct{}),
	}
	go l.pump()
	return l
}

func (l *LineReader) pump() {
	defer close(l.dead)
	for {
		select {
		case <-l.quit:
			l.err = ErrBrokenPipe
			return
		case reply := <-l.reqs:
			line, err := l.readLine()
			reply <- result{line: line, err: err}
			if errors.Is(err, ErrBrokenPipe) {
				l.err = err
				return
			}
		}
	}
}

// readLine accumulates bytes across calls until a full line is read
func (l *LineReader) readLine() (string, error) {
	s, err := l.br.ReadString('\n')
	l.buf.WriteString(s)
	if err == nil {
		line := l.buf.String()
		l.buf.Reset()
		return line, nil
	}

	switch {
	case errors.Is(err, io.EOF):
		return "", ErrNoData
	case isBrokenPipe(err):
		return "", fmt.Errorf("%w: %v", ErrBrokenPipe, err)
	default:
		return "", fmt.Errorf("serial read: %w", err)
	}
}

// ReadLine returns the next line, including its line break.
// It returns ErrTimeout if no line was available within timeout.
func (l *LineReader) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	reply := make(chan result, 1)
	select {
	case l.reqs <- reply:
	case <-l.dead:
		return "", l.err
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-reply:
		return res.line, res.err
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the reader and closes the underlying device.
func (l *LineReader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		err = l.rc.Close()
	})
	return err
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ENXIO) ||
		errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, os.ErrClosed)
}
