package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/akhenakh/nodeacq/frame"
)

var (
	out        = flag.String("out", "-", "where to write the frames, a fifo, a pty or - for stdout")
	interval   = flag.Duration("interval", time.Second, "time between two frames")
	count      = flag.Int("count", 0, "number of frames to send, 0 for no limit")
	samples    = flag.Int("samples", 64, "raw samples per frame")
	badEvery   = flag.Int("badEvery", 0, "corrupt the checksum of every nth frame")
	noFixEvery = flag.Int("noFixEvery", 0, "drop the GPS fix of every nth frame")
	lat        = flag.Float64("lat", 48.8, "The Latitude")
	lng        = flag.Float64("lng", 2.2, "The Longitude")
)

func main() {
	flag.Parse()

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.OpenFile(*out, os.O_WRONLY, 0)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		w = f
	}

	fmt.Fprintf(w, "# fakeframes starting\n")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 1; *count == 0 || i <= *count; i++ {
		l := fakeLine(i)
		sum := l.Checksum()
		if *badEvery > 0 && i%*badEvery == 0 {
			sum++
		}
		if _, err := io.WriteString(w, l.Format(sum)); err != nil {
			log.Fatal(err)
		}
		<-ticker.C
	}
}

func fakeLine(i int) frame.Line {
	ts := time.Now().Unix()
	l := frame.Line{
		Timestamp:      &ts,
		Flags:          frame.Flags{GPSFix: true},
		SampleRate:     20000,
		Latitude:       *lat + rand.Float64()/1000,
		Longitude:      *lng + rand.Float64()/1000,
		Elevation:      35,
		SatelliteCount: uint16(4 + rand.Intn(8)),
		Speed:          rand.Float64(),
		Angle:          rand.Float64() * 360,
		Raw:            make([]int64, *samples),
	}
	if *noFixEvery > 0 && i%*noFixEvery == 0 {
		l.Flags.GPSFix = false
		l.SatelliteCount = 0
	}
	for j := range l.Raw {
		l.Raw[j] = int64(rand.Intn(1024))
		if l.Raw[j] == 1023 || l.Raw[j] == 0 {
			l.Flags.Clipping = true
		}
	}
	return l
}
