package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/akhenakh/nodeacq/frame"
)

var (
	ts         = flag.Int64("ts", 1700000000, "device timestamp, negative to omit it")
	flags      = flag.String("flags", "G", "flag characters, G for GPS fix, O for clipping")
	sampleRate = flag.Float64("sampleRate", 20000, "the sample rate")
	lat        = flag.Float64("lat", 48.8, "The Latitude")
	lng        = flag.Float64("lng", 2.2, "The Longitude")
	elevation  = flag.Float64("elevation", 35, "The elevation")
	satellites = flag.Uint("satellites", 7, "satellites in fix")
	speed      = flag.Float64("speed", 0, "speed")
	angle      = flag.Float64("angle", 0, "angle")
	samples    = flag.String("samples", "600,424", "comma separated raw samples")
	checksum   = flag.Int64("checksum", -1, "force the checksum, negative to compute it")
)

func main() {
	flag.Parse()

	l := frame.Line{
		Flags:          frame.ParseFlags(*flags),
		SampleRate:     *sampleRate,
		Latitude:       *lat,
		Longitude:      *lng,
		Elevation:      *elevation,
		SatelliteCount: uint16(*satellites),
		Speed:          *speed,
		Angle:          *angle,
		Raw:            []int64{},
	}
	if *ts >= 0 {
		l.Timestamp = ts
	}

	for _, s := range strings.Split(*samples, ",") {
		if s == "" {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			log.Fatal(err)
		}
		l.Raw = append(l.Raw, v)
	}

	sum := l.Checksum()
	if *checksum >= 0 {
		sum = uint64(*checksum)
	}
	fmt.Print(l.Format(sum))
}
