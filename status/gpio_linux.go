package status

import (
	"fmt"

	"github.com/warthog618/gpiod"
)

// NewGPIOLED requests the red, green and blue lines of chip as outputs, initially off.
func NewGPIOLED(chip string, red, green, blue int) (*GPIOLED, error) {
	lines, err := gpiod.RequestLines(chip, []int{red, green, blue},
		gpiod.AsOutput(0, 0, 0),
		gpiod.WithConsumer("nodeacqd"),
	)
	if err != nil {
		return nil, fmt.Errorf("can't request led lines on %s: %w", chip, err)
	}
	return &GPIOLED{lines: lines}, nil
}
