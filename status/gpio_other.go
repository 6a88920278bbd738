//go:build !linux

package status

import "errors"

// NewGPIOLED is only supported on linux.
func NewGPIOLED(chip string, red, green, blue int) (*GPIOLED, error) {
	return nil, errors.New("gpio led is only supported on linux")
}
