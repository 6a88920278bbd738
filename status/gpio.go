package status

// lineSetter drives the red, green and blue output lines at once.
type lineSetter interface {
	SetValues(values []int) error
	Close() error
}

// GPIOLED drives a common cathode RGB LED through three output lines.
type GPIOLED struct {
	lines lineSetter
}

func (l *GPIOLED) Set(c Color) error {
	r, g, b := c.RGB()
	return l.lines.SetValues([]int{bit(r), bit(g), bit(b)})
}

// Close switches the LED off and releases the lines.
func (l *GPIOLED) Close() error {
	err := l.Set(Off)
	if cerr := l.lines.Close(); err == nil {
		err = cerr
	}
	return err
}

func bit(on bool) int {
	if on {
		return 1
	}
	return 0
}
