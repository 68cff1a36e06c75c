//go:build linux

package serial

import (
	"slices"

	"golang.org/x/sys/unix"
)

// baudRates maps a rate to its termios speed constant.
var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

// SupportedBaudRates returns the accepted rates in ascending order.
func SupportedBaudRates() []int {
	rates := make([]int, 0, len(baudRates))
	for r := range baudRates {
		rates = append(rates, r)
	}
	slices.Sort(rates)
	return rates
}

// ValidBaud reports whether rate is supported.
func ValidBaud(rate int) bool {
	_, ok := baudRates[rate]
	return ok
}
