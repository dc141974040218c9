// Package uart adapts the serial device the bridge exposes.
//
// Config holds the terminal line settings (baud, data bits, parity, stop
// bits) and validates them. Port is the small surface the bridge needs:
// read with a timeout, write, reconfigure and close. SerialPort implements it
// on a real device; Loopback echoes writes back for use without hardware.
package uart
