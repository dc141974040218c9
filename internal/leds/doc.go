// Package leds drives the board indicators: link (wifi), status, and the
// TX/RX traffic LEDs.
package leds
