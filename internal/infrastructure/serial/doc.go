// Package serial provides a raw termios serial port for the motion
// controller link (8N1, no flow control, configurable baud rate).
//
// Only Linux and macOS are supported; other platforms fail at build time.
package serial
