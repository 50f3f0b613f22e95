// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialport opens the actuator UART(s).
package serialport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// MockPortName opens an in-memory TestPort instead of a device, so the
// tracker can run on a bench without the actuator attached.
const MockPortName = "mock"

// Options describes one UART.
type Options struct {
	PortName string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N, E or O

	// InterCharacterTimeout is rounded to 100 ms steps by the driver.
	InterCharacterTimeout time.Duration
	MinimumReadSize       int
}

// Normalize validates the options and fills unset values with 115200 8N1.
func (o Options) Normalize() (Options, error) {
	opts := o
	opts.PortName = strings.TrimSpace(opts.PortName)
	if opts.PortName == "" {
		return opts, fmt.Errorf("serial port name is empty")
	}

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("invalid parity %q: use N, E or O", o.Parity)
	}

	if opts.InterCharacterTimeout < 0 {
		return opts, fmt.Errorf("negative inter-character timeout %v", opts.InterCharacterTimeout)
	}
	if opts.MinimumReadSize < 0 {
		return opts, fmt.Errorf("negative minimum read size %d", opts.MinimumReadSize)
	}
	if opts.MinimumReadSize == 0 && opts.InterCharacterTimeout == 0 {
		opts.MinimumReadSize = 1
	}
	return opts, nil
}

// OpenOptions converts to the driver's option struct.
func (o Options) OpenOptions() (serial.OpenOptions, error) {
	opts, err := o.Normalize()
	if err != nil {
		return serial.OpenOptions{}, err
	}

	oo := serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              uint(opts.BaudRate),
		DataBits:              uint(opts.DataBits),
		StopBits:              uint(opts.StopBits),
		MinimumReadSize:       uint(opts.MinimumReadSize),
		InterCharacterTimeout: uint(opts.InterCharacterTimeout / time.Millisecond),
	}
	switch opts.Parity {
	case "E":
		oo.ParityMode = serial.PARITY_EVEN
	case "O":
		oo.ParityMode = serial.PARITY_ODD
	default:
		oo.ParityMode = serial.PARITY_NONE
	}
	return oo, nil
}

// openFunc is swapped in tests.
var openFunc = serial.Open

// Open opens the port described by o.
func Open(o Options) (io.ReadWriteCloser, error) {
	if strings.EqualFold(strings.TrimSpace(o.PortName), MockPortName) {
		return NewTestPort(), nil
	}
	oo, err := o.OpenOptions()
	if err != nil {
		return nil, fmt.Errorf("serial options: %w", err)
	}
	port, err := openFunc(oo)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", oo.PortName, err)
	}
	return port, nil
}
