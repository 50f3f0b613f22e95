// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol builds and sends the actuator command frames.
//
// Combined frame (one UART drives both axes), 12 bytes:
//
//	AA 55 <id> <p1 int32 BE> <p2 int32 BE> <sum>
//
// Axis frame (split layout, one frame per axis), 8 bytes:
//
//	AA 55 <id> <p int32 BE> <sum>
//
// sum is the low byte of the sum of every byte after the header up to the
// checksum itself.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	Header0 byte = 0xAA
	Header1 byte = 0x55

	FrameLen     = 12
	AxisFrameLen = 8

	DefaultDeviceID       byte = 0x01
	DefaultStepsPerDegree      = 100.0
)

var (
	ErrShortFrame  = errors.New("frame too short")
	ErrFrameLength = errors.New("unexpected frame length")
	ErrBadHeader   = errors.New("bad frame header")
	ErrBadChecksum = errors.New("bad frame checksum")
)

// Frame is a decoded combined command.
type Frame struct {
	DeviceID byte
	Pulses1  int32
	Pulses2  int32
}

// AxisFrame is a decoded single-axis command.
type AxisFrame struct {
	DeviceID byte
	Pulses   int32
}

// AngleToPulses converts degrees to motor steps, truncating toward zero.
// Values outside the int32 range saturate; NaN maps to 0.
func AngleToPulses(deg, stepsPerDegree float64, reverse bool) int32 {
	v := deg * stepsPerDegree
	if reverse {
		v = -v
	}
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(math.Trunc(v))
}

// Checksum returns the low byte of the sum of b.
func Checksum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}

// EncodeFrame builds a combined two-axis frame.
func EncodeFrame(id byte, p1, p2 int32) []byte {
	b := make([]byte, FrameLen)
	b[0], b[1], b[2] = Header0, Header1, id
	binary.BigEndian.PutUint32(b[3:7], uint32(p1))
	binary.BigEndian.PutUint32(b[7:11], uint32(p2))
	b[FrameLen-1] = Checksum(b[2 : FrameLen-1])
	return b
}

// EncodeAxisFrame builds a single-axis frame.
func EncodeAxisFrame(id byte, p int32) []byte {
	b := make([]byte, AxisFrameLen)
	b[0], b[1], b[2] = Header0, Header1, id
	binary.BigEndian.PutUint32(b[3:7], uint32(p))
	b[AxisFrameLen-1] = Checksum(b[2 : AxisFrameLen-1])
	return b
}

// StopFrame is the combined frame commanding both axes to zero.
func StopFrame(id byte) []byte {
	return EncodeFrame(id, 0, 0)
}

func checkEnvelope(b []byte, want int) error {
	if len(b) < want {
		return fmt.Errorf("%w: %d bytes, want %d", ErrShortFrame, len(b), want)
	}
	if len(b) != want {
		return fmt.Errorf("%w: %d bytes, want %d", ErrFrameLength, len(b), want)
	}
	if b[0] != Header0 || b[1] != Header1 {
		return fmt.Errorf("%w: % X", ErrBadHeader, b[:2])
	}
	if sum := Checksum(b[2 : want-1]); sum != b[want-1] {
		return fmt.Errorf("%w: got 0x%02X, computed 0x%02X", ErrBadChecksum, b[want-1], sum)
	}
	return nil
}

// DecodeFrame parses and verifies a combined frame.
func DecodeFrame(b []byte) (Frame, error) {
	if err := checkEnvelope(b, FrameLen); err != nil {
		return Frame{}, err
	}
	return Frame{
		DeviceID: b[2],
		Pulses1:  int32(binary.BigEndian.Uint32(b[3:7])),
		Pulses2:  int32(binary.BigEndian.Uint32(b[7:11])),
	}, nil
}

// DecodeAxisFrame parses and verifies a single-axis frame.
func DecodeAxisFrame(b []byte) (AxisFrame, error) {
	if err := checkEnvelope(b, AxisFrameLen); err != nil {
		return AxisFrame{}, err
	}
	return AxisFrame{
		DeviceID: b[2],
		Pulses:   int32(binary.BigEndian.Uint32(b[3:7])),
	}, nil
}
