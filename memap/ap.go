// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memap

import (
	"errors"

	"github.com/wireflash/nrfswd/dp"
)

// MEM-AP bank-0 register wire offsets.
const (
	regCSW = 0x00
	regTAR = 0x04
	regDRW = 0x0C
)

// cswWord32AutoIncrement selects 32-bit transfer size with single
// auto-increment addressing (ADIv5 CSW.Size=0b010, CSW.AddrInc=0b01).
const cswWord32AutoIncrement = 0x12

// TarBoundary is the address span a single TAR auto-increment run may span
// before the target wraps TAR back to the run's base.
const TarBoundary = 1024

// State mirrors the AP's own TAR/CSW as last programmed by this package, so
// a redundant CSW write can be skipped.
type State struct {
	TAR uint32
	CSW uint32
}

// AP is one Memory Access Port, addressed through a dp.Port. apNum is
// usually 0 (MEM-AP); CTRL-AP (apNum 1) uses the DP directly instead,
// see package ctrlap.
type AP struct {
	port  *dp.Port
	apNum uint8

	state    State
	cswValid bool
}

// New wraps port, addressing AP number apNum (0 for the target's MEM-AP).
func New(port *dp.Port, apNum uint8) *AP {
	return &AP{port: port, apNum: apNum}
}

// State returns a copy of the AP's last-programmed TAR/CSW.
func (a *AP) State() State { return a.state }

func (a *AP) writeTAR(addr uint32) error {
	if err := a.port.WriteAP(a.apNum, 0, regTAR, addr); err != nil {
		return err
	}
	a.state.TAR = addr
	return nil
}

func (a *AP) setCSWWordAutoIncrement() error {
	if a.cswValid && a.state.CSW == cswWord32AutoIncrement {
		return nil
	}
	if err := a.port.WriteAP(a.apNum, 0, regCSW, cswWord32AutoIncrement); err != nil {
		return err
	}
	a.state.CSW = cswWord32AutoIncrement
	a.cswValid = true
	return nil
}

// Read32 reads one 32-bit word at a word-aligned address.
func (a *AP) Read32(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, newInvalidArg("memap.Read32", "address not word-aligned")
	}
	if err := a.setCSWWordAutoIncrement(); err != nil {
		return 0, err
	}
	if err := a.writeTAR(addr); err != nil {
		return 0, err
	}
	return a.port.ReadAP(a.apNum, 0, regDRW)
}

// Write32 writes one 32-bit word at a word-aligned address.
func (a *AP) Write32(addr, word uint32) error {
	if addr%4 != 0 {
		return newInvalidArg("memap.Write32", "address not word-aligned")
	}
	if err := a.setCSWWordAutoIncrement(); err != nil {
		return err
	}
	if err := a.writeTAR(addr); err != nil {
		return err
	}
	return a.port.WriteAP(a.apNum, 0, regDRW, word)
}

// WriteBlock32 writes words at addr, which must be word-aligned: TAR is
// written once per run up to the next TarBoundary, consecutive AP writes
// to DRW advance it, and DP.RDBUFF is drained once per run to commit.
func (a *AP) WriteBlock32(addr uint32, words []uint32) error {
	if addr%4 != 0 {
		return newInvalidArg("memap.WriteBlock32", "address not word-aligned")
	}
	if len(words) == 0 {
		return nil
	}
	if err := a.setCSWWordAutoIncrement(); err != nil {
		return err
	}
	pos := 0
	for pos < len(words) {
		cur := addr + uint32(pos)*4
		boundary := (cur/TarBoundary + 1) * TarBoundary
		runWords := int((boundary - cur) / 4)
		if remain := len(words) - pos; runWords > remain {
			runWords = remain
		}
		if err := a.writeTAR(cur); err != nil {
			return err
		}
		for i := 0; i < runWords; i++ {
			if err := a.port.WriteAP(a.apNum, 0, regDRW, words[pos+i]); err != nil {
				return err
			}
		}
		if err := a.port.DrainRDBUFF(); err != nil {
			return err
		}
		pos += runWords
	}
	return nil
}

// ReadBlock reads length bytes starting at addr, which need not be
// word-aligned: every word overlapping the span is read whole, and the
// unaligned leading/trailing bytes are sliced off the result.
func (a *AP) ReadBlock(addr uint32, length int) ([]byte, error) {
	if length < 0 {
		return nil, newInvalidArg("memap.ReadBlock", "negative length")
	}
	if length == 0 {
		return nil, nil
	}
	alignedStart := addr &^ 3
	end := addr + uint32(length)
	alignedEnd := (end + 3) &^ 3

	out := make([]byte, 0, (alignedEnd-alignedStart)/4*4)
	for cur := alignedStart; cur < alignedEnd; cur += 4 {
		w, err := a.Read32(cur)
		if err != nil {
			return nil, err
		}
		var b [4]byte
		b[0] = byte(w)
		b[1] = byte(w >> 8)
		b[2] = byte(w >> 16)
		b[3] = byte(w >> 24)
		out = append(out, b[:]...)
	}
	lead := addr - alignedStart
	return out[lead : lead+uint32(length)], nil
}

func newInvalidArg(op, msg string) error {
	return &dp.Error{Kind: dp.KindInvalidArg, Op: op, Err: errors.New(msg)}
}
