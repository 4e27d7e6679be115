// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dp

import (
	"errors"
	"time"

	"github.com/wireflash/nrfswd/swdio"
)

// DP register wire offsets (apndp=false). IDCODE is read-only, ABORT is
// write-only; both live at offset 0x0.
const (
	regIDCODE   = 0x0
	regABORT    = 0x0
	regCTRLSTAT = 0x4
	regSELECT   = 0x8
	regRDBUFF   = 0xC
)

// abortClearAll is the value written to ABORT to clear every sticky error
// flag (STKCMPCLR|STKERRCLR|WDERRCLR|ORUNERRCLR).
const abortClearAll = 0x1E

// CTRL/STAT power request/ack bits, ADIv5 §B1.2.
const (
	ctrlStatCDBGPWRUPREQ = 1 << 28
	ctrlStatCDBGPWRUPACK = 1 << 29
	ctrlStatCSYSPWRUPREQ = 1 << 30
	ctrlStatCSYSPWRUPACK = 1 << 31
)

// MaxWaitRetries bounds the WAIT-retry loop in ReadReg/WriteReg/ReadAP/WriteAP.
const MaxWaitRetries = 10

const (
	defaultWaitDelay      = time.Millisecond
	defaultPowerUpTimeout = time.Second
	defaultPowerPoll      = 10 * time.Millisecond
)

// State is the DP's addressable state: the current SELECT value and the
// {AP, bank} it encodes, cached so repeated accesses to the same bank skip
// the SELECT write.
type State struct {
	Select      uint32
	CurrentAP   uint8
	CurrentBank uint8
}

// Option configures a Port at construction.
type Option func(*Port)

// WithWaitDelay overrides the delay between WAIT retries (default 1ms).
func WithWaitDelay(d time.Duration) Option {
	return func(p *Port) { p.waitDelay = d }
}

// WithPowerUpTimeout overrides how long Connect polls CTRL/STAT for the
// power-up acks (default 1s).
func WithPowerUpTimeout(d time.Duration) Option {
	return func(p *Port) { p.powerUpTimeout = d }
}

// Port is the ADIv5 Debug Port built on top of one swdio.Driver. It is the
// only layer that sees raw SWD ACK codes; everything above it sees Kind.
type Port struct {
	drv *swdio.Driver

	state     State
	selected  bool
	connected bool

	waitDelay      time.Duration
	powerUpTimeout time.Duration
}

// New wraps drv. drv is not connected; call Connect before any register
// access.
func New(drv *swdio.Driver, opts ...Option) *Port {
	p := &Port{
		drv:            drv,
		waitDelay:      defaultWaitDelay,
		powerUpTimeout: defaultPowerUpTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a copy of the DP's current cached state.
func (p *Port) State() State { return p.state }

// Connected reports whether Connect last completed successfully.
func (p *Port) Connected() bool { return p.connected }

// ReadReg reads a DP register (addr is one of 0x0/0x4/0x8/0xC).
func (p *Port) ReadReg(addr uint8) (uint32, error) {
	return p.transfer("dp.ReadReg", addr, false, false, 0)
}

// WriteReg writes a DP register.
func (p *Port) WriteReg(addr uint8, value uint32) error {
	_, err := p.transfer("dp.WriteReg", addr, false, true, value)
	return err
}

// ReadAP issues the raw (stale) AP read at {apNum, bank, addr} and then
// drains DP.RDBUFF to obtain the real value.
func (p *Port) ReadAP(apNum, bank, addr uint8) (uint32, error) {
	if err := p.selectAPBank(apNum, bank); err != nil {
		return 0, err
	}
	if _, err := p.transfer("dp.ReadAP", addr, true, false, 0); err != nil {
		return 0, err
	}
	return p.ReadReg(regRDBUFF)
}

// WriteAP issues the raw AP write at {apNum, bank, addr}. Callers that need
// commit ordering follow with DrainRDBUFF.
func (p *Port) WriteAP(apNum, bank, addr uint8, value uint32) error {
	if err := p.selectAPBank(apNum, bank); err != nil {
		return err
	}
	_, err := p.transfer("dp.WriteAP", addr, true, true, value)
	return err
}

// DrainRDBUFF reads DP.RDBUFF, committing a preceding WriteAP or discarding
// the stale value of a preceding ReadAP's raw phase.
func (p *Port) DrainRDBUFF() error {
	_, err := p.ReadReg(regRDBUFF)
	return err
}

// selectAPBank writes DP.SELECT = (apNum<<24)|(bank<<4) unless that exact
// bank is already selected.
func (p *Port) selectAPBank(apNum, bank uint8) error {
	sel := uint32(apNum)<<24 | uint32(bank)<<4
	if p.selected && p.state.Select == sel {
		return nil
	}
	if err := p.WriteReg(regSELECT, sel); err != nil {
		return err
	}
	p.state.Select = sel
	p.state.CurrentAP = apNum
	p.state.CurrentBank = bank
	p.selected = true
	return nil
}

// transfer runs one register access through the WAIT-retry / FAULT-clear
// policy for register transfers. It retries while the ACK is WAIT, clears sticky
// faults once on FAULT and retries, fails with KindLinkLost on a second
// FAULT or any other ACK, and fails with KindBusy when MaxWaitRetries
// attempts pass without an OK.
func (p *Port) transfer(op string, addr uint8, apndp, write bool, payload uint32) (uint32, error) {
	faultCleared := false
	for attempt := 0; attempt < MaxWaitRetries; attempt++ {
		ack, data, err := p.drv.Transfer(addr, apndp, write, payload)
		if err != nil {
			return 0, newErr(op, KindLinkLost, err)
		}
		switch ack {
		case swdio.AckOK:
			return data, nil
		case swdio.AckWAIT:
			time.Sleep(p.waitDelay)
			continue
		case swdio.AckFAULT:
			if faultCleared {
				return 0, newErr(op, KindLinkLost, errors.New("sticky fault not clearable"))
			}
			faultCleared = true
			if _, _, aerr := p.drv.Transfer(regABORT, false, true, abortClearAll); aerr != nil {
				return 0, newErr(op, KindLinkLost, aerr)
			}
			continue
		default:
			return 0, newErr(op, KindLinkLost, swdio.ErrProtocol)
		}
	}
	return 0, newErr(op, KindBusy, errors.New("WAIT retry budget exhausted"))
}

func idcodeValid(v uint32) bool {
	return v != 0 && v != 0xFFFFFFFF
}

// Connect runs dormant wakeup, IDCODE validation
// (falling back to JTAG-to-SWD selection if the first read is invalid),
// error-clear, debug/system power-up request, and a bounded poll for both
// power-up acks.
func (p *Port) Connect() error {
	p.selected = false
	p.connected = false

	if err := p.drv.DormantToSWD(); err != nil {
		return newErr("dp.Connect", KindLinkLost, err)
	}

	idcode, err := p.ReadReg(regIDCODE)
	if err != nil || !idcodeValid(idcode) {
		if jerr := p.drv.JTAGToSWD(); jerr != nil {
			return newErr("dp.Connect", KindLinkLost, jerr)
		}
		idcode, err = p.ReadReg(regIDCODE)
		if err != nil {
			return err
		}
		if !idcodeValid(idcode) {
			return newErr("dp.Connect", KindLinkLost, errors.New("IDCODE invalid after JTAG-to-SWD"))
		}
	}

	if err := p.WriteReg(regABORT, abortClearAll); err != nil {
		return err
	}
	if err := p.PowerUp(); err != nil {
		return err
	}
	if err := p.WriteReg(regABORT, abortClearAll); err != nil {
		return err
	}
	p.connected = true
	return nil
}

// PowerUp requests both the debug and system power domains and polls
// CTRL/STAT for both power-up acks. It is also used
// standalone by ctrlap.MassErase's "power up debug" first step, which only
// needs this half of Connect re-applied on an already-identified link.
func (p *Port) PowerUp() error {
	if err := p.WriteReg(regCTRLSTAT, ctrlStatCDBGPWRUPREQ|ctrlStatCSYSPWRUPREQ); err != nil {
		return err
	}
	deadline := time.Now().Add(p.powerUpTimeout)
	const wantAcks = ctrlStatCDBGPWRUPACK | ctrlStatCSYSPWRUPACK
	for {
		stat, err := p.ReadReg(regCTRLSTAT)
		if err != nil {
			return err
		}
		if stat&wantAcks == wantAcks {
			return nil
		}
		if time.Now().After(deadline) {
			return newErr("dp.PowerUp", KindTimeout, errors.New("CTRL/STAT power-up ack timed out"))
		}
		time.Sleep(defaultPowerPoll)
	}
}

// Disconnect runs the mirrored power-down sequence:
// clear the power-up requests, poll for both acks to clear, then emit the
// SWD-to-dormant exit pattern.
func (p *Port) Disconnect() error {
	if err := p.WriteReg(regCTRLSTAT, 0); err != nil {
		return err
	}
	deadline := time.Now().Add(p.powerUpTimeout)
	const ackBits = ctrlStatCDBGPWRUPACK | ctrlStatCSYSPWRUPACK
	for {
		stat, err := p.ReadReg(regCTRLSTAT)
		if err != nil {
			return err
		}
		if stat&ackBits == 0 {
			break
		}
		if time.Now().After(deadline) {
			return newErr("dp.Disconnect", KindTimeout, errors.New("CTRL/STAT power-down ack timed out"))
		}
		time.Sleep(defaultPowerPoll)
	}
	p.connected = false
	p.selected = false
	return p.drv.SWDToDormant()
}
