// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memap

import (
	"errors"
	"time"

	"github.com/wireflash/nrfswd/dp"
)

// Cortex-M debug register addresses.
const (
	RegDHCSR = 0xE000EDF0
	RegDCRSR = 0xE000EDF4
	RegDCRDR = 0xE000EDF8
	RegDEMCR = 0xE000EDFC
)

// DHCSRDebugKey must be present in DHCSR[31:16] for any write to take
// effect.
const DHCSRDebugKey = 0xA05F

// DHCSR control/status bits.
const (
	dhcsrCDebugEn  = 1 << 0
	dhcsrCHalt     = 1 << 1
	dhcsrSRegReady = 1 << 16
	dhcsrSHalt     = 1 << 17
)

// DCRSR.REGWnR: set to write the selected register, clear to read it.
const dcrsrRegWnR = 1 << 16

const (
	coreRegPollInterval = time.Millisecond
	coreRegPollBudget   = 200 * time.Millisecond
)

func dhcsrWrite(value uint32) uint32 {
	return DHCSRDebugKey<<16 | value
}

// Halt sets C_DEBUGEN|C_HALT in DHCSR, stopping the core.
func (a *AP) Halt() error {
	return a.Write32(RegDHCSR, dhcsrWrite(dhcsrCDebugEn|dhcsrCHalt))
}

// Resume clears C_HALT while leaving C_DEBUGEN set, letting the core run.
func (a *AP) Resume() error {
	return a.Write32(RegDHCSR, dhcsrWrite(dhcsrCDebugEn))
}

// Halted reads DHCSR.S_HALT.
func (a *AP) Halted() (bool, error) {
	v, err := a.Read32(RegDHCSR)
	if err != nil {
		return false, err
	}
	return v&dhcsrSHalt != 0, nil
}

func (a *AP) pollRegReady(op string) error {
	deadline := time.Now().Add(coreRegPollBudget)
	for {
		v, err := a.Read32(RegDHCSR)
		if err != nil {
			return err
		}
		if v&dhcsrSRegReady != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return &dp.Error{Kind: dp.KindTimeout, Op: op, Err: errors.New("S_REGRDY did not assert")}
		}
		time.Sleep(coreRegPollInterval)
	}
}

// CoreRegisterRead reads a Cortex-M core register via DCRSR/DCRDR. The core
// must already be halted.
func (a *AP) CoreRegisterRead(regnum uint32) (uint32, error) {
	halted, err := a.Halted()
	if err != nil {
		return 0, err
	}
	if !halted {
		return 0, &dp.Error{Kind: dp.KindInvalidArg, Op: "memap.CoreRegisterRead", Err: errors.New("core not halted")}
	}
	if err := a.Write32(RegDCRSR, regnum&0x1F); err != nil {
		return 0, err
	}
	if err := a.pollRegReady("memap.CoreRegisterRead"); err != nil {
		return 0, err
	}
	return a.Read32(RegDCRDR)
}

// CoreRegisterWrite writes a Cortex-M core register via DCRDR/DCRSR. The
// core must already be halted.
func (a *AP) CoreRegisterWrite(regnum, value uint32) error {
	halted, err := a.Halted()
	if err != nil {
		return err
	}
	if !halted {
		return &dp.Error{Kind: dp.KindInvalidArg, Op: "memap.CoreRegisterWrite", Err: errors.New("core not halted")}
	}
	if err := a.Write32(RegDCRDR, value); err != nil {
		return err
	}
	if err := a.Write32(RegDCRSR, (regnum&0x1F)|dcrsrRegWnR); err != nil {
		return err
	}
	return a.pollRegReady("memap.CoreRegisterWrite")
}
