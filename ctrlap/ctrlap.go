// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ctrlap

import (
	"errors"
	"time"

	"github.com/wireflash/nrfswd/dp"
	"github.com/wireflash/nrfswd/memap"
	"github.com/wireflash/nrfswd/nvmc"
	"github.com/wireflash/nrfswd/swdio"
)

// APNum is the CTRL-AP's AP number, shared numbering with memap (which owns
// AP#0, the MEM-AP).
const APNum = 1

// MemAPNum is the MEM-AP's AP number, reselected at the end of MassErase.
const MemAPNum = 0

// CTRL-AP register wire offsets.
const (
	regRESET           = 0x00
	regERASEALL        = 0x04
	regERASEALLSTATUS  = 0x08
	regAPPROTECTSTATUS = 0x0C
	bankIDR            = 0x0F
	regIDR             = 0x0C // IDR (0xFC) low 4 bits, bank 0xF
)

// expectedIDRMask / expectedIDR: the CTRL-AP's IDR, masked, must equal the
// known vendor identity 0x02880000.
const (
	expectedIDRMask = 0x0FFFFFFF
	expectedIDR     = 0x02880000
)

// Cortex-M registers touched only by ResetAndRelease.
const (
	regVTOR  = 0xE000ED08
	regAIRCR = 0xE000ED0C
)

// aircrResetKey is written to AIRCR[31:16] (VECTKEY) together with
// SYSRESETREQ to trigger a software system reset.
const aircrResetKey = 0x05FA0004

// icache NVMC_ICACHECNF bits, written successively: enable, then
// enable+invalidate.
const (
	icacheEnable           = 0x1
	icacheEnableInvalidate = 0x3
)

const (
	erasePollInterval = 100 * time.Millisecond
	erasePollBound    = 15 * time.Second
	resetPulse        = 10 * time.Millisecond
	hardResetAssert   = 10 * time.Millisecond
	hardResetSettle   = 50 * time.Millisecond
)

func protectedErr(op string, err error) error {
	return &dp.Error{Kind: dp.KindProtected, Op: op, Err: err}
}

func timeoutErr(op string, err error) error {
	return &dp.Error{Kind: dp.KindTimeout, Op: op, Err: err}
}

// CtrlAP drives the target's vendor CTRL-AP (AP#1) and the post-flash
// reset-and-release sequence. It holds the same dp.Port as the session's
// memap.AP so the two APs share one SELECT cache and one session mutex.
type CtrlAP struct {
	port *dp.Port
	drv  *swdio.Driver
	ap   *memap.AP

	pollInterval time.Duration
	pollBound    time.Duration
}

// Option configures a CtrlAP at construction.
type Option func(*CtrlAP)

// WithPollInterval overrides the ERASEALLSTATUS poll interval (default
// 100ms).
func WithPollInterval(d time.Duration) Option { return func(c *CtrlAP) { c.pollInterval = d } }

// WithPollBound overrides the ERASEALLSTATUS total timeout (default 15s).
func WithPollBound(d time.Duration) Option { return func(c *CtrlAP) { c.pollBound = d } }

// New wraps port (already connected), drv (for the hardware reset pin and
// disconnect/reconnect sequences) and the session's MEM-AP (AP#0, used by
// ResetAndRelease to touch ICACHECNF/VTOR/DHCSR/DEMCR directly). nvmc.Flash is not touched here: its
// own withMode already guarantees CONFIG rests at read-only between calls.
func New(port *dp.Port, drv *swdio.Driver, ap *memap.AP, opts ...Option) *CtrlAP {
	c := &CtrlAP{
		port:         port,
		drv:          drv,
		ap:           ap,
		pollInterval: erasePollInterval,
		pollBound:    erasePollBound,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CtrlAP) readIDR() (uint32, error) {
	return c.port.ReadAP(APNum, bankIDR, regIDR)
}

// checkIdentity reads the CTRL-AP's IDR and verifies it against the known
// vendor value, masked by expectedIDRMask.
func (c *CtrlAP) checkIdentity(op string) error {
	idr, err := c.readIDR()
	if err != nil {
		return err
	}
	if idr&expectedIDRMask != expectedIDR {
		return protectedErr(op, errors.New("CTRL-AP IDR did not match the expected vendor identity"))
	}
	return nil
}

// MassErase runs the protection-breaking mass erase: powers up debug,
// verifies the CTRL-AP identity, triggers ERASEALL, polls ERASEALLSTATUS to
// zero, pulses RESET, clears ERASEALL, then disconnects and reconnects the
// DP, after which the next AP access rewrites SELECT. It does not select
// AP#0 itself, and the MEM-AP's cached CSW state is left as it was. It is
// idempotent: a second call
// observes ERASEALLSTATUS already zero and completes the same way.
func (c *CtrlAP) MassErase() error {
	const op = "ctrlap.MassErase"

	if err := c.port.PowerUp(); err != nil {
		return err
	}

	if err := c.checkIdentity(op); err != nil {
		return err
	}

	// Optional protection-status read for logging; its result carries no
	// control-flow meaning here.
	if _, err := c.port.ReadAP(APNum, 0, regAPPROTECTSTATUS); err != nil {
		return err
	}

	if err := c.port.WriteAP(APNum, 0, regERASEALL, 1); err != nil {
		return err
	}
	if err := c.port.DrainRDBUFF(); err != nil {
		return err
	}

	if err := c.pollEraseAllStatus(op); err != nil {
		return err
	}

	if err := c.pulseReset(); err != nil {
		return err
	}

	if err := c.port.WriteAP(APNum, 0, regERASEALL, 0); err != nil {
		return err
	}
	if err := c.port.DrainRDBUFF(); err != nil {
		return err
	}

	// Disconnect then reconnect the DP; Connect clears the SELECT cache so
	// the next AP access reselects its bank.
	if err := c.port.Disconnect(); err != nil {
		return err
	}
	return c.port.Connect()
}

func (c *CtrlAP) pollEraseAllStatus(op string) error {
	deadline := time.Now().Add(c.pollBound)
	for {
		v, err := c.port.ReadAP(APNum, 0, regERASEALLSTATUS)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return timeoutErr(op, errors.New("ERASEALLSTATUS did not settle"))
		}
		time.Sleep(c.pollInterval)
	}
}

func (c *CtrlAP) pulseReset() error {
	if err := c.port.WriteAP(APNum, 0, regRESET, 1); err != nil {
		return err
	}
	if err := c.port.DrainRDBUFF(); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	if err := c.port.WriteAP(APNum, 0, regRESET, 0); err != nil {
		return err
	}
	if err := c.port.DrainRDBUFF(); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	return nil
}

// ResetAndRelease leaves the NVMC read-only (already the Flash's resting
// state), enables+invalidates the icache, resets VTOR, resumes a halted
// core, disables DHCSR debug, clears DEMCR, then issues a hardware reset if
// a reset pin is wired, else an AIRCR software reset, then disconnects the
// DP. It tolerates a DP that is already disconnected.
func (c *CtrlAP) ResetAndRelease() error {
	if err := c.ap.Write32(nvmc.RegICACHECNF, icacheEnable); err != nil {
		return err
	}
	if err := c.ap.Write32(nvmc.RegICACHECNF, icacheEnableInvalidate); err != nil {
		return err
	}
	if err := c.ap.Write32(regVTOR, 0); err != nil {
		return err
	}

	halted, err := c.ap.Halted()
	if err != nil {
		return err
	}
	if halted {
		if err := c.ap.Resume(); err != nil {
			return err
		}
	}
	if err := c.ap.Write32(memap.RegDHCSR, memap.DHCSRDebugKey<<16); err != nil {
		return err
	}
	if err := c.ap.Write32(memap.RegDEMCR, 0); err != nil {
		return err
	}

	if c.drv.HasResetPin() {
		if err := c.drv.AssertReset(true); err != nil {
			return err
		}
		time.Sleep(hardResetAssert)
		if err := c.drv.AssertReset(false); err != nil {
			return err
		}
		time.Sleep(hardResetSettle)
	} else {
		if err := c.ap.Write32(regAIRCR, aircrResetKey|(1<<2)); err != nil {
			return err
		}
	}

	if !c.port.Connected() {
		return nil
	}
	return c.port.Disconnect()
}
