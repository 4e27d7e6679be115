// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nvmc

import (
	"errors"
	"time"

	"github.com/wireflash/nrfswd/dp"
	"github.com/wireflash/nrfswd/memap"
)

// Target memory map.
const (
	FlashBase = 0x00000000
	FlashSize = 1 << 20
	PageSize  = 4096
	UICRBase  = 0x10001000
)

// NVMC register addresses. RegICACHECNF is exported because
// ctrlap.ResetAndRelease writes it directly through memap, outside of any
// Flash method.
const (
	nvmcBase     = 0x4001E000
	regREADY     = nvmcBase + 0x400
	regREADYNEXT = nvmcBase + 0x408
	regCONFIG    = nvmcBase + 0x504
	regERASEPAGE = nvmcBase + 0x508
	regERASEALL  = nvmcBase + 0x50C

	RegICACHECNF = nvmcBase + 0x540
)

// Config is the NVMC's CONFIG register value.
type Config uint32

const (
	ConfigReadOnly Config = 0
	ConfigWrite    Config = 1
	ConfigErase    Config = 2
)

const (
	defaultReadyStablePoll  = time.Millisecond
	defaultReadyStableBound = 500 * time.Millisecond
	defaultEraseWait        = 90 * time.Millisecond
	defaultErasePollBound   = 400 * time.Millisecond
	defaultWriteYieldEvery  = 4096
)

// Flash sequences a target's NVMC through a memap.AP. The timing fields
// carry production defaults but are overridable via Option so tests
// can run the same state machine with no wall-clock delay.
type Flash struct {
	ap *memap.AP

	readyStablePoll  time.Duration
	readyStableBound time.Duration
	eraseWait        time.Duration
	erasePollBound   time.Duration
	writeYieldEvery  int
}

// Option configures a Flash at construction.
type Option func(*Flash)

// WithEraseWait overrides the post-ERASEPAGE/ERASEALL settle delay.
func WithEraseWait(d time.Duration) Option { return func(f *Flash) { f.eraseWait = d } }

// WithPollInterval overrides the delay between READY polls.
func WithPollInterval(d time.Duration) Option { return func(f *Flash) { f.readyStablePoll = d } }

// WithProgramYield overrides how many bytes ProgramBuffer writes between
// progress callbacks.
func WithProgramYield(n int) Option { return func(f *Flash) { f.writeYieldEvery = n } }

// New wraps ap.
func New(ap *memap.AP, opts ...Option) *Flash {
	f := &Flash{
		ap:               ap,
		readyStablePoll:  defaultReadyStablePoll,
		readyStableBound: defaultReadyStableBound,
		eraseWait:        defaultEraseWait,
		erasePollBound:   defaultErasePollBound,
		writeYieldEvery:  defaultWriteYieldEvery,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func verifyErr(op string, err error) error {
	return &dp.Error{Kind: dp.KindVerify, Op: op, Err: err}
}

func timeoutErr(op string, err error) error {
	return &dp.Error{Kind: dp.KindTimeout, Op: op, Err: err}
}

func invalidArgErr(op string, err error) error {
	return &dp.Error{Kind: dp.KindInvalidArg, Op: op, Err: err}
}

// withMode switches CONFIG to mode, verifies the switch by read-back, runs
// fn, then unconditionally restores CONFIG to read-only, including on
// fn's error path, so every public operation leaves CONFIG in read-only
// before returning.
func (f *Flash) withMode(op string, mode Config, fn func() error) error {
	if mode != ConfigReadOnly {
		if err := f.ap.Write32(regCONFIG, uint32(mode)); err != nil {
			return err
		}
		got, err := f.ap.Read32(regCONFIG)
		if err != nil {
			_ = f.ap.Write32(regCONFIG, uint32(ConfigReadOnly))
			return err
		}
		if Config(got) != mode {
			_ = f.ap.Write32(regCONFIG, uint32(ConfigReadOnly))
			return verifyErr(op, errors.New("CONFIG readback did not match requested mode"))
		}
	}
	fnErr := fn()
	restoreErr := f.ap.Write32(regCONFIG, uint32(ConfigReadOnly))
	if fnErr != nil {
		return fnErr
	}
	return restoreErr
}

// readyStable polls READY until it has been observed set on two
// consecutive reads, failing after readyStableBound.
func (f *Flash) readyStable(op string) error {
	deadline := time.Now().Add(f.readyStableBound)
	consecutive := 0
	for {
		v, err := f.ap.Read32(regREADY)
		if err != nil {
			return err
		}
		if v&1 != 0 {
			consecutive++
			if consecutive >= 2 {
				return nil
			}
		} else {
			consecutive = 0
		}
		if time.Now().After(deadline) {
			return timeoutErr(op, errors.New("READY did not stabilize"))
		}
		time.Sleep(f.readyStablePoll)
	}
}

func (f *Flash) pollReady(op string, bound time.Duration, step time.Duration) error {
	deadline := time.Now().Add(bound)
	for {
		v, err := f.ap.Read32(regREADY)
		if err != nil {
			return err
		}
		if v&1 != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return timeoutErr(op, errors.New("READY poll timed out"))
		}
		time.Sleep(step)
	}
}

// ErasePage erases the 4 KiB page starting at pageAddr, which must be
// page-aligned (KindInvalidArg otherwise), including the UICR
// page at UICRBase: waits for READY to be stable, switches to
// erase-enabled, writes ERASEPAGE, waits the typical erase duration then
// polls READY, restores read-only, and verifies four sample offsets read
// back as 0xFFFFFFFF (one re-read allowed on a transient mismatch).
func (f *Flash) ErasePage(pageAddr uint32) error {
	const op = "nvmc.ErasePage"
	if pageAddr%PageSize != 0 {
		return invalidArgErr(op, errors.New("pageAddr not page-aligned"))
	}
	if err := f.readyStable(op); err != nil {
		return err
	}
	err := f.withMode(op, ConfigErase, func() error {
		if err := f.ap.Write32(regERASEPAGE, pageAddr); err != nil {
			return err
		}
		time.Sleep(f.eraseWait)
		return f.pollReady(op, f.erasePollBound, f.readyStablePoll)
	})
	if err != nil {
		return err
	}
	return f.verifyErased(op, pageAddr)
}

var sampleOffsets = [4]uint32{0, 4, 8, PageSize - 4}

func (f *Flash) verifyErased(op string, pageAddr uint32) error {
	for _, off := range sampleOffsets {
		v, err := f.ap.Read32(pageAddr + off)
		if err != nil {
			return err
		}
		if v != 0xFFFFFFFF {
			v, err = f.ap.Read32(pageAddr + off)
			if err != nil {
				return err
			}
			if v != 0xFFFFFFFF {
				return verifyErr(op, errors.New("post-erase readback mismatch"))
			}
		}
	}
	return nil
}

// ProgramWord writes one 32-bit word.
func (f *Flash) ProgramWord(addr, word uint32) error {
	const op = "nvmc.ProgramWord"
	if addr%4 != 0 {
		return invalidArgErr(op, errors.New("address not word-aligned"))
	}
	return f.withMode(op, ConfigWrite, func() error {
		return f.ap.Write32(addr, word)
	})
}

// ProgramBuffer writes data at addr, which need not be word-aligned. A
// leading or trailing unaligned edge is handled by read-modify-write
// against one word; the aligned middle goes through the MEM-AP block-write
// path. progress, if non-nil, is invoked every writeYieldEvery bytes.
func (f *Flash) ProgramBuffer(addr uint32, data []byte, progress func(current, total int64, operation string)) error {
	const op = "nvmc.ProgramBuffer"
	if len(data) == 0 {
		return nil
	}
	return f.withMode(op, ConfigWrite, func() error {
		return f.programAligned(addr, data, progress)
	})
}

func (f *Flash) programAligned(addr uint32, data []byte, progress func(int64, int64, string)) error {
	total := int64(len(data))
	var written int64

	pos := 0
	cur := addr

	// Leading unaligned head.
	if cur%4 != 0 {
		base := cur &^ 3
		word, err := f.ap.Read32(base)
		if err != nil {
			return err
		}
		off := int(cur - base)
		var b [4]byte
		b[0], b[1], b[2], b[3] = byte(word), byte(word>>8), byte(word>>16), byte(word>>24)
		n := 4 - off
		if n > len(data) {
			n = len(data)
		}
		copy(b[off:off+n], data[:n])
		word = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		if err := f.ap.Write32(base, word); err != nil {
			return err
		}
		pos += n
		cur += uint32(n)
		written += int64(n)
		if progress != nil {
			progress(written, total, "program")
		}
	}

	// Aligned middle, yielding every writeYieldEvery bytes.
	for pos < len(data) {
		remain := len(data) - pos
		// Trailing unaligned tail is handled after the loop; stop the
		// aligned run short of it.
		alignedRemain := remain &^ 3
		if alignedRemain == 0 {
			break
		}
		chunk := alignedRemain
		if chunk > f.writeYieldEvery {
			chunk = f.writeYieldEvery
		}
		words := make([]uint32, chunk/4)
		for i := range words {
			o := pos + i*4
			words[i] = uint32(data[o]) | uint32(data[o+1])<<8 | uint32(data[o+2])<<16 | uint32(data[o+3])<<24
		}
		if err := f.ap.WriteBlock32(cur, words); err != nil {
			return err
		}
		pos += chunk
		cur += uint32(chunk)
		written += int64(chunk)
		if progress != nil {
			progress(written, total, "program")
		}
	}

	// Trailing unaligned tail.
	if pos < len(data) {
		word, err := f.ap.Read32(cur)
		if err != nil {
			return err
		}
		var b [4]byte
		b[0], b[1], b[2], b[3] = byte(word), byte(word>>8), byte(word>>16), byte(word>>24)
		n := len(data) - pos
		copy(b[:n], data[pos:])
		word = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		if err := f.ap.Write32(cur, word); err != nil {
			return err
		}
		written += int64(n)
		if progress != nil {
			progress(written, total, "program")
		}
	}

	return f.pollReady("nvmc.ProgramBuffer", f.readyStableBound, f.readyStablePoll)
}

// MassErase writes ERASEALL via the NVMC (not CTRL-AP): it clears
// application flash but leaves read-out protection untouched. There is no
// corresponding mass-erase for the UICR; erasing it goes through
// ErasePage(UICRBase) like any other page.
func (f *Flash) MassErase() error {
	const op = "nvmc.MassErase"
	if err := f.readyStable(op); err != nil {
		return err
	}
	return f.withMode(op, ConfigErase, func() error {
		if err := f.ap.Write32(regERASEALL, 1); err != nil {
			return err
		}
		time.Sleep(f.eraseWait)
		return f.pollReady(op, f.erasePollBound, f.readyStablePoll)
	})
}
