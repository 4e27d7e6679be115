// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fwupdate

import (
	"context"

	"github.com/wireflash/nrfswd/ctrlap"
	"github.com/wireflash/nrfswd/ihex"
	"github.com/wireflash/nrfswd/nvmc"
	"github.com/wireflash/nrfswd/swdio"
)

// PageBufferCapacity is the coordinator's page-aligned buffer size.
const PageBufferCapacity = 4096

// Progress mirrors nvmc.Flash.ProgramBuffer's progress callback shape.
type Progress func(current, total int64, operation string)

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithCapacity overrides PageBufferCapacity.
func WithCapacity(n int) Option {
	return func(c *Coordinator) { c.capacity = n }
}

// WithProgress installs a callback invoked during each flush's program
// phase (forwarded to nvmc.Flash.ProgramBuffer).
func WithProgress(p Progress) Option {
	return func(c *Coordinator) { c.progress = p }
}

// Coordinator buffers Intel-HEX DATA records into page-aligned runs and
// flushes them through a nvmc.Flash, erasing only the pages a run actually
// touches. It holds an exclusive reference to the target transport for the
// life of one update.
type Coordinator struct {
	flash *nvmc.Flash
	ctrl  *ctrlap.CtrlAP
	drv   *swdio.Driver

	capacity int
	progress Progress

	buf      []byte
	bufStart uint32
	bufValid int
	started  bool

	massErased bool
}

// New wraps flash (the target's NVMC driver), ctrl (for the final
// reset-and-release) and drv (for the final pin-driver shutdown).
func New(flash *nvmc.Flash, ctrl *ctrlap.CtrlAP, drv *swdio.Driver, opts ...Option) *Coordinator {
	c := &Coordinator{
		flash:    flash,
		ctrl:     ctrl,
		drv:      drv,
		capacity: PageBufferCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.buf = make([]byte, c.capacity)
	c.resetBuffer()
	return c
}

// BeginMassErased marks the target as already mass-erased: flushes skip
// per-page erase until Finish clears the flag.
func (c *Coordinator) BeginMassErased() {
	c.massErased = true
}

// Feed applies one decoded record to the page buffer. DATA records are
// buffered, copied in place when the record lies wholly inside the
// buffer's span (capacity bytes from the run's first address) or
// triggering a flush first when not; EXT_LIN_ADDR and EXT_SEG_ADDR force a flush first,
// since the address base they establish makes the next DATA record's
// address discontinuous with whatever is currently buffered. Other record
// types (START_*) carry no buffering action. EOF is not handled here: the
// caller observes it from the parser callback and calls Finish instead.
func (c *Coordinator) Feed(rec ihex.Record, addr uint32) error {
	switch rec.Type {
	case ihex.RecordData:
		return c.feedData(addr, rec.Data)
	case ihex.RecordExtLinAddr, ihex.RecordExtSegAddr:
		return c.flush()
	default:
		return nil
	}
}

func (c *Coordinator) feedData(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	l := uint32(len(data))
	fits := c.started && addr >= c.bufStart && uint64(addr)+uint64(l) <= uint64(c.bufStart)+uint64(c.capacity)
	if !fits {
		if err := c.flush(); err != nil {
			return err
		}
		c.bufStart = addr
		c.started = true
	}
	off := addr - c.bufStart
	copy(c.buf[off:], data)
	if end := int(off) + len(data); end > c.bufValid {
		c.bufValid = end
	}
	return nil
}

// flush erases every page the buffered run touches (skipped under the
// mass-erased fast path) then programs the buffered bytes, finally
// reinitializing the buffer to empty.
func (c *Coordinator) flush() error {
	if !c.started || c.bufValid == 0 {
		c.resetBuffer()
		return nil
	}
	if !c.massErased {
		startPage := (c.bufStart / nvmc.PageSize) * nvmc.PageSize
		endAddr := c.bufStart + uint32(c.bufValid)
		endPage := ((endAddr + nvmc.PageSize - 1) / nvmc.PageSize) * nvmc.PageSize
		for page := startPage; page < endPage; page += nvmc.PageSize {
			if err := c.flash.ErasePage(page); err != nil {
				return err
			}
		}
	}
	if err := c.flash.ProgramBuffer(c.bufStart, c.buf[:c.bufValid], func(cur, total int64, op string) {
		if c.progress != nil {
			c.progress(cur, total, op)
		}
	}); err != nil {
		return err
	}
	c.resetBuffer()
	return nil
}

func (c *Coordinator) resetBuffer() {
	for i := range c.buf {
		c.buf[i] = 0xFF
	}
	c.bufValid = 0
	c.started = false
}

// Finish flushes any buffered bytes one final time, runs reset-and-release,
// then shuts down the pin driver, clearing the mass-erased fast path
// regardless of outcome. A flush failure is returned with its original
// Kind intact; ResetAndRelease and Shutdown are still attempted on that
// path, best-effort, to leave the target and link in as clean a state as
// possible even after a failed update.
func (c *Coordinator) Finish(ctx context.Context) error {
	flushErr := ctx.Err()
	if flushErr == nil {
		flushErr = c.flush()
	}
	c.massErased = false

	resetErr := c.ctrl.ResetAndRelease()
	_ = c.drv.Shutdown()

	if flushErr != nil {
		return flushErr
	}
	return resetErr
}
