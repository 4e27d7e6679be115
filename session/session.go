// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package session

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wireflash/nrfswd/ctrlap"
	"github.com/wireflash/nrfswd/dp"
	"github.com/wireflash/nrfswd/fwupdate"
	"github.com/wireflash/nrfswd/ihex"
	"github.com/wireflash/nrfswd/memap"
	"github.com/wireflash/nrfswd/nvmc"
	"github.com/wireflash/nrfswd/swdio"
)

// readChunkSize bounds how much of the incoming image is handed to the
// ihex.Parser per read, so UpdateFirmware's cancellation check in the read
// loop fires at a bounded granularity.
const readChunkSize = 4096

// Progress is forwarded unchanged to the fwupdate.Coordinator's flush
// callback.
type Progress func(current, total int64, operation string)

// Option configures a Session at construction.
type Option func(*Session)

// WithProgress installs a callback invoked during UpdateFirmware's flushes.
func WithProgress(p Progress) Option {
	return func(s *Session) { s.progress = p }
}

// WithPageBufferCapacity overrides fwupdate.PageBufferCapacity.
func WithPageBufferCapacity(n int) Option {
	return func(s *Session) { s.pageBufferCapacity = n }
}

// Counters are the monotonic, atomic-backed figures a caller can read
// concurrently with an in-flight UpdateFirmware: they are the one thing
// safe to read from another goroutine mid-update.
type Counters struct {
	linesParsed  atomic.Int64
	bytesSeen    atomic.Int64
	bytesFlashed atomic.Int64
	startedAt    atomic.Int64 // UnixNano; zero until the first UpdateFirmware begins
}

func (c *Counters) LinesParsed() int64  { return c.linesParsed.Load() }
func (c *Counters) BytesSeen() int64    { return c.bytesSeen.Load() }
func (c *Counters) BytesFlashed() int64 { return c.bytesFlashed.Load() }

// Throughput returns flashed bytes per second of wall-clock elapsed since
// the current (or most recent) UpdateFirmware began. It returns 0 before
// any update has started.
func (c *Counters) Throughput() float64 {
	started := c.startedAt.Load()
	if started == 0 {
		return 0
	}
	elapsed := time.Since(time.Unix(0, started)).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.bytesFlashed.Load()) / elapsed
}

func (c *Counters) reset() {
	c.linesParsed.Store(0)
	c.bytesSeen.Store(0)
	c.bytesFlashed.Store(0)
	c.startedAt.Store(time.Now().UnixNano())
}

// Session is the composition root for one target transport: it owns the
// swdio.Driver, dp.Port, MEM-AP, flash driver and CTRL-AP behind a single
// mutex, so exactly one goroutine ever drives the wire at a time. One
// Session owns one transport; concurrent callers of its public methods are
// serialized by that mutex, each waiting until the running operation returns.
// Connect must succeed before UpdateFirmware or MassErase are called;
// Shutdown releases the underlying pins and must be the last call.
type Session struct {
	mu sync.Mutex

	drv   *swdio.Driver
	port  *dp.Port
	ap    *memap.AP
	flash *nvmc.Flash
	ctrl  *ctrlap.CtrlAP

	progress           Progress
	pageBufferCapacity int

	Counters Counters

	pendingMassErase bool
}

// New builds every layer over t but does not touch the wire; call Connect
// before any other operation.
func New(t swdio.Transport, opts ...Option) (*Session, error) {
	drv, err := swdio.New(t)
	if err != nil {
		return nil, err
	}
	port := dp.New(drv)
	ap := memap.New(port, ctrlap.MemAPNum)
	flash := nvmc.New(ap)
	ctrl := ctrlap.New(port, drv, ap)

	s := &Session{
		drv:                drv,
		port:               port,
		ap:                 ap,
		flash:              flash,
		ctrl:               ctrl,
		pageBufferCapacity: fwupdate.PageBufferCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect runs the ADIv5 link bring-up sequence: dormant wakeup, IDCODE
// validation, sticky-error clear, and debug/system power-up.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Connect()
}

// MassErase runs the CTRL-AP protection-breaking erase and arms the fast
// path the next UpdateFirmware call uses to skip per-page erase, since the
// whole device is already blank.
func (s *Session) MassErase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.MassErase(); err != nil {
		return err
	}
	s.pendingMassErase = true
	return nil
}

// UpdateFirmware streams r through an ihex.Parser into a fresh
// fwupdate.Coordinator, flushing page-aligned runs to flash as they
// complete and finishing with the reset-and-release sequence regardless of
// outcome. It is the one entry point an external upload surface calls per
// uploaded image. Cancellation is observed only at the read loop's chunk
// boundary and in Coordinator.Finish before its final flush; Feed and the
// flushes it triggers do not check ctx. It is never observed inside a
// single swdio frame, so a half-sent ADIv5 transfer is never abandoned
// mid-wire.
func (s *Session) UpdateFirmware(ctx context.Context, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Counters.reset()

	var flushedBase int64
	parser := ihex.New()
	coord := fwupdate.New(s.flash, s.ctrl, s.drv,
		fwupdate.WithCapacity(s.pageBufferCapacity),
		fwupdate.WithProgress(func(cur, total int64, op string) {
			s.Counters.bytesFlashed.Store(flushedBase + cur)
			if cur >= total {
				flushedBase += total
			}
			if s.progress != nil {
				s.progress(cur, total, op)
			}
		}))
	if s.pendingMassErase {
		coord.BeginMassErased()
		s.pendingMassErase = false
	}

	br := bufio.NewReaderSize(r, readChunkSize)
	buf := make([]byte, readChunkSize)
	var feedErr error

	for feedErr == nil {
		if err := ctx.Err(); err != nil {
			feedErr = err
			break
		}
		n, readErr := br.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.Counters.bytesSeen.Add(int64(n))
			parser.Parse(chunk, func(rec ihex.Record, addr uint32) {
				if feedErr != nil {
					return
				}
				s.Counters.linesParsed.Add(1)
				if err := coord.Feed(rec, addr); err != nil {
					feedErr = err
				}
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			feedErr = readErr
			break
		}
	}

	finishErr := coord.Finish(ctx)
	if feedErr != nil {
		return feedErr
	}
	return finishErr
}

// Shutdown parks every pin as an input, releasing the transport. It is
// safe to call whether or not Connect ever succeeded.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv.Shutdown()
}
