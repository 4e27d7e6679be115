// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package swdio

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Ack is the 3-bit acknowledgement a target returns for every SWD frame.
type Ack uint8

// Recognized ACK values, per ADIv5. Any other value observed on the wire is
// reported as a protocol error.
const (
	AckOK    Ack = 0b001
	AckWAIT  Ack = 0b010
	AckFAULT Ack = 0b100
)

func (a Ack) String() string {
	switch a {
	case AckOK:
		return "OK"
	case AckWAIT:
		return "WAIT"
	case AckFAULT:
		return "FAULT"
	default:
		return "protocol-error"
	}
}

// Known reports whether a is one of the three ADIv5 ACK codes.
func (a Ack) Known() bool {
	return a == AckOK || a == AckWAIT || a == AckFAULT
}

// ErrProtocol is returned when the 3-bit ACK phase carries a value that is
// none of OK/WAIT/FAULT.
var ErrProtocol = errors.New("swdio: protocol error: unrecognized ack")

// ErrNoResetPin is returned by AssertReset when the Transport was built without a
// hardware reset line.
var ErrNoResetPin = errors.New("swdio: no reset pin wired")

// quarterBit is the nominal duration passed to Transport.Delay between each
// half of a clock cycle. It carries no meaning by itself: Delay decides how
// (or whether) to actually wait, which is what lets the whole frame state
// machine run against a zero-delay fake pin in tests (see swdiotest).
const quarterBit = 250 * time.Nanosecond

// Transport is the three-wire hardware surface a Driver drives. Clk and Dio
// are mandatory; Reset is optional (nil means the target's reset line is not
// wired to this gateway and only software reset is available downstream).
//
// Dio must support both In and Out: SWDIO is bidirectional and flips
// direction at every turnaround.
type Transport struct {
	Clk   gpio.PinIO
	Dio   gpio.PinIO
	Reset gpio.PinIO
	Delay func(time.Duration)
}

// Driver bit-bangs one SWD link. A frame runs under Driver's lock from the
// first request bit to the trailing park clock; the lock must never be held
// across anything that can suspend, since the line driver must not suspend
// mid-frame.
type Driver struct {
	mu sync.Mutex
	t  Transport
}

// New validates t and returns a Driver. t.Reset may be nil. t.Delay may be
// nil, in which case no delay is injected between clock half-cycles.
func New(t Transport) (*Driver, error) {
	if t.Clk == nil || t.Dio == nil {
		return nil, errors.New("swdio: Clk and Dio pins are required")
	}
	if t.Delay == nil {
		t.Delay = func(time.Duration) {}
	}
	return &Driver{t: t}, nil
}

// Parity returns the XOR of all 32 bits of v: popcount(v) mod 2.
func Parity(v uint32) uint32 {
	v ^= v >> 16
	v ^= v >> 8
	v ^= v >> 4
	v ^= v >> 2
	v ^= v >> 1
	return v & 1
}

// Transfer performs exactly one SWD frame: request, turnaround, ACK, and the
// matching data phase. addr carries the 4-bit register address (its bits 2
// and 3 are the A[3:2] wire bits); apndp selects AP (true) or DP (false);
// write selects the direction. For reads, data is the value returned by the
// target; for writes it is always 0. No retry happens at this layer, that
// is dp's job.
func (d *Driver) Transfer(addr uint8, apndp, write bool, payload uint32) (Ack, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	logf("swdio: transfer addr=%#x apndp=%t write=%t payload=%#08x", addr, apndp, write, payload)

	if err := d.sendRequest(addr, apndp, write); err != nil {
		return 0, 0, err
	}
	if err := d.release(); err != nil {
		return 0, 0, err
	}
	if err := d.turnaround(); err != nil {
		return 0, 0, err
	}
	ack, err := d.readAck()
	if err != nil {
		return 0, 0, err
	}
	logf("swdio: ack=%s", ack)

	if ack == AckOK && !write {
		data, derr := d.readData()
		if terr := d.turnaround(); terr != nil {
			return ack, 0, terr
		}
		if perr := d.parkClock(); perr != nil {
			return ack, 0, perr
		}
		return ack, data, derr
	}

	// The write phase: real write on AckOK, or the dummy write required on
	// WAIT/FAULT/protocol-error to keep line state consistent.
	if err := d.turnaround(); err != nil {
		return ack, 0, err
	}
	out := uint32(0)
	if ack == AckOK && write {
		out = payload
	}
	if err := d.writeData(out); err != nil {
		return ack, 0, err
	}
	if err := d.parkClock(); err != nil {
		return ack, 0, err
	}
	if !ack.Known() {
		return ack, 0, ErrProtocol
	}
	return ack, 0, nil
}

// LineReset drives SWDIO high for >=50 clocks then one low clock.
func (d *Driver) LineReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lineReset()
}

var dormantSelectionAlert = [4]uint32{0x49CF9046, 0xA9B4A161, 0x97F5BBC7, 0x45703D98}

// DormantToSWD runs the dormant-state wakeup sequence: 8 high clocks, the
// 128-bit selection-alert pattern (MSB-first per word), 4 low clocks, the
// 8-bit activation code 0x58 (MSB-first), then a line reset.
func (d *Driver) DormantToSWD() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.t.Dio.Out(gpio.High); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		if err := d.clockOnly(); err != nil {
			return err
		}
	}
	for _, word := range dormantSelectionAlert {
		if err := d.outWordMSBFirst(word, 32); err != nil {
			return err
		}
	}
	if err := d.t.Dio.Out(gpio.Low); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := d.clockOnly(); err != nil {
			return err
		}
	}
	if err := d.outWordMSBFirst(0x58, 8); err != nil {
		return err
	}
	return d.lineReset()
}

// JTAGToSWD runs the JTAG-to-SWD selection sequence: a line reset, the
// 16-bit pattern 0xE79E (LSB-first), then another line reset.
func (d *Driver) JTAGToSWD() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lineReset(); err != nil {
		return err
	}
	if err := d.outWordLSBFirst(0xE79E, 16); err != nil {
		return err
	}
	return d.lineReset()
}

// SWDToDormant runs the shutdown sequence: a line reset plus the 16-bit
// pattern 0xE3BC (LSB-first).
func (d *Driver) SWDToDormant() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lineReset(); err != nil {
		return err
	}
	return d.outWordLSBFirst(0xE3BC, 16)
}

// HasResetPin reports whether a hardware reset line was wired.
func (d *Driver) HasResetPin() bool {
	return d.t.Reset != nil
}

// AssertReset drives the hardware reset pin low (assert) or releases it
// (high-Z is approximated here by driving high, since most reset circuits
// are open-drain with an external pull-up). Returns ErrNoResetPin if no
// reset line was wired.
func (d *Driver) AssertReset(assert bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t.Reset == nil {
		return ErrNoResetPin
	}
	lvl := gpio.High
	if assert {
		lvl = gpio.Low
	}
	return d.t.Reset.Out(lvl)
}

// Shutdown parks Clk, Dio and Reset (if wired) as inputs with no pull,
// ending the session.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	park := func(p gpio.PinIO) {
		if p == nil {
			return
		}
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil && first == nil {
			first = err
		}
	}
	park(d.t.Clk)
	park(d.t.Dio)
	park(d.t.Reset)
	return first
}

//

func (d *Driver) sendRequest(addr uint8, apndp, write bool) error {
	rnw := !write
	a2 := addr&0x4 != 0
	a3 := addr&0x8 != 0
	parity := boolBit(apndp) ^ boolBit(rnw) ^ boolBit(a2) ^ boolBit(a3)
	bits := [8]bool{true, apndp, rnw, a2, a3, parity == 1, false, true}
	if err := d.t.Dio.Out(gpio.Low); err != nil {
		return err
	}
	for _, b := range bits {
		if err := d.outBit(b); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) readAck() (Ack, error) {
	var v uint8
	for i := 0; i < 3; i++ {
		b, err := d.inBit()
		if err != nil {
			return 0, err
		}
		if b {
			v |= 1 << uint(i)
		}
	}
	return Ack(v), nil
}

func (d *Driver) readData() (uint32, error) {
	var v uint32
	for i := 0; i < 32; i++ {
		b, err := d.inBit()
		if err != nil {
			return v, err
		}
		if b {
			v |= 1 << uint(i)
		}
	}
	parityBit, err := d.inBit()
	if err != nil {
		return v, err
	}
	if (Parity(v) == 1) != parityBit {
		return v, errors.New("swdio: data phase parity error")
	}
	return v, nil
}

func (d *Driver) writeData(v uint32) error {
	for i := 0; i < 32; i++ {
		if err := d.outBit(v&(1<<uint(i)) != 0); err != nil {
			return err
		}
	}
	return d.outBit(Parity(v) == 1)
}

// turnaround pulses the clock once without driving Dio: a single-clock
// turnaround phase used both host->target and target->host; which direction
// is implied by who drives Dio next. Host->target turnarounds must be
// preceded by release() so the two sides never drive the line at once.
func (d *Driver) turnaround() error {
	return d.clockOnly()
}

// release puts Dio in input mode so the target can drive it, used right
// before a host->target turnaround.
func (d *Driver) release() error {
	return d.t.Dio.In(gpio.PullNoChange, gpio.NoEdge)
}

func (d *Driver) lineReset() error {
	if err := d.t.Dio.Out(gpio.High); err != nil {
		return err
	}
	for i := 0; i < 50; i++ {
		if err := d.clockOnly(); err != nil {
			return err
		}
	}
	if err := d.t.Dio.Out(gpio.Low); err != nil {
		return err
	}
	return d.clockOnly()
}

func (d *Driver) parkClock() error {
	if err := d.t.Dio.Out(gpio.Low); err != nil {
		return err
	}
	return d.clockOnly()
}

func (d *Driver) outWordLSBFirst(v uint32, bits int) error {
	for i := 0; i < bits; i++ {
		if err := d.outBit(v&(1<<uint(i)) != 0); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) outWordMSBFirst(v uint32, bits int) error {
	for i := bits - 1; i >= 0; i-- {
		if err := d.outBit(v&(1<<uint(i)) != 0); err != nil {
			return err
		}
	}
	return nil
}

// outBit is one host-driven clock cycle: drive-edge, delay, clock-high,
// delay, clock-low.
func (d *Driver) outBit(bit bool) error {
	lvl := gpio.Low
	if bit {
		lvl = gpio.High
	}
	if err := d.t.Dio.Out(lvl); err != nil {
		return err
	}
	d.t.Delay(quarterBit)
	if err := d.t.Clk.Out(gpio.High); err != nil {
		return err
	}
	d.t.Delay(quarterBit)
	return d.t.Clk.Out(gpio.Low)
}

// inBit is one target-driven clock cycle: the target is expected to present
// its bit while the clock is high; the host samples it there.
func (d *Driver) inBit() (bool, error) {
	d.t.Delay(quarterBit)
	if err := d.t.Clk.Out(gpio.High); err != nil {
		return false, err
	}
	lvl := d.t.Dio.Read()
	d.t.Delay(quarterBit)
	if err := d.t.Clk.Out(gpio.Low); err != nil {
		return false, err
	}
	return lvl == gpio.High, nil
}

// clockOnly runs one clock cycle without touching Dio, used for turnarounds
// and for the constant-level runs in the connect/reset sequences.
func (d *Driver) clockOnly() error {
	d.t.Delay(quarterBit)
	if err := d.t.Clk.Out(gpio.High); err != nil {
		return err
	}
	d.t.Delay(quarterBit)
	return d.t.Clk.Out(gpio.Low)
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
