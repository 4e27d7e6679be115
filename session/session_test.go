// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"testing"

	"periph.io/x/conn/v3/gpio"

	"github.com/wireflash/nrfswd/swdio"
	"github.com/wireflash/nrfswd/swdio/swdiotest"
)

const idcode = uint32(0x2BA01477)
const wantAcks = 1<<29 | 1<<31

func ackOK() []gpio.Level { return []gpio.Level{gpio.High, gpio.Low, gpio.Low} }

func dataLevels(v uint32) []gpio.Level {
	out := make([]gpio.Level, 33)
	for i := 0; i < 32; i++ {
		if v&(1<<uint(i)) != 0 {
			out[i] = gpio.High
		} else {
			out[i] = gpio.Low
		}
	}
	if swdio.Parity(v) == 1 {
		out[32] = gpio.High
	} else {
		out[32] = gpio.Low
	}
	return out
}

func write(dio *swdiotest.Pin) { dio.InLevels = append(dio.InLevels, ackOK()...) }

func read(dio *swdiotest.Pin, v uint32) {
	dio.InLevels = append(dio.InLevels, ackOK()...)
	dio.InLevels = append(dio.InLevels, dataLevels(v)...)
}

func readAP(dio *swdiotest.Pin, reselect bool, stale, value uint32) {
	if reselect {
		write(dio)
	}
	read(dio, stale)
	read(dio, value)
}

func writeAP(dio *swdiotest.Pin, reselect bool) {
	if reselect {
		write(dio)
	}
	write(dio)
}

// memapWrite32 scripts one memap.AP.Write32 call: SELECT+CSW only on the
// AP's first-ever access, then TAR+DRW every time.
func memapWrite32(dio *swdiotest.Pin, first bool) {
	if first {
		write(dio) // SELECT
		write(dio) // CSW
	}
	write(dio) // TAR
	write(dio) // DRW
}

func memapRead32(dio *swdiotest.Pin, stale, value uint32) {
	write(dio) // TAR
	read(dio, stale)
	read(dio, value)
}

func newFakeSession(t *testing.T) (*Session, *swdiotest.Pin) {
	t.Helper()
	clk := swdiotest.NewPin("CLK")
	dio := swdiotest.NewPin("DIO")
	s, err := New(swdio.Transport{Clk: clk, Dio: dio})
	if err != nil {
		t.Fatal(err)
	}
	return s, dio
}

// scriptConnect appends the wire sequence for one Session.Connect call,
// mirroring dp's TestConnectSuccess script exactly.
func scriptConnect(dio *swdiotest.Pin) {
	read(dio, idcode)  // ReadReg(IDCODE)
	write(dio)         // WriteReg(ABORT)
	write(dio)         // PowerUp: WriteReg(CTRLSTAT)
	read(dio, wantAcks) // PowerUp: ReadReg(CTRLSTAT) poll
	write(dio)         // WriteReg(ABORT) again
}

// scriptDisconnect appends the wire sequence for one dp.Port.Disconnect.
func scriptDisconnect(dio *swdiotest.Pin) {
	write(dio)    // WriteReg(CTRLSTAT, 0)
	read(dio, 0)  // poll for acks clear
}

func TestConnect(t *testing.T) {
	s, dio := newFakeSession(t)
	scriptConnect(dio)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

// TestMassErase drives Session.MassErase through the full CTRL-AP
// protection-breaking sequence and the DP disconnect/reconnect it ends
// with, mirroring ctrlap's TestMassErase script.
func TestMassErase(t *testing.T) {
	s, dio := newFakeSession(t)
	scriptConnect(dio)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	write(dio)                       // PowerUp: CTRLSTAT <- power request
	read(dio, wantAcks)               // PowerUp: CTRLSTAT poll
	readAP(dio, true, 0, 0x12880000)  // checkIdentity: IDR (bank 0xF reselect)
	readAP(dio, true, 0, 0)           // APPROTECTSTATUS (bank 0 reselect)
	writeAP(dio, false)               // ERASEALL <- 1
	read(dio, 0)                      // DrainRDBUFF
	readAP(dio, false, 0x7, 0)        // ERASEALLSTATUS poll, settles at 0
	writeAP(dio, false)               // RESET <- 1
	read(dio, 0)                      // DrainRDBUFF
	writeAP(dio, false)               // RESET <- 0
	read(dio, 0)                      // DrainRDBUFF
	writeAP(dio, false)               // ERASEALL <- 0
	read(dio, 0)                      // DrainRDBUFF
	scriptDisconnect(dio)
	scriptConnect(dio)

	if err := s.MassErase(); err != nil {
		t.Fatalf("MassErase() error = %v", err)
	}
	if !s.pendingMassErase {
		t.Fatal("MassErase() did not arm the fast path")
	}
}

// TestUpdateFirmwareMassErasedFastPath runs a one-word image through a
// Session already armed by MassErase: Feed buffers the word with no wire
// activity, and Finish programs it directly (no per-page erase) before
// running reset-and-release, which here also disconnects the DP since
// MassErase left it connected.
func TestUpdateFirmwareMassErasedFastPath(t *testing.T) {
	s, dio := newFakeSession(t)
	scriptConnect(dio)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	write(dio)
	read(dio, wantAcks)
	readAP(dio, true, 0, 0x12880000)
	readAP(dio, true, 0, 0)
	writeAP(dio, false)
	read(dio, 0)
	readAP(dio, false, 0x7, 0)
	writeAP(dio, false)
	read(dio, 0)
	writeAP(dio, false)
	read(dio, 0)
	writeAP(dio, false)
	read(dio, 0)
	scriptDisconnect(dio)
	scriptConnect(dio)
	if err := s.MassErase(); err != nil {
		t.Fatalf("MassErase() error = %v", err)
	}

	// ProgramBuffer's CONFIG<-write: first-ever access through the shared
	// memap.AP since MassErase talks to the CTRL-AP directly, never memap.
	memapWrite32(dio, true)              // CONFIG <- write
	memapRead32(dio, 0, uint32(1))       // CONFIG readback (ConfigWrite)
	memapWrite32(dio, false)             // TAR write + DRW (the word itself)
	read(dio, 0)                         // WriteBlock32's RDBUFF drain
	memapRead32(dio, 0, 1)               // pollReady at end of programAligned
	memapWrite32(dio, false)             // CONFIG <- read-only

	// ResetAndRelease, CSW already cached from the program above.
	memapWrite32(dio, false) // ICACHECNF <- 1
	memapWrite32(dio, false) // ICACHECNF <- 3
	memapWrite32(dio, false) // VTOR <- 0
	memapRead32(dio, 0, 0)   // Halted(): DHCSR read, S_HALT clear
	memapWrite32(dio, false) // DHCSR <- debug key only
	memapWrite32(dio, false) // DEMCR <- 0
	memapWrite32(dio, false) // AIRCR <- reset key | SYSRESETREQ
	scriptDisconnect(dio)    // port is still Connected() after MassErase

	img := []byte(":04000000DEADBEEFC4\r\n:00000001FF\r\n")
	if err := s.UpdateFirmware(context.Background(), bytes.NewReader(img)); err != nil {
		t.Fatalf("UpdateFirmware() error = %v", err)
	}
	if s.pendingMassErase {
		t.Fatal("UpdateFirmware() left the mass-erased fast path armed")
	}
	if got := s.Counters.LinesParsed(); got != 2 {
		t.Fatalf("Counters.LinesParsed() = %d, want 2", got)
	}
	if got := s.Counters.BytesFlashed(); got != 4 {
		t.Fatalf("Counters.BytesFlashed() = %d, want 4", got)
	}
}

// TestUpdateFirmwareCancelledBeforeRead checks the context-cancellation
// checkpoint at the read loop's entry: no bytes are read and Finish still
// runs reset-and-release and shutdown, matching fwupdate.Coordinator's
// own error-preserving Finish contract.
func TestUpdateFirmwareCancelledBeforeRead(t *testing.T) {
	s, dio := newFakeSession(t)
	scriptConnect(dio)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Finish still runs ResetAndRelease with an empty buffer (no program
	// call) and Disconnect since Connect left the port connected.
	memapWrite32(dio, true)  // ICACHECNF <- 1
	memapWrite32(dio, false) // ICACHECNF <- 3
	memapWrite32(dio, false) // VTOR <- 0
	memapRead32(dio, 0, 0)   // Halted()
	memapWrite32(dio, false) // DHCSR <- debug key only
	memapWrite32(dio, false) // DEMCR <- 0
	memapWrite32(dio, false) // AIRCR <- reset key | SYSRESETREQ
	scriptDisconnect(dio)

	err := s.UpdateFirmware(ctx, bytes.NewReader([]byte(":00000001FF\r\n")))
	if err == nil {
		t.Fatal("UpdateFirmware() with a cancelled context returned nil error")
	}
}

func TestShutdown(t *testing.T) {
	s, _ := newFakeSession(t)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
