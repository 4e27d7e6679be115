// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdibackend

import (
	"fmt"

	"periph.io/x/host/v3/ftdi"

	"github.com/wireflash/nrfswd/swdio"
)

// Open finds the single attached FT232H and wires three of its free D-bus
// GPIOs (D4/D5/D6, since D0-D3 are reserved for the MPSSE serial engine) as
// CLK/DIO/RESET. It fails if zero or more than one FTDI device is attached,
// the same "exactly one device expected" rule ftdismoketest.Run enforces.
func Open() (swdio.Transport, error) {
	all := ftdi.All()
	if len(all) != 1 {
		return swdio.Transport{}, fmt.Errorf("ftdibackend: exactly one FTDI device is expected, got %d", len(all))
	}
	dev, ok := all[0].(*ftdi.FT232H)
	if !ok {
		return swdio.Transport{}, fmt.Errorf("ftdibackend: expected *ftdi.FT232H, got %T", all[0])
	}
	return swdio.Transport{Clk: dev.D4, Dio: dev.D5, Reset: dev.D6}, nil
}
