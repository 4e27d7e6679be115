// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hostgpio builds a swdio.Transport from three named GPIO lines on
// whatever board periph.io/x/host/v3 recognizes at runtime (Raspberry Pi,
// OrangePi, NanoPi, or any other board with a registered driver). It is the
// production backend for an SBC-class gateway; backend/ftdibackend is the
// bench alternative for a USB FTDI adapter.
package hostgpio
