// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdibackend builds a swdio.Transport from an FT232H's D-bus GPIOs,
// the bench/development counterpart to backend/hostgpio: an engineer can
// drive a session.Session from a USB FTDI adapter with no SBC involved.
package ftdibackend
