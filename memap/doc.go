// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package memap tunnels 32-bit loads and stores through a debug Access
// Port's TAR/DRW/CSW registers, including the 1024-byte auto-increment wrap
// boundary, and exposes Cortex-M core-register access (DHCSR/DCRSR/DCRDR)
// for halt/resume.
package memap
