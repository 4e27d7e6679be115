// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ihex streams Intel-HEX text into decoded records with absolute
// 32-bit addresses. Parse accepts partial writes across calls with no
// blocking read, so it can be fed directly from a network connection one
// chunk at a time.
package ihex
