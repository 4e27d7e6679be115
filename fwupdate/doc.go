// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fwupdate drives a nvmc.Flash from a stream of decoded ihex
// records so the resulting flash contents equal the union of the DATA
// records seen, buffering writes one page-aligned run at a time and
// erasing only the pages a flush actually touches.
package fwupdate
