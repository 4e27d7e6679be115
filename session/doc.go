// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package session is the composition root: it owns every per-device object
// (the SWD driver, debug port, MEM-AP, flash driver, and control-AP) behind
// one mutex, so a Session is a single-owner unit, one task, one transport,
// from Connect to Shutdown.
package session
