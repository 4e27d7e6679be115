// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ctrlap drives the target's vendor-specific Control Access Port
// (AP#1) to perform a protection-breaking mass erase, and implements the
// post-flash reset-and-release sequence that hands the target back in a
// clean running state with the debug port disconnected.
package ctrlap
