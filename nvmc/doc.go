// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package nvmc sequences the target's Non-Volatile Memory Controller for
// page erase, word/buffer program and full-chip mass erase, polling READY
// and always restoring CONFIG to read-only before returning, even on the
// error path.
package nvmc
