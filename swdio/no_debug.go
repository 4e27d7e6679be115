// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !nrfswd_debug

package swdio

// logf is disabled when the build tag nrfswd_debug is not specified.
func logf(format string, v ...interface{}) {
}
