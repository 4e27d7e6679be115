// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package swdio bit-bangs the ARM Serial Wire Debug two-wire protocol over a
// pair of periph.io/x/conn/v3/gpio pins.
//
// It is the only package in this module that touches hardware directly; the
// rest of the stack only ever sees Driver's methods: dp uses Transfer and
// the connect-sequence methods, ctrlap the reset-pin methods, and fwupdate
// and session Shutdown.
//
// Use build tag nrfswd_debug to log every frame.
package swdio
