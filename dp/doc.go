// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dp implements the ARM ADIv5 Debug Port: register access with
// WAIT retry and sticky-fault clearing, AP access through the raw-read +
// RDBUFF pattern, and the connect/disconnect power sequencing.
//
// Register access from everything above dp (memap, nvmc, ctrlap) goes
// through Port; dp is the only package that issues swdio.Driver.Transfer
// and sees SWD ACK codes. ctrlap, fwupdate and session also hold the
// swdio.Driver, for the reset pin and pin shutdown.
package dp
