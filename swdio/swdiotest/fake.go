// Copyright 2026 The nrfswd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package swdiotest provides a small in-memory gpio.PinIO fake for testing
// swdio (and anything built on top of it) without real hardware, in the
// style of the teacher's invalidPin/loggingPin test doubles.
package swdiotest

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Pin is a fake gpio.PinIO that records every Out() level and lets a test
// script the sequence of levels Read() returns.
type Pin struct {
	name string

	dir      string // "in" or "out", starts "in"
	level    gpio.Level
	OutLevel []gpio.Level // every level driven via Out, in order
	InLevels []gpio.Level // levels to hand back from Read, consumed in order
	readPos  int
}

// NewPin returns a Pin named name, initially configured as an input reading
// Low.
func NewPin(name string) *Pin {
	return &Pin{name: name, dir: "in", level: gpio.Low}
}

func (p *Pin) String() string   { return p.name }
func (p *Pin) Name() string     { return p.name }
func (p *Pin) Number() int      { return -1 }
func (p *Pin) Function() string { return p.dir }
func (p *Pin) Halt() error      { return nil }

func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.dir = "in"
	return nil
}

func (p *Pin) Read() gpio.Level {
	if p.readPos < len(p.InLevels) {
		l := p.InLevels[p.readPos]
		p.readPos++
		return l
	}
	return p.level
}

func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	return false
}

func (p *Pin) Pull() gpio.Pull        { return gpio.PullNoChange }
func (p *Pin) DefaultPull() gpio.Pull { return gpio.PullNoChange }

func (p *Pin) Out(l gpio.Level) error {
	p.dir = "out"
	p.level = l
	p.OutLevel = append(p.OutLevel, l)
	return nil
}

func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return nil
}

// IsInput reports whether Out wasn't the last call to set direction.
func (p *Pin) IsInput() bool { return p.dir == "in" }

var _ gpio.PinIO = &Pin{}
