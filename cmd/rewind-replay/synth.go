// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/scott-cotton/cli"
	"go.uber.org/zap"

	"github.com/siderolabs/go-rewind/framedump"
)

// SynthConfig holds synth options.
type SynthConfig struct {
	MainConfig *MainConfig
	Synth      *cli.Command

	Out      string `cli:"name=o desc='output dump path'"`
	Size     int    `cli:"name=size desc='frame size in bytes, default 65536'"`
	Frames   int    `cli:"name=frames desc='number of frames, default 3600'"`
	Seed     int    `cli:"name=seed desc='random seed, default 1'"`
	Compress bool   `cli:"name=z desc='compress the dump with zstd'"`
}

func synth(cfg *SynthConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Synth.Parse(cc, args)
	if err != nil {
		return err
	}

	if len(args) != 0 {
		return fmt.Errorf("%w: synth takes no arguments, got %v", cli.ErrUsage, args)
	}

	if cfg.Out == "" {
		return fmt.Errorf("%w: -o is required", cli.ErrUsage)
	}

	if cfg.Size < machineMinSize || cfg.Size > framedump.MaxFrameSize {
		return fmt.Errorf("%w: -size should be between %d and %d", cli.ErrUsage, machineMinSize, framedump.MaxFrameSize)
	}

	if cfg.Frames <= 0 {
		return fmt.Errorf("%w: -frames should be positive", cli.ErrUsage)
	}

	var opts []framedump.OptionFunc

	if cfg.Compress {
		opts = append(opts, framedump.WithCompression())
	}

	if err = writeSynth(cfg.Out, cfg.Size, cfg.Frames, uint64(cfg.Seed), opts...); err != nil {
		return err
	}

	cfg.MainConfig.Logger().Info("synthetic dump written",
		zap.String("path", cfg.Out),
		zap.Int("frame_size", cfg.Size),
		zap.Int("frames", cfg.Frames),
		zap.Bool("compressed", cfg.Compress),
	)

	return nil
}

func writeSynth(path string, size, frames int, seed uint64, opts ...framedump.OptionFunc) error {
	dw, err := framedump.Create(path, size, opts...)
	if err != nil {
		return err
	}

	m := newMachine(size, seed)

	for range frames {
		m.step()

		if err = dw.WriteFrame(m.state); err != nil {
			dw.Close() //nolint:errcheck

			return err
		}
	}

	return dw.Close()
}

// smallest state which has room for every region of the machine
const machineMinSize = 1024

// machine imitates the state of an emulated console: a frame counter and
// CPU registers which change every frame, a work RAM with a few writes per
// frame and a video RAM which is scrolled every now and then.
type machine struct {
	rnd   *rand.Rand
	state []byte

	ram   []byte
	video []byte

	frame uint32
}

func newMachine(size int, seed uint64) *machine {
	m := &machine{
		rnd:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		state: make([]byte, size),
	}

	// [0, 64) registers, then half RAM, half video
	split := 64 + (size-64)/2

	m.ram = m.state[64:split]
	m.video = m.state[split:]

	for i := range m.video {
		m.video[i] = byte(m.rnd.Uint32())
	}

	return m
}

func (m *machine) step() {
	m.frame++

	binary.LittleEndian.PutUint32(m.state, m.frame)

	for i := 4; i < 64; i += 4 {
		if m.rnd.IntN(4) == 0 {
			binary.LittleEndian.PutUint32(m.state[i:], m.rnd.Uint32())
		}
	}

	// sparse RAM writes, sometimes clustered
	for range 1 + m.rnd.IntN(32) {
		at := m.rnd.IntN(len(m.ram))
		end := min(len(m.ram), at+1+m.rnd.IntN(8))

		for i := at; i < end; i++ {
			m.ram[i] = byte(m.rnd.Uint32())
		}
	}

	// every second or so the screen scrolls by a row
	if m.frame%60 == 0 {
		const row = 32

		copy(m.video, m.video[row:])

		for i := len(m.video) - row; i < len(m.video); i++ {
			m.video[i] = byte(m.rnd.Uint32())
		}
	}
}
