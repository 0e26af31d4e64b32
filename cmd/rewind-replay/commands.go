// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/scott-cotton/cli"
	"go.uber.org/zap"
)

// MainConfig holds the options shared by all subcommands.
type MainConfig struct {
	Debug bool `cli:"name=debug desc='enable debug logging'"`

	Main *cli.Command

	logger *zap.Logger
}

// MainCommand returns the root command.
func MainCommand() *cli.Command {
	cfg := &MainConfig{}

	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}

	return cli.NewCommandAt(&cfg.Main, "rewind-replay").
		WithSynopsis("rewind-replay [-debug] command [opts]").
		WithDescription("rewind-replay records machine state dumps into a rewind buffer and rewinds them.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return mainRun(cfg, cc, args)
		}).
		WithSubs(
			SynthCommand(cfg),
			ReplayCommand(cfg),
		)
}

func mainRun(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}

	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}

	cfg.logger, err = cfg.newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer cfg.logger.Sync() //nolint:errcheck

	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}

	return err
}

func (cfg *MainConfig) newLogger() (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// Logger returns the logger set up by the root command.
func (cfg *MainConfig) Logger() *zap.Logger {
	if cfg.logger == nil {
		return zap.NewNop()
	}

	return cfg.logger
}

// SynthCommand returns the synth subcommand.
func SynthCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &SynthConfig{
		MainConfig: mainCfg,
		Size:       64 << 10,
		Frames:     3600,
		Seed:       1,
	}

	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}

	return cli.NewCommandAt(&cfg.Synth, "synth").
		WithSynopsis("synth -o path [-size N] [-frames N] [-seed N] [-z]").
		WithDescription("write a dump of synthetic machine state").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return synth(cfg, cc, args)
		})
}

// ReplayCommand returns the replay subcommand.
func ReplayCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ReplayConfig{
		MainConfig:  mainCfg,
		Capacity:    20,
		Granularity: 1,
	}

	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}

	return cli.NewCommandAt(&cfg.Replay, "replay").
		WithSynopsis("replay [-capacity MiB] [-granularity N] [-fps N] [-limit N] [-listen addr] path").
		WithDescription("push every frame of a dump through a rewind buffer, then rewind it and verify each restored frame").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return replay(cfg, cc, args)
		})
}
