// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scott-cotton/cli"
	"github.com/siderolabs/gen/optional"
	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/siderolabs/go-rewind"
	"github.com/siderolabs/go-rewind/framedump"
	"github.com/siderolabs/go-rewind/metrics"
)

// ReplayConfig holds replay options.
type ReplayConfig struct {
	MainConfig *MainConfig
	Replay     *cli.Command

	Capacity    int    `cli:"name=capacity desc='rewind buffer size in MiB, default 20'"`
	Granularity int    `cli:"name=granularity desc='frames between snapshots, default 1'"`
	FPS         int    `cli:"name=fps desc='frames per second, 0 replays as fast as possible'"`
	Limit       int    `cli:"name=limit desc='stop after this many frames, 0 reads the whole dump'"`
	Listen      string `cli:"name=listen desc='serve Prometheus metrics on this address'"`
}

func replay(cfg *ReplayConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Replay.Parse(cc, args)
	if err != nil {
		return err
	}

	if len(args) != 1 {
		return fmt.Errorf("%w: replay requires one argument, a dump path", cli.ErrUsage)
	}

	if cfg.Capacity <= 0 || cfg.Granularity <= 0 || cfg.FPS < 0 || cfg.Limit < 0 {
		return fmt.Errorf("%w: -capacity and -granularity should be positive, -fps and -limit not negative", cli.ErrUsage)
	}

	params := replayParams{
		capacity:    cfg.Capacity << 20,
		granularity: cfg.Granularity,
		fps:         cfg.FPS,
		listen:      cfg.Listen,
	}

	if cfg.Limit > 0 {
		params.limit = optional.Some(cfg.Limit)
	}

	logger := cfg.MainConfig.Logger()

	rep, err := runReplay(context.Background(), logger, args[0], params)
	if err != nil {
		return err
	}

	rep.print(cc.Out)

	if len(rep.mismatches) > 0 {
		logger.Error("restored snapshots don't match the recorded frames", zap.Int("mismatches", len(rep.mismatches)))

		return cli.ExitCodeErr(1)
	}

	return nil
}

type replayParams struct {
	limit optional.Optional[int]

	listen string

	capacity    int
	granularity int
	fps         int
}

type report struct {
	mismatches []int

	frameSize int
	frames    int
	snapshots int
	retained  int
	evicted   int
	bytesUsed int
	capacity  int

	// total zstd size of the snapshots compressed one by one
	baselineBytes int

	elapsed time.Duration
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "frames pushed:     %d (%d bytes each)\n", r.frames, r.frameSize)
	fmt.Fprintf(w, "snapshots:         %d\n", r.snapshots)
	fmt.Fprintf(w, "snapshots kept:    %d (%d evicted)\n", r.retained, r.evicted)
	fmt.Fprintf(w, "arena bytes used:  %d of %d\n", r.bytesUsed, r.capacity)

	if r.retained > 0 {
		fmt.Fprintf(w, "avg record size:   %.1f bytes\n", float64(r.bytesUsed)/float64(r.retained))
	}

	if r.snapshots > 0 {
		fmt.Fprintf(w, "avg zstd frame:    %.1f bytes\n", float64(r.baselineBytes)/float64(r.snapshots))
	}

	fmt.Fprintf(w, "elapsed:           %s\n", r.elapsed.Round(time.Millisecond))

	if len(r.mismatches) == 0 {
		fmt.Fprintln(w, "all restored snapshots match")

		return
	}

	fmt.Fprintf(w, "mismatched snapshots: %s\n", strings.Join(xslices.Map(r.mismatches, strconv.Itoa), ", "))
}

// runReplay pushes the frames of the dump at path into a rewind buffer, then
// pops everything back and compares each snapshot with the digest of the frame
// it was taken from.
//
//nolint:gocognit
func runReplay(ctx context.Context, logger *zap.Logger, path string, params replayParams) (*report, error) {
	start := time.Now()

	dr, err := framedump.Open(path)
	if err != nil {
		return nil, err
	}

	defer dr.Close() //nolint:errcheck

	hook := metrics.NewHook("rewind")

	registry := prometheus.NewRegistry()
	registry.MustRegister(hook)

	buf, err := rewind.NewBuffer(dr.FrameSize(),
		rewind.WithCapacity(params.capacity),
		rewind.WithLogger(logger),
		rewind.WithHook(hook),
	)
	if err != nil {
		return nil, err
	}

	defer buf.Close() //nolint:errcheck

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	defer enc.Close() //nolint:errcheck

	logger.Info("replaying dump",
		zap.String("path", path),
		zap.Int("frame_size", dr.FrameSize()),
		zap.Bool("compressed", dr.Compressed()),
		zap.Int("capacity", params.capacity),
		zap.Int("granularity", params.granularity),
	)

	var lis net.Listener

	if params.listen != "" {
		lis, err = net.Listen("tcp", params.listen)
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}

		logger.Info("serving metrics", zap.Stringer("address", lis.Addr()))
	}

	rep := &report{
		frameSize: dr.FrameSize(),
		capacity:  params.capacity,
	}

	eg, ctx := errgroup.WithContext(ctx)

	const inFlight = 4

	frames := make(chan []byte)
	free := make(chan []byte, inFlight)

	for range inFlight {
		free <- make([]byte, dr.FrameSize())
	}

	eg.Go(func() error {
		defer close(frames)

		for n := 0; !params.limit.IsPresent() || n < params.limit.ValueOrZero(); n++ {
			var frame []byte

			select {
			case <-ctx.Done():
				return ctx.Err()
			case frame = <-free:
			}

			if err := dr.Next(frame); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}

				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case frames <- frame:
			}
		}

		return nil
	})

	done := make(chan struct{})

	eg.Go(func() error {
		defer close(done)

		var limiter *rate.Limiter

		if params.fps > 0 {
			limiter = rate.NewLimiter(rate.Limit(params.fps), 1)
		}

		var (
			digests []uint64
			scratch []byte
		)

		for frame := range frames {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}

			if rep.frames%params.granularity == 0 {
				copy(buf.BeginWrite(), frame)
				buf.Commit()

				digests = append(digests, xxhash.Sum64(frame))

				scratch = enc.EncodeAll(frame, scratch[:0])
				rep.baselineBytes += len(scratch)
			}

			rep.frames++

			free <- frame
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rep.snapshots = len(digests)
		rep.bytesUsed = buf.Status().BytesUsed
		rep.retained = buf.Len()

		if rep.snapshots > 0 {
			// the latest snapshot is the current state, Pop never returns it
			rep.evicted = rep.snapshots - 1 - rep.retained
		}

		logger.Info("frames pushed, rewinding",
			zap.Int("frames", rep.frames),
			zap.Int("snapshots", rep.snapshots),
			zap.Int("entries", rep.retained),
			zap.Int("bytes_used", rep.bytesUsed),
		)

		popped := 0

		for i := len(digests) - 2; i >= 0; i-- {
			data, ok := buf.Pop()
			if !ok {
				break
			}

			popped++

			if xxhash.Sum64(data) != digests[i] {
				logger.Warn("snapshot mismatch", zap.Int("snapshot", i))

				rep.mismatches = append(rep.mismatches, i)
			}
		}

		if _, ok := buf.Pop(); ok || popped != rep.retained {
			return fmt.Errorf("history length mismatch: popped %d snapshots, expected %d", popped, rep.retained)
		}

		return nil
	})

	if lis != nil {
		srv := &http.Server{
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		eg.Go(func() error {
			if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		eg.Go(func() error {
			select {
			case <-done:
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	rep.elapsed = time.Since(start)

	return rep, nil
}
