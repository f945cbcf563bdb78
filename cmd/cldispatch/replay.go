package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cldispatch/internal/cl"
	"github.com/samcharles93/cldispatch/internal/commandbuffer"
	"github.com/samcharles93/cldispatch/internal/device"
	"github.com/samcharles93/cldispatch/internal/logger"
	"github.com/samcharles93/cldispatch/internal/matmul"
	"github.com/samcharles93/cldispatch/internal/operator"
)

func replayCmd() *cli.Command {
	var iterations int64

	return &cli.Command{
		Name:  "replay",
		Usage: "Record a matmul once on the sim driver, run it repeatedly and print the driver calls",
		Flags: append(problemFlags(),
			&cli.Int64Flag{
				Name:        "iterations",
				Aliases:     []string{"n-runs"},
				Usage:       "number of update/enqueue rounds",
				Value:       3,
				Destination: &iterations,
			},
			formatFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := checkFormat(); err != nil {
				return err
			}
			if iterations < 1 {
				return fmt.Errorf("--iterations must be at least 1")
			}
			p, err := problemFromFlags()
			if err != nil {
				return err
			}
			tables, err := loadTables()
			if err != nil {
				return err
			}
			dev := device.NewSim(device.Options{MutableDispatch: mutable, Target: target})
			sel, err := newSelector(dev, tables)
			if err != nil {
				return err
			}
			return replay(ctx, os.Stdout, outputFormat, dev, sel, p, int(iterations))
		},
	}
}

func replay(ctx context.Context, w io.Writer, format string, dev *device.SimDevice, sel *matmul.Selector, p matmul.Problem, iterations int) error {
	log := logger.FromContext(ctx)

	dev.SetArgCount(operator.KernelName(p.AdjLHS, p.AdjRHS), operator.NumArgs)
	lhs, rhs := matmul.Operands(p.Shape, p.DataType, p.AdjLHS, p.AdjRHS)
	var op operator.MatMul
	err := op.Configure(ctx, dev.Queue(), sel, dev, lhs, rhs, matmul.TensorInfo{}, operator.MatMulOptions{
		AdjLHS:         p.AdjLHS,
		AdjRHS:         p.AdjRHS,
		RHSLockPadding: p.RHSLockPadding,
	})
	if err != nil {
		return err
	}
	defer op.Release()

	var runErr error
	err = commandbuffer.Guard(func() {
		for i := range iterations {
			var bufs [3]cl.Mem
			for j := range bufs {
				bufs[j] = dev.Driver.Buffer()
			}
			if runErr = op.Run(bufs[0], bufs[1], bufs[2]); runErr != nil {
				return
			}
			log.Debug("replayed matmul", "iteration", i, "lhs", bufs[0], "rhs", bufs[1], "dst", bufs[2])
		}
	})
	if err == nil {
		err = runErr
	}
	if err != nil {
		return err
	}
	log.Info("replay finished",
		"iterations", iterations,
		"launches", len(dev.Launches()),
		"command_buffer", device.Describe(dev).CommandBuffer,
	)

	if format == "json" {
		return dev.WriteTrace(w)
	}
	return dev.WriteText(w)
}
