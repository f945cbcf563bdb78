package main

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cldispatch/internal/device"
	"github.com/samcharles93/cldispatch/internal/logger"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

var (
	driverName   string
	target       string
	tablesPath   string
	kernelDir    string
	mutable      bool
	logLevel     string
	logFormat    string
	debug        bool
	outputFormat string

	dimM, dimN, dimK, batch uint64
	dataType               string
	adjLHS, adjRHS         bool
	lockPadding            bool
)

func driverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "driver",
			Usage:       "driver (auto, sim, opencl)",
			Value:       device.Auto,
			Destination: &driverName,
		},
		&cli.StringFlag{
			Name:        "target",
			Usage:       "GPU target override (g710, g715, ...)",
			Destination: &target,
		},
		&cli.StringFlag{
			Name:        "tables",
			Usage:       "path to kernel configuration tables (.yaml or .json)",
			Destination: &tablesPath,
		},
		&cli.StringFlag{
			Name:        "kernel-dir",
			Usage:       "directory holding the OpenCL kernel sources",
			Value:       "kernels",
			Destination: &kernelDir,
		},
		&cli.BoolFlag{
			Name:        "mutable-dispatch",
			Usage:       "advertise the mutable dispatch extension on the sim driver",
			Value:       true,
			Destination: &mutable,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func problemFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{Name: "m", Usage: "rows of the result", Value: 64, Destination: &dimM},
		&cli.Uint64Flag{Name: "n", Usage: "columns of the result", Value: 64, Destination: &dimN},
		&cli.Uint64Flag{Name: "k", Usage: "accumulation length", Value: 64, Destination: &dimK},
		&cli.Uint64Flag{Name: "batch", Aliases: []string{"b"}, Usage: "batch count", Value: 1, Destination: &batch},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "element type (f32, f16, qasymm8, qasymm8_signed, u8, s8)",
			Value:       "f32",
			Destination: &dataType,
		},
		&cli.BoolFlag{Name: "adj-lhs", Usage: "left operand is transposed", Destination: &adjLHS},
		&cli.BoolFlag{Name: "adj-rhs", Usage: "right operand is transposed", Destination: &adjRHS},
		&cli.BoolFlag{Name: "lock-padding", Usage: "right operand padding cannot grow", Destination: &lockPadding},
	}
}

func problemFromFlags() (matmul.Problem, error) {
	dt, err := matmul.ParseDataType(dataType)
	if err != nil {
		return matmul.Problem{}, err
	}
	for _, d := range []struct {
		name string
		v    uint64
	}{{"m", dimM}, {"n", dimN}, {"k", dimK}, {"batch", batch}} {
		if d.v == 0 || d.v > math.MaxUint32 {
			return matmul.Problem{}, fmt.Errorf("--%s must be between 1 and %d", d.name, uint32(math.MaxUint32))
		}
	}
	return matmul.Problem{
		Shape:          matmul.Shape{M: uint32(dimM), N: uint32(dimN), K: uint32(dimK), B: uint32(batch)},
		DataType:       dt,
		AdjLHS:         adjLHS,
		AdjRHS:         adjRHS,
		RHSLockPadding: lockPadding,
	}, nil
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "format",
		Usage:       "output format (text, json)",
		Value:       "text",
		Destination: &outputFormat,
	}
}

func checkFormat() error {
	switch outputFormat {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %q (expected text or json)", outputFormat)
	}
}

// setup applies the config file and installs the logger for every command.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyGlobalConfig(cmd, LoadConfig())

	level := logLevel
	if debug {
		level = "debug"
	}
	format := logFormat
	if format == "pretty" && !isTerminal(os.Stderr) {
		format = "text"
	}
	log := logger.ForFormat(os.Stderr, format, logger.ParseLevel(level))
	return logger.WithContext(ctx, log), nil
}

func loadTables() (matmul.Tables, error) {
	if tablesPath == "" {
		return matmul.DefaultTables(), nil
	}
	return matmul.LoadTables(tablesPath)
}

// newSelector builds a selector for dev. --target overrides the detected
// GPU; image limits always come from the device.
func newSelector(dev device.Device, tables matmul.Tables) (*matmul.Selector, error) {
	q := dev.Queue()
	if target == "" {
		return device.NewSelector(q, tables)
	}
	t, err := matmul.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	return matmul.NewSelector(t, tables, device.ImageLimits(q.Device()))
}

func openDevice() (device.Device, error) {
	return device.Open(driverName, device.Options{
		KernelDir:       kernelDir,
		MutableDispatch: mutable,
		Target:          target,
	})
}
