package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cldispatch/internal/device"
	"github.com/samcharles93/cldispatch/internal/matmul"
)

type validation struct {
	Valid  bool              `json:"valid"`
	Error  string            `json:"error,omitempty"`
	LHS    string            `json:"lhs"`
	RHS    string            `json:"rhs"`
	Dst    string            `json:"dst,omitempty"`
	Config matmul.KernelInfo `json:"config"`
}

func validateCmd() *cli.Command {
	var (
		m0, n0, k0 int64
		export     bool
	)

	return &cli.Command{
		Name:  "validate",
		Usage: "Check a kernel configuration against a matmul and the device limits",
		Flags: append(problemFlags(),
			&cli.Int64Flag{Name: "m0", Usage: "rows per work item", Value: 4, Destination: &m0},
			&cli.Int64Flag{Name: "n0", Usage: "columns per work item", Value: 4, Destination: &n0},
			&cli.Int64Flag{Name: "k0", Usage: "accumulation step", Value: 4, Destination: &k0},
			&cli.BoolFlag{Name: "export-rhs", Usage: "read the right operand through a 2D image", Destination: &export},
			formatFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := checkFormat(); err != nil {
				return err
			}
			p, err := problemFromFlags()
			if err != nil {
				return err
			}
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			info := matmul.KernelInfo{
				AdjLHS:           p.AdjLHS,
				AdjRHS:           p.AdjRHS,
				M0:               int(m0),
				N0:               int(n0),
				K0:               int(k0),
				ExportRHSToImage: export,
			}
			lhs, rhs := matmul.Operands(p.Shape, p.DataType, p.AdjLHS, p.AdjRHS)
			res := validation{Valid: true, LHS: lhs.String(), RHS: rhs.String(), Config: info}
			dst, verr := matmul.Validate(lhs, rhs, info, device.ImageLimits(dev.Queue().Device()))
			if verr != nil {
				res.Valid = false
				res.Error = verr.Error()
			} else {
				res.Dst = dst.String()
			}

			if outputFormat == "json" {
				if err := writeJSON(os.Stdout, res); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Printf("valid: %s x %s -> %s\n", res.LHS, res.RHS, res.Dst)
			} else {
				fmt.Printf("invalid: %s\n", res.Error)
			}
			if !res.Valid {
				return cli.Exit("", 2)
			}
			return nil
		},
	}
}
