package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cldispatch/internal/logger"
	"github.com/samcharles93/cldispatch/internal/matmul"
	"github.com/samcharles93/cldispatch/internal/operator"
)

type selection struct {
	Target       string            `json:"target"`
	Family       string            `json:"family"`
	Problem      matmul.Problem    `json:"problem"`
	Kernel       string            `json:"kernel"`
	Config       matmul.KernelInfo `json:"config"`
	BuildOptions []string          `json:"build_options"`
}

func selectCmd() *cli.Command {
	return &cli.Command{
		Name:  "select",
		Usage: "Pick kernel block sizes for a matmul on the configured device",
		Flags: append(problemFlags(), formatFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := checkFormat(); err != nil {
				return err
			}
			p, err := problemFromFlags()
			if err != nil {
				return err
			}
			tables, err := loadTables()
			if err != nil {
				return err
			}
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			sel, err := newSelector(dev, tables)
			if err != nil {
				return err
			}
			info := sel.Configure(p)
			logger.FromContext(ctx).Debug("selected kernel configuration",
				"target", sel.Target().String(),
				"family", sel.Family(),
				"config", info.String(),
			)

			res := selection{
				Target:       sel.Target().String(),
				Family:       sel.Family(),
				Problem:      p,
				Kernel:       operator.KernelName(p.AdjLHS, p.AdjRHS),
				Config:       info,
				BuildOptions: operator.BuildOptions(info, p.DataType),
			}
			if outputFormat == "json" {
				return writeJSON(os.Stdout, res)
			}
			fmt.Printf("target:  %s (%s tables)\n", res.Target, res.Family)
			fmt.Printf("kernel:  %s\n", res.Kernel)
			fmt.Printf("config:  %s\n", res.Config)
			fmt.Printf("options: %s\n", strings.Join(res.BuildOptions, " "))
			return nil
		},
	}
}
