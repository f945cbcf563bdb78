package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cldispatch/internal/device"
)

func deviceCmd() *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Describe the selected device and the command buffer variant it gets",
		Flags: []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := checkFormat(); err != nil {
				return err
			}
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			r := device.Describe(dev)
			if outputFormat == "json" {
				return writeJSON(os.Stdout, r)
			}
			fmt.Printf("driver:         %s (available: %s)\n", r.Driver, device.Available())
			fmt.Printf("device:         %s\n", r.Device.Name)
			if r.Target != "" {
				fmt.Printf("target:         %s (%s)\n", r.Target, r.Arch)
			}
			fmt.Printf("command buffer: %s\n", r.CommandBuffer)
			fmt.Printf("image2d:        supported=%t max=%dx%d\n", r.ImageLimits.Supported, r.ImageLimits.MaxWidth, r.ImageLimits.MaxHeight)
			fmt.Printf("extensions:     %s\n", strings.Join(r.Device.Extensions, " "))
			fmt.Printf("host:           %s/%s cpus=%d features=%s\n", r.Host.OS, r.Host.Arch, r.Host.CPUs, strings.Join(r.Host.Features, ","))
			return nil
		},
	}
}
