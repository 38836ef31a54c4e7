// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"

	"github.com/hashicorp/tegu-engine/internal/command"
	"github.com/hashicorp/tegu-engine/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorableStdout(),
			ErrorWriter: colorable.NewColorableStderr(),
		},
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		ErrorColor:  cli.UiColorRed,
		WarnColor:   cli.UiColorYellow,
	}

	c := &cli.CLI{
		Name:     "tegu-enginectl",
		Version:  version.Number,
		Args:     args,
		Commands: command.Commands(ui),
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}
