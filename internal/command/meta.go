// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package command implements the tegu-enginectl subcommands: each
// subcommand is a small struct satisfying github.com/hashicorp/cli's
// Command interface, sharing a Meta embed for common flags and UI
// plumbing.
package command

import (
	"flag"

	"github.com/hashicorp/cli"
)

// Meta holds state shared by every subcommand: the UI.
type Meta struct {
	UI cli.Ui
}

// FlagSet returns a flag.FlagSet named after the owning command, with
// its usage output suppressed.
func (m *Meta) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {}
	return fs
}
