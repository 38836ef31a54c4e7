// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"github.com/hashicorp/cli"
)

// Commands returns the tegu-enginectl command table: one factory per
// subcommand, sharing the same UI.
func Commands(ui cli.Ui) map[string]cli.CommandFactory {
	meta := Meta{UI: ui}

	return map[string]cli.CommandFactory{
		"status": func() (cli.Command, error) {
			return &StatusCommand{Meta: meta}, nil
		},
		"send": func() (cli.Command, error) {
			return &SendCommand{Meta: meta}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Meta: meta}, nil
		},
	}
}
