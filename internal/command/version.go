// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"

	"github.com/hashicorp/tegu-engine/internal/version"
)

// VersionCommand prints this build's version.
type VersionCommand struct {
	Meta
}

func (c *VersionCommand) Help() string {
	return "Usage: tegu-enginectl version\n\n  Print the tegu-enginectl version."
}

func (c *VersionCommand) Synopsis() string {
	return "Print the version"
}

func (c *VersionCommand) Run(_ []string) int {
	c.UI.Output(fmt.Sprintf("tegu-enginectl v%s", version.Number))
	return 0
}
