// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"testing"

	"github.com/hashicorp/cli"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand_implements(t *testing.T) {
	var _ cli.Command = &StatusCommand{}
}

func TestStatusCommand_MissingRequiredEnvReportsError(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &StatusCommand{Meta: Meta{UI: ui}}

	code := cmd.Run(nil)
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "configuration error")
}
