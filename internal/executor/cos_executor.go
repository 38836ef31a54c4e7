// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/hashicorp/go-hclog"
)

// CommandTemplate builds the argv for invoking a per-CoS external
// command against srcAddr: a traffic-shaping tool such as iperf3, or
// anything else a deployment configures. Command selection lives here,
// entirely outside the protocol FSM.
type CommandTemplate func(cosID uint32, srcAddr string, payload []byte) (name string, args []string)

// CoSExecutor shells out to a configurable external command selected
// by CoS id, capturing stdout as the opaque result. It never hardwires
// a specific traffic-shaping tool; deployments supply their own
// CommandTemplate (iperf, iperf3, or anything else) by configuration.
type CoSExecutor struct {
	Template CommandTemplate
	SrcAddr  string
	Log      hclog.Logger
}

func NewCoSExecutor(template CommandTemplate, srcAddr string, log hclog.Logger) *CoSExecutor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &CoSExecutor{Template: template, SrcAddr: srcAddr, Log: log.Named("executor")}
}

// ExecuteCoS is called by the Responder with the CoS id that selects
// the command template; Execute (satisfying the Executor interface)
// is unavailable without a CoS id, so CoSExecutor is driven directly
// rather than through the bare Executor interface.
func (c *CoSExecutor) ExecuteCoS(ctx context.Context, cosID uint32, payload []byte) ([]byte, error) {
	name, args := c.Template(cosID, c.SrcAddr, payload)
	if name == "" {
		return nil, fmt.Errorf("executor: no command template for cos %d", cosID)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	c.Log.Debug("invoking cos executor", "cos_id", cosID, "command", name, "args", args)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("executor: %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
