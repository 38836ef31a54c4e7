// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/tegu-engine/internal/accountant"
	"github.com/hashicorp/tegu-engine/internal/config"
)

// StatusCommand loads the process environment into a config.Config and
// reports the resource accountant's initial view of free capacity. It
// never contacts the orchestrator; CoS-aware reservation state can only
// be observed once an Engine is actually running.
type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	return "Usage: tegu-enginectl status\n\n  Validate the environment configuration and report free capacity."
}

func (c *StatusCommand) Synopsis() string {
	return "Show configuration and resource status"
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

func (c *StatusCommand) Run(_ []string) int {
	loader := &config.EnvLoader{Env: environMap()}
	cfg, err := loader.Load()
	if err != nil {
		c.UI.Error(fmt.Sprintf("configuration error: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf("controller decoy: %s (%s)", cfg.ControllerDecoyIP, cfg.ControllerDecoyMAC))
	c.UI.Output(fmt.Sprintf("resource node: %v", cfg.IsResource))
	c.UI.Output(fmt.Sprintf("simulator active: %v", cfg.SimulatorActive))

	if !cfg.IsResource {
		return 0
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = 1.0
	}
	acc := accountant.New(accountant.Capacity{
		CPU:  cfg.HostCPU * limit,
		RAM:  cfg.HostRAM * limit,
		Disk: cfg.HostDisk * limit,
	}, cfg.Threshold, !cfg.SimulatorActive)

	cpuFree, ramFree, diskFree := acc.Current()
	c.UI.Output(fmt.Sprintf("free: cpu=%.2f ram=%.2fMB disk=%.2fGB", cpuFree, ramFree, diskFree))
	return 0
}
