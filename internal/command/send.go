// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/tegu-engine/internal/config"
	"github.com/hashicorp/tegu-engine/internal/cos"
	"github.com/hashicorp/tegu-engine/internal/engine"
	"github.com/hashicorp/tegu-engine/internal/transport"
)

// SendCommand stands up a throwaway Engine bound to a local UDP socket
// and drives a single Initiator.SendRequest call through it, the way an
// embedding application would. The orchestrator address and CoS catalog
// are supplied on the command line rather than discovered.
type SendCommand struct {
	Meta
}

func (c *SendCommand) Help() string {
	return `Usage: tegu-enginectl send [options]

  Issue a single request against a running orchestrator/provider pair
  and print the response payload.

Options:

  -self-mac=MAC            this node's MAC address (required)
  -self-ip=IP              this node's IP address (required)
  -port=PORT               local UDP port to bind (default 9700)
  -orch-mac=MAC            orchestrator MAC address (required)
  -orch-ip=IP              orchestrator IP address (required)
  -cos-id=N                class of service id to request (default 1)
  -payload=TEXT            payload bytes to send (default "ping")
  -timeout=DURATION        per-attempt protocol timeout (default 2s)
  -retries=N               per-attempt retry budget (default 3)
`
}

func (c *SendCommand) Synopsis() string {
	return "Send a single request through a throwaway engine"
}

func (c *SendCommand) Run(args []string) int {
	fs := c.FlagSet("send")
	var (
		selfMAC = fs.String("self-mac", "", "this node's MAC address")
		selfIP  = fs.String("self-ip", "", "this node's IP address")
		port    = fs.Int("port", 9700, "local UDP port to bind")
		orchMAC = fs.String("orch-mac", "", "orchestrator MAC address")
		orchIP  = fs.String("orch-ip", "", "orchestrator IP address")
		cosID   = fs.Uint("cos-id", 1, "class of service id to request")
		payload = fs.String("payload", "ping", "payload to send")
		timeout = fs.Duration("timeout", 2*time.Second, "per-attempt protocol timeout")
		retries = fs.Int("retries", 3, "per-attempt retry budget")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *selfMAC == "" || *selfIP == "" || *orchMAC == "" || *orchIP == "" {
		c.UI.Error("self-mac, self-ip, orch-mac and orch-ip are all required")
		return 1
	}

	listener, err := transport.ListenUDP(*port)
	if err != nil {
		c.UI.Error(fmt.Sprintf("binding local socket: %v", err))
		return 1
	}
	defer listener.Close()

	log := hclog.New(&hclog.LoggerOptions{Name: "tegu-enginectl", Level: hclog.Warn})

	e, err := engine.New(engine.Config{
		Core: config.Config{
			ControllerDecoyMAC: *orchMAC,
			ControllerDecoyIP:  *orchIP,
			ProtoTimeout:       *timeout,
			ProtoRetries:       *retries,
			CoSList:            []cos.Class{{ID: uint32(*cosID), Name: "cli"}},
		},
		SelfMAC: *selfMAC,
		SelfIP:  *selfIP,
	}, listener, nil, nil, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("constructing engine: %v", err))
		return 1
	}

	overall := *timeout * time.Duration(*retries+1) * 4
	ctx, cancel := context.WithTimeout(context.Background(), overall)
	defer cancel()

	e.Start(ctx)
	defer e.Shutdown(context.Background())

	result, err := e.SendRequest(ctx, uint32(*cosID), []byte(*payload))
	if err != nil {
		c.UI.Error(fmt.Sprintf("request failed: %v", err))
		return 1
	}

	c.UI.Output(string(result))
	return 0
}
