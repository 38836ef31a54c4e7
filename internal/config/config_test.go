// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"CONTROLLER_DECOY_MAC": "aa:bb:cc:dd:ee:ff",
		"CONTROLLER_DECOY_IP":  "10.0.0.1",
		"SERVER_IP":            "10.0.0.2",
		"SERVER_API_PORT":      "8080",
	}
}

func TestLoad_Minimal(t *testing.T) {
	l := &EnvLoader{Env: baseEnv()}
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.ControllerDecoyMAC)
	require.Equal(t, 8080, cfg.ServerAPIPort)
	require.Equal(t, 3, cfg.ProtoRetries)
}

func TestLoad_MissingRequiredAggregatesErrors(t *testing.T) {
	l := &EnvLoader{Env: map[string]string{}}
	_, err := l.Load()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConfig)
	require.Contains(t, err.Error(), "CONTROLLER_DECOY_MAC")
	require.Contains(t, err.Error(), "CONTROLLER_DECOY_IP")
	require.Contains(t, err.Error(), "SERVER_IP")
}

func TestLoad_ResourceModeRequiresCapacitiesWhenSimulated(t *testing.T) {
	env := baseEnv()
	env["IS_RESOURCE"] = "true"
	env["SIMULATOR_ACTIVE"] = "true"
	l := &EnvLoader{Env: env}
	_, err := l.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "HOST_CPU")
}

func TestLoad_ThresholdOutOfRange(t *testing.T) {
	env := baseEnv()
	env["THRESHOLD"] = "1.5"
	l := &EnvLoader{Env: env}
	_, err := l.Load()
	require.Error(t, err)
}

func TestLoad_FullResourceConfig(t *testing.T) {
	env := baseEnv()
	env["IS_RESOURCE"] = "true"
	env["SIMULATOR_ACTIVE"] = "true"
	env["HOST_CPU"] = "4"
	env["HOST_RAM"] = "8192"
	env["HOST_DISK"] = "100"
	env["THRESHOLD"] = "0.1"
	env["PROTO_TIMEOUT"] = "2"
	env["PROTO_RETRIES"] = "3"

	l := &EnvLoader{Env: env}
	cfg, err := l.Load()
	require.NoError(t, err)
	require.True(t, cfg.IsResource)
	require.True(t, cfg.SimulatorActive)
	require.Equal(t, 4.0, cfg.HostCPU)
	require.Equal(t, 0.1, cfg.Threshold)
}
