// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package config loads and validates the engine's environment-driven
// configuration. A library must never terminate the process on a bad
// config, so invalid input is reported as an aggregated error (via
// go-multierror) rather than by exiting.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/hashicorp/tegu-engine/internal/cos"
)

// ErrConfig classifies every violation Load reports; unrecoverable at
// startup, so callers treat an errors.Is(err, ErrConfig) match as fatal.
var ErrConfig = errors.New("config error")

// Config holds the engine's environment-driven settings.
type Config struct {
	ServerIP           string
	ServerAPIPort      int
	ControllerDecoyMAC string
	ControllerDecoyIP  string

	MonitorPeriod   time.Duration
	SimulatorActive bool

	IsResource bool
	HostCPU    float64
	HostRAM    float64
	HostDisk   float64
	Limit      float64 // usage-limit fraction of host capacity; Threshold applies to the capped capacity

	ProtoTimeout time.Duration
	ProtoRetries int
	ProtoVerbose bool

	Threshold float64

	CoSList []cos.Class
}

// Default returns the fallback values used when an optional variable
// is absent (MONITOR_PERIOD=1s, PROTO_TIMEOUT=2s, PROTO_RETRIES=3,
// THRESHOLD=0).
func Default() Config {
	return Config{
		MonitorPeriod: time.Second,
		ProtoTimeout:  2 * time.Second,
		ProtoRetries:  3,
		Threshold:     0,
		Limit:         1.0,
	}
}

// EnvLoader loads a Config out of an environment map (os.Environ-shaped)
// so tests can supply a fixed map instead of touching process env.
type EnvLoader struct {
	Env map[string]string
}

func (l *EnvLoader) get(key string) (string, bool) {
	v, ok := l.Env[key]
	return v, ok && v != ""
}

// Load parses the environment into a Config, applying Default() for any
// variable that is absent, and returning a multierror covering every
// required-but-missing or present-but-malformed variable at once.
func (l *EnvLoader) Load() (Config, error) {
	cfg := Default()
	var errs *multierror.Error

	mac, ok := l.get("CONTROLLER_DECOY_MAC")
	if !ok {
		errs = multierror.Append(errs, fmt.Errorf("CONTROLLER_DECOY_MAC parameter missing from received configuration: %w", ErrConfig))
	}
	cfg.ControllerDecoyMAC = mac

	ip, ok := l.get("CONTROLLER_DECOY_IP")
	if !ok {
		errs = multierror.Append(errs, fmt.Errorf("CONTROLLER_DECOY_IP parameter missing from received configuration: %w", ErrConfig))
	}
	cfg.ControllerDecoyIP = ip

	serverIP, ok := l.get("SERVER_IP")
	if !ok {
		errs = multierror.Append(errs, fmt.Errorf("SERVER_IP parameter missing from received configuration: %w", ErrConfig))
	}
	cfg.ServerIP = serverIP

	if portStr, ok := l.get("SERVER_API_PORT"); ok {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("SERVER_API_PORT parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.ServerAPIPort = port
		}
	} else {
		errs = multierror.Append(errs, fmt.Errorf("SERVER_API_PORT parameter missing from received configuration: %w", ErrConfig))
	}

	if v, ok := l.get("MONITOR_PERIOD"); ok {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("MONITOR_PERIOD parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.MonitorPeriod = time.Duration(secs * float64(time.Second))
		}
	}

	if v, ok := l.get("SIMULATOR_ACTIVE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("SIMULATOR_ACTIVE parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.SimulatorActive = b
		}
	}

	if v, ok := l.get("IS_RESOURCE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("IS_RESOURCE parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.IsResource = b
		}
	}

	if cfg.IsResource {
		for _, f := range []struct {
			key string
			dst *float64
		}{
			{"HOST_CPU", &cfg.HostCPU},
			{"HOST_RAM", &cfg.HostRAM},
			{"HOST_DISK", &cfg.HostDisk},
		} {
			if v, ok := l.get(f.key); ok {
				parsed, err := strconv.ParseFloat(v, 64)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("%s parameter invalid: %v: %w", f.key, err, ErrConfig))
				} else {
					*f.dst = parsed
				}
			} else if cfg.SimulatorActive {
				errs = multierror.Append(errs, fmt.Errorf("%s parameter missing from received configuration: %w", f.key, ErrConfig))
			}
		}
	}

	if v, ok := l.get("LIMIT"); ok {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("LIMIT parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.Limit = limit
		}
	}

	if v, ok := l.get("THRESHOLD"); ok {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("THRESHOLD parameter invalid: %v: %w", err, ErrConfig))
		} else if threshold < 0 || threshold > 1 {
			errs = multierror.Append(errs, fmt.Errorf("THRESHOLD parameter %v out of range [0,1]: %w", threshold, ErrConfig))
		} else {
			cfg.Threshold = threshold
		}
	}

	if v, ok := l.get("PROTO_TIMEOUT"); ok {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("PROTO_TIMEOUT parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.ProtoTimeout = time.Duration(secs * float64(time.Second))
		}
	}

	if v, ok := l.get("PROTO_RETRIES"); ok {
		retries, err := strconv.Atoi(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("PROTO_RETRIES parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.ProtoRetries = retries
		}
	}

	if v, ok := l.get("PROTO_VERBOSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("PROTO_VERBOSE parameter invalid: %v: %w", err, ErrConfig))
		} else {
			cfg.ProtoVerbose = b
		}
	}

	return cfg, errs.ErrorOrNil()
}
