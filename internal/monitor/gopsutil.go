// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package monitor

import (
	"context"
	"fmt"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// GopsutilSampler is the default live-mode Sampler, reading cpu,
// memory, and disk availability through gopsutil.
type GopsutilSampler struct {
	// DiskPath is the mount point to sample for free/total disk space.
	DiskPath string
}

func NewGopsutilSampler(diskPath string) *GopsutilSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &GopsutilSampler{DiskPath: diskPath}
}

func (g *GopsutilSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("monitor: cpu sample: %w", err)
	}
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Sample{}, fmt.Errorf("monitor: cpu count: %w", err)
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("monitor: memory sample: %w", err)
	}

	usage, err := disk.UsageWithContext(ctx, g.DiskPath)
	if err != nil {
		return Sample{}, fmt.Errorf("monitor: disk sample: %w", err)
	}

	busyFrac := 0.0
	if len(percents) > 0 {
		busyFrac = percents[0] / 100.0
	}
	cpuCount := float64(counts)

	return Sample{
		CPUCount:  cpuCount,
		CPUFree:   cpuCount * (1 - busyFrac),
		MemTotal:  float64(vmem.Total) / (1024 * 1024),
		MemFree:   float64(vmem.Available) / (1024 * 1024),
		DiskTotal: float64(usage.Total) / (1024 * 1024 * 1024),
		DiskFree:  float64(usage.Free) / (1024 * 1024 * 1024),
		Model:     cpuid.CPU.BrandName,
	}, nil
}
