package mediadb

import (
	"log/slog"
	"runtime"
	"time"
)

// Profile selects a batch-commit tuning preset. See PerformanceProfile.
type Profile int

const (
	// ProfileAuto picks a profile from available memory at construction.
	ProfileAuto Profile = iota
	ProfileLowLatency
	ProfileBalanced
	ProfileHighThroughput
)

// PerformanceProfile is a resolved (records, bytes, delay) commit-trigger
// tuple. Auto-detection (see resolveProfile) never produces ProfileAuto
// itself — it always resolves to one of the other three.
type PerformanceProfile struct {
	MaxBatchRecords int
	MaxBatchBytes   int64
	MaxBatchDelay   time.Duration
}

// Named presets from spec §4.E.
var (
	lowLatencyProfile = PerformanceProfile{
		MaxBatchRecords: 256,
		MaxBatchBytes:   4 * 1024 * 1024,
		MaxBatchDelay:   25 * time.Millisecond,
	}
	balancedProfile = PerformanceProfile{
		MaxBatchRecords: 1024,
		MaxBatchBytes:   4 * 1024 * 1024,
		MaxBatchDelay:   100 * time.Millisecond,
	}
	highThroughputProfile = PerformanceProfile{
		MaxBatchRecords: 8192,
		MaxBatchBytes:   4 * 1024 * 1024,
		MaxBatchDelay:   500 * time.Millisecond,
	}
)

// Config configures a Manager at construction time. Zero values take the
// documented defaults: WALCheckpointBytes 64MiB, WALCheckpointBatches 1000;
// zero MaxBatchRecords, MaxBatchBytes and MaxBatchDelay take the values of
// the resolved Profile (see resolveProfile).
type Config struct {
	// Path is the database directory. It is created if absent.
	Path string

	// Profile picks a batch-commit tuning preset. Defaults to ProfileAuto.
	Profile Profile

	// WALCheckpointBytes triggers a checkpoint once the active WAL segment
	// exceeds this size. Default 64 MiB.
	WALCheckpointBytes int64

	// WALCheckpointBatches triggers a checkpoint after this many committed
	// batches. Default 1000.
	WALCheckpointBatches int

	// MaxBatchRecords, MaxBatchBytes, MaxBatchDelay override the resolved
	// Profile's trigger thresholds when non-zero.
	MaxBatchRecords int
	MaxBatchBytes   int64
	MaxBatchDelay   time.Duration

	// Logger receives structured diagnostics (initialize, replay,
	// checkpoint, invariant violations). Defaults to slog.Default().
	Logger *slog.Logger
}

// resolveProfile returns the effective batch-commit tuning for cfg,
// applying any explicit per-field overrides on top of the selected
// preset. ProfileAuto is resolved by autoDetectProfile from the memory
// the Go runtime has obtained from the OS: up to 2 GiB gets LowLatency,
// up to 8 GiB gets Balanced, and more gets HighThroughput.
func resolveProfile(cfg Config) PerformanceProfile {
	var p PerformanceProfile
	switch cfg.Profile {
	case ProfileLowLatency:
		p = lowLatencyProfile
	case ProfileHighThroughput:
		p = highThroughputProfile
	case ProfileBalanced:
		p = balancedProfile
	default:
		p = autoDetectProfile()
	}

	if cfg.MaxBatchRecords > 0 {
		p.MaxBatchRecords = cfg.MaxBatchRecords
	}
	if cfg.MaxBatchBytes > 0 {
		p.MaxBatchBytes = cfg.MaxBatchBytes
	}
	if cfg.MaxBatchDelay > 0 {
		p.MaxBatchDelay = cfg.MaxBatchDelay
	}
	return p
}

// autoDetectProfile picks a preset from runtime.MemStats.Sys, the bytes
// of memory the Go runtime has obtained from the OS, without shelling
// out — see spec §9 Open Question 3, which explicitly disclaims ad hoc
// memory tracking.
func autoDetectProfile() PerformanceProfile {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	const gib = 1 << 30
	switch {
	case stats.Sys > 8*gib:
		return highThroughputProfile
	case stats.Sys > 2*gib:
		return balancedProfile
	default:
		return lowLatencyProfile
	}
}

func defaultConfig(cfg Config) Config {
	if cfg.WALCheckpointBytes <= 0 {
		cfg.WALCheckpointBytes = 64 * 1024 * 1024
	}
	if cfg.WALCheckpointBatches <= 0 {
		cfg.WALCheckpointBatches = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
