package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeScheduler runs the scheduler tick loop (promote + reclaim).
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeWorker runs the worker pool that claims and executes jobs.
	ServiceModeWorker ServiceMode = "worker"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeWorker,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return nil, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeScheduler, ServiceModeWorker:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: scheduler, worker)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// TickInterval is the sleep between scheduler ticks.
	TickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"200ms"`

	// PromoteBatchSize bounds how many due-scheduled jobs are promoted per tick.
	PromoteBatchSize int `env:"SCHEDULER_PROMOTE_BATCH_SIZE" envDefault:"100"`

	// ReclaimBatchSize bounds how many expired leases are reclaimed per tick.
	ReclaimBatchSize int `env:"SCHEDULER_RECLAIM_BATCH_SIZE" envDefault:"100"`

	// MaxBackoffMs caps the exponential backoff applied to reclaimed jobs.
	MaxBackoffMs int64 `env:"SCHEDULER_MAX_BACKOFF_MS" envDefault:"60000"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.TickInterval < 10*time.Millisecond {
		s.TickInterval = 200 * time.Millisecond
	}
	if s.PromoteBatchSize < 1 {
		s.PromoteBatchSize = 100
	}
	if s.ReclaimBatchSize < 1 {
		s.ReclaimBatchSize = 100
	}
	if s.MaxBackoffMs < 1 {
		s.MaxBackoffMs = 60000
	}
}

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines in the pool.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// PollInterval is how long a worker sleeps when jobs:ready is empty.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"200ms"`

	// LeaseDuration is how long a lease is held before it is considered expired.
	LeaseDuration time.Duration `env:"WORKER_LEASE_DURATION" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PollInterval < 10*time.Millisecond {
		w.PollInterval = 200 * time.Millisecond
	}
	if w.LeaseDuration < time.Second {
		w.LeaseDuration = 30 * time.Second
	}
}
