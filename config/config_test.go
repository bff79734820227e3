package config

import "testing"

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - scheduler",
			input:    "scheduler",
			expected: map[ServiceMode]bool{ServiceModeScheduler: true},
		},
		{
			name:     "single service - worker",
			input:    "worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:  "both services",
			input: "scheduler,worker",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
				ServiceModeWorker:    true,
			},
		},
		{
			name:  "services with spaces",
			input: " scheduler , worker ",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
				ServiceModeWorker:    true,
			},
		},
		{
			name:     "duplicate services",
			input:    "worker,worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "scheduler,invalid-service",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedScheduler bool
		expectedWorker    bool
	}{
		{
			name:              "scheduler only",
			services:          "scheduler",
			expectedScheduler: true,
			expectedWorker:    false,
		},
		{
			name:              "worker only",
			services:          "worker",
			expectedScheduler: false,
			expectedWorker:    true,
		},
		{
			name:              "both",
			services:          "scheduler,worker",
			expectedScheduler: true,
			expectedWorker:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsSchedulerEnabled() != tt.expectedScheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v, got %v", tt.expectedScheduler, cfg.IsSchedulerEnabled())
			}
			if cfg.IsWorkerEnabled() != tt.expectedWorker {
				t.Errorf("IsWorkerEnabled(): expected %v, got %v", tt.expectedWorker, cfg.IsWorkerEnabled())
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	if cfg.IsSchedulerEnabled() {
		t.Errorf("IsSchedulerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsWorkerEnabled() {
		t.Errorf("IsWorkerEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{ServiceModeScheduler, ServiceModeWorker}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestSchedulerConfig_Sanitize(t *testing.T) {
	cfg := SchedulerConfig{PromoteBatchSize: -1, ReclaimBatchSize: 0, MaxBackoffMs: -5}
	cfg.Sanitize()

	if cfg.PromoteBatchSize != 100 {
		t.Errorf("expected PromoteBatchSize fallback of 100, got %d", cfg.PromoteBatchSize)
	}
	if cfg.ReclaimBatchSize != 100 {
		t.Errorf("expected ReclaimBatchSize fallback of 100, got %d", cfg.ReclaimBatchSize)
	}
	if cfg.MaxBackoffMs != 60000 {
		t.Errorf("expected MaxBackoffMs fallback of 60000, got %d", cfg.MaxBackoffMs)
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{Concurrency: 0}
	cfg.Sanitize()

	if cfg.Concurrency != 1 {
		t.Errorf("expected Concurrency fallback of 1, got %d", cfg.Concurrency)
	}
	if cfg.LeaseDuration != 30_000_000_000 {
		t.Errorf("expected LeaseDuration fallback of 30s, got %v", cfg.LeaseDuration)
	}
}
