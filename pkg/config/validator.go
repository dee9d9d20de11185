package config

import "fmt"

// Validate checks the merged configuration, failing fast with the field
// path of the first offending value.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return NewValidationError("server.port", fmt.Errorf("must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Packs.Dir == "" {
		return NewValidationError("packs.dir", fmt.Errorf("is required"))
	}

	if c.Workers.Lease <= 0 {
		return NewValidationError("workers.lease", fmt.Errorf("must be positive, got %s", c.Workers.Lease))
	}
	if c.Workers.MaxAttempts < 1 {
		return NewValidationError("workers.max_attempts", fmt.Errorf("must be at least 1, got %d", c.Workers.MaxAttempts))
	}
	if c.Workers.ReapInterval <= 0 {
		return NewValidationError("workers.reap_interval", fmt.Errorf("must be positive, got %s", c.Workers.ReapInterval))
	}

	if c.Alerts.VolumeThreshold < 1 {
		return NewValidationError("alerts.volume_threshold", fmt.Errorf("must be at least 1, got %d", c.Alerts.VolumeThreshold))
	}
	if c.Alerts.VolumeWindow <= 0 {
		return NewValidationError("alerts.volume_window", fmt.Errorf("must be positive, got %s", c.Alerts.VolumeWindow))
	}
	if c.Alerts.RecurrenceThreshold < 1 {
		return NewValidationError("alerts.recurrence_threshold", fmt.Errorf("must be at least 1, got %d", c.Alerts.RecurrenceThreshold))
	}
	if c.Alerts.RecurrenceWindow <= 0 {
		return NewValidationError("alerts.recurrence_window", fmt.Errorf("must be positive, got %s", c.Alerts.RecurrenceWindow))
	}
	if c.Alerts.ApprovalMaxAge <= 0 {
		return NewValidationError("alerts.approval_max_age", fmt.Errorf("must be positive, got %s", c.Alerts.ApprovalMaxAge))
	}
	if c.Alerts.EvalInterval <= 0 {
		return NewValidationError("alerts.eval_interval", fmt.Errorf("must be positive, got %s", c.Alerts.EvalInterval))
	}

	if c.Safety.ViolationsDir == "" {
		return NewValidationError("safety.violations_dir", fmt.Errorf("is required"))
	}
	if c.Safety.IncidentThreshold < 1 {
		return NewValidationError("safety.incident_threshold", fmt.Errorf("must be at least 1, got %d", c.Safety.IncidentThreshold))
	}
	if c.Safety.IncidentWindow <= 0 {
		return NewValidationError("safety.incident_window", fmt.Errorf("must be positive, got %s", c.Safety.IncidentWindow))
	}

	switch c.Embedding.Provider {
	case "hash":
	case "openai":
		if c.Embedding.Endpoint == "" {
			return NewValidationError("embedding.endpoint", fmt.Errorf("is required for the openai provider"))
		}
		if c.Embedding.Model == "" {
			return NewValidationError("embedding.model", fmt.Errorf("is required for the openai provider"))
		}
	default:
		return NewValidationError("embedding.provider", fmt.Errorf("must be openai or hash, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions < 1 {
		return NewValidationError("embedding.dimensions", fmt.Errorf("must be at least 1, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.CacheSize < 1 {
		return NewValidationError("embedding.cache_size", fmt.Errorf("must be at least 1, got %d", c.Embedding.CacheSize))
	}
	if c.Embedding.SimilarityThreshold <= 0 || c.Embedding.SimilarityThreshold > 1 {
		return NewValidationError("embedding.similarity_threshold", fmt.Errorf("must be in (0, 1], got %g", c.Embedding.SimilarityThreshold))
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i, tenant := range c.Tenants {
		if tenant == "" {
			return NewValidationError(fmt.Sprintf("tenants[%d]", i), fmt.Errorf("must not be empty"))
		}
		if seen[tenant] {
			return NewValidationError(fmt.Sprintf("tenants[%d]", i), fmt.Errorf("tenant %q is listed twice", tenant))
		}
		seen[tenant] = true
	}
	return nil
}
