package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateGC(); err != nil {
		return err
	}
	if err := c.validateReplay(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.BatchLimit < 1 {
		return errors.New("pipeline.batch_limit must be at least 1")
	}
	return nil
}

func (c *Config) validateGC() error {
	if c.GC.RetentionDays < 1 {
		return errors.New("gc.retention_days must be at least 1")
	}
	if c.GC.BatchLimit < 1 {
		return errors.New("gc.batch_limit must be at least 1")
	}
	return nil
}

func (c *Config) validateReplay() error {
	if c.Replay.SampleSize < 1 {
		return errors.New("replay.sample_size must be at least 1")
	}
	if c.Replay.TargetSuccessRate <= 0 || c.Replay.TargetSuccessRate > 100 {
		return errors.New("replay.target_success_rate must be between 0 and 100")
	}
	return nil
}
