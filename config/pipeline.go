package config

import (
	"fmt"
	"time"
)

// PipelineConfig tunes the live transcription and insight pipeline.
type PipelineConfig struct {
	InsightBatchSize  int           `mapstructure:"insight_batch_size"`
	SummaryCharBudget int           `mapstructure:"summary_char_budget"`
	InsightTimeout    time.Duration `mapstructure:"insight_timeout"`
	SummaryTimeout    time.Duration `mapstructure:"summary_timeout"`
	FinalizeGrace     time.Duration `mapstructure:"finalize_grace"`
	DisconnectGrace   time.Duration `mapstructure:"disconnect_grace"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	EventBuffer       int           `mapstructure:"event_buffer"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
}

// Normalize applies defaults for unset values.
func (c PipelineConfig) Normalize() PipelineConfig {
	if c.InsightBatchSize <= 0 {
		c.InsightBatchSize = 5
	}
	if c.SummaryCharBudget <= 0 {
		c.SummaryCharBudget = 15000
	}
	if c.InsightTimeout <= 0 {
		c.InsightTimeout = 30 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 90 * time.Second
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = 10 * time.Second
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	return c
}

// Validate rejects settings the pipeline cannot run with.
func (c PipelineConfig) Validate() error {
	if c.InsightBatchSize < 1 {
		return fmt.Errorf("pipeline.insight_batch_size must be >= 1")
	}
	if c.SummaryCharBudget < 1000 {
		return fmt.Errorf("pipeline.summary_char_budget must be >= 1000")
	}
	if c.DisconnectGrace < c.FinalizeGrace/10 {
		return fmt.Errorf("pipeline.disconnect_grace too short for finalize_grace %s", c.FinalizeGrace)
	}
	return nil
}
