package config

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLanguages(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateSpeech(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLanguages() error {
	if _, err := language.Parse(c.Languages.Source); err != nil {
		return fmt.Errorf("languages.source: %q is not a valid language tag: %w", c.Languages.Source, err)
	}
	if _, err := language.Parse(c.Languages.Target); err != nil {
		return fmt.Errorf("languages.target: %q is not a valid language tag: %w", c.Languages.Target, err)
	}
	if c.Languages.Source == c.Languages.Target {
		return errors.New("languages.source and languages.target must differ")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.OverlapSeconds >= c.Pipeline.MaxWindowSeconds {
		return fmt.Errorf("pipeline.overlap_seconds (%d) must be smaller than pipeline.max_window_seconds (%d)",
			c.Pipeline.OverlapSeconds, c.Pipeline.MaxWindowSeconds)
	}
	if c.Pipeline.DedupSimilarity <= 0 || c.Pipeline.DedupSimilarity > 1 {
		return errors.New("pipeline.dedup_similarity must be in (0, 1]")
	}
	if c.Pipeline.FlagSimilarity <= 0 || c.Pipeline.FlagSimilarity > 1 {
		return errors.New("pipeline.flag_similarity must be in (0, 1]")
	}
	if c.Pipeline.FlagSimilarity >= c.Pipeline.DedupSimilarity {
		return fmt.Errorf("pipeline.flag_similarity (%.2f) must be below pipeline.dedup_similarity (%.2f)",
			c.Pipeline.FlagSimilarity, c.Pipeline.DedupSimilarity)
	}
	if c.Pipeline.WindowConcurrency < 1 {
		return errors.New("pipeline.window_concurrency must be at least 1")
	}
	if c.Pipeline.ReviewChunkSize < 1 {
		return errors.New("pipeline.review_chunk_size must be at least 1")
	}
	return nil
}

func (c *Config) validateSpeech() error {
	if c.Speech.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/lingest/config.toml"
		}
		return fmt.Errorf("speech.base_url is required. Edit %s (create with 'lingest config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return fmt.Errorf("workflow.heartbeat_timeout (%d) must exceed workflow.heartbeat_interval (%d)",
			c.Workflow.HeartbeatTimeout, c.Workflow.HeartbeatInterval)
	}
	return nil
}
