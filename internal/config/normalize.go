package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLanguages()
	c.normalizePipeline()
	c.normalizeSpeech()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeLanguages() {
	c.Languages.Source = strings.ToLower(strings.TrimSpace(c.Languages.Source))
	if c.Languages.Source == "" {
		c.Languages.Source = defaultSourceLanguage
	}
	c.Languages.Target = strings.ToLower(strings.TrimSpace(c.Languages.Target))
	if c.Languages.Target == "" {
		c.Languages.Target = defaultTargetLanguage
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxWindowSeconds <= 0 {
		c.Pipeline.MaxWindowSeconds = defaultMaxWindowSeconds
	}
	if c.Pipeline.OverlapSeconds <= 0 {
		c.Pipeline.OverlapSeconds = defaultOverlapSeconds
	}
	if c.Pipeline.WindowConcurrency <= 0 {
		c.Pipeline.WindowConcurrency = defaultWindowConcurrency
	}
	if c.Pipeline.ReviewChunkSize <= 0 {
		c.Pipeline.ReviewChunkSize = defaultReviewChunkSize
	}
	if c.Pipeline.DedupSimilarity <= 0 {
		c.Pipeline.DedupSimilarity = defaultDedupSimilarity
	}
	if c.Pipeline.FlagSimilarity <= 0 {
		c.Pipeline.FlagSimilarity = defaultFlagSimilarity
	}
	if c.Pipeline.DedupStartDeltaSeconds <= 0 {
		c.Pipeline.DedupStartDeltaSeconds = defaultDedupStartDeltaSeconds
	}
}

func (c *Config) normalizeSpeech() {
	c.Speech.BaseURL = strings.TrimSpace(c.Speech.BaseURL)
	c.Speech.Model = strings.TrimSpace(c.Speech.Model)
	c.Speech.APIKey = strings.TrimSpace(c.Speech.APIKey)
	if c.Speech.APIKey == "" {
		if value, ok := os.LookupEnv("LINGEST_SPEECH_API_KEY"); ok {
			c.Speech.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Speech.TimeoutSeconds <= 0 {
		c.Speech.TimeoutSeconds = defaultSpeechTimeoutSeconds
	}
	if c.Speech.RetryMaxAttempts <= 0 {
		c.Speech.RetryMaxAttempts = defaultSpeechRetryAttempts
	}
	if c.Speech.RetryBaseSeconds <= 0 {
		c.Speech.RetryBaseSeconds = defaultSpeechRetryBaseSeconds
	}
	if c.Speech.RetryMaxSeconds <= 0 {
		c.Speech.RetryMaxSeconds = defaultSpeechRetryMaxSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.StuckThresholdMinutes <= 0 {
		c.Workflow.StuckThresholdMinutes = defaultStuckThresholdMinutes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
