package config

const (
	defaultDataDir                = "~/.local/share/lingest/data"
	defaultLogDir                 = "~/.local/share/lingest/logs"
	defaultAPIBind                = "127.0.0.1:7519"
	defaultSourceLanguage         = "en"
	defaultTargetLanguage         = "es"
	defaultMaxWindowSeconds       = 600
	defaultOverlapSeconds         = 20
	defaultWindowConcurrency      = 2
	defaultReviewChunkSize        = 15
	defaultDedupSimilarity        = 0.80
	defaultFlagSimilarity         = 0.60
	defaultDedupStartDeltaSeconds = 2.0
	defaultSpeechTimeoutSeconds   = 120
	defaultSpeechRetryAttempts    = 5
	defaultSpeechRetryBaseSeconds = 1
	defaultSpeechRetryMaxSeconds  = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultQueuePollInterval      = 5
	defaultErrorRetryInterval     = 10
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultStuckThresholdMinutes  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Languages: Languages{
			Source: defaultSourceLanguage,
			Target: defaultTargetLanguage,
		},
		Pipeline: Pipeline{
			MaxWindowSeconds:       defaultMaxWindowSeconds,
			OverlapSeconds:         defaultOverlapSeconds,
			WindowConcurrency:      defaultWindowConcurrency,
			ReviewChunkSize:        defaultReviewChunkSize,
			DedupSimilarity:        defaultDedupSimilarity,
			FlagSimilarity:         defaultFlagSimilarity,
			DedupStartDeltaSeconds: defaultDedupStartDeltaSeconds,
		},
		Speech: Speech{
			TimeoutSeconds:   defaultSpeechTimeoutSeconds,
			RetryMaxAttempts: defaultSpeechRetryAttempts,
			RetryBaseSeconds: defaultSpeechRetryBaseSeconds,
			RetryMaxSeconds:  defaultSpeechRetryMaxSeconds,
		},
		Workflow: Workflow{
			QueuePollInterval:     defaultQueuePollInterval,
			ErrorRetryInterval:    defaultErrorRetryInterval,
			HeartbeatInterval:     defaultHeartbeatInterval,
			HeartbeatTimeout:      defaultHeartbeatTimeout,
			StuckThresholdMinutes: defaultStuckThresholdMinutes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
