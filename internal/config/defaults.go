package config

const (
	defaultDataDir            = "~/.local/share/curator/data"
	defaultLogDir             = "~/.local/share/curator/logs"
	defaultBlobDir            = "~/.local/share/curator/blobs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultBatchLimit         = 10
	defaultGCRetentionDays    = 90
	defaultGCBatchLimit       = 100
	defaultReplaySampleSize   = 100
	defaultReplayTargetRate   = 100.0
	defaultLLMBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMTimeoutSeconds  = 60
	defaultLLMReferer         = "https://github.com/curator"
	defaultLLMTitle           = "Curator Enrichment"
	defaultIncludeThumbnail   = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			BlobDir: defaultBlobDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Pipeline: Pipeline{
			BatchLimit:       defaultBatchLimit,
			IncludeThumbnail: defaultIncludeThumbnail,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		GC: GC{
			RetentionDays: defaultGCRetentionDays,
			BatchLimit:    defaultGCBatchLimit,
		},
		Replay: Replay{
			SampleSize:        defaultReplaySampleSize,
			TargetSuccessRate: defaultReplayTargetRate,
		},
	}
}
