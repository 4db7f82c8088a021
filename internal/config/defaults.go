package config

const (
	defaultDataDir             = "~/.local/share/waham"
	defaultLogDir              = "~/.local/share/waham/logs"
	defaultVersionNumber       = "10th"
	defaultVersionName         = "10th Edition"
	defaultSourceName          = "wahapedia"
	defaultSourceBaseURL       = "https://wahapedia.ru/wh40k10ed"
	defaultSourceTimeout       = 30
	defaultConfidenceThreshold = 0.85
	defaultGraceThreshold      = 3
	defaultParallelism         = 4
	defaultSchedule            = "0 4 * * *"
	defaultRedisAddr           = "localhost:6379"
	defaultChannelPrefix       = "wahapedia"
	defaultPublishMaxRetries   = 5
	defaultPublishInitialDelay = 2
	defaultPublishMaxDelay     = 60
	defaultPublishTimeout      = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Game: Game{
			VersionNumber: defaultVersionNumber,
			VersionName:   defaultVersionName,
		},
		Source: Source{
			Name:           defaultSourceName,
			BaseURL:        defaultSourceBaseURL,
			RequestTimeout: defaultSourceTimeout,
		},
		Resolver: Resolver{
			ConfidenceThreshold: defaultConfidenceThreshold,
		},
		Scraper: Scraper{
			GraceThreshold: defaultGraceThreshold,
			Parallelism:    defaultParallelism,
			Schedule:       defaultSchedule,
		},
		Publisher: Publisher{
			RedisAddr:      defaultRedisAddr,
			ChannelPrefix:  defaultChannelPrefix,
			MaxRetries:     defaultPublishMaxRetries,
			InitialBackoff: defaultPublishInitialDelay,
			MaxBackoff:     defaultPublishMaxDelay,
			RequestTimeout: defaultPublishTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
