package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone    = "UTC"
	defaultRunLabel    = "local"
	configPathEnv      = "IMPACT_SCANNER_CONFIG"
	databasePathEnv    = "DATABASE_PATH"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	runLabelEnv        = "GITHUB_RUN_NUMBER"
	thresholdEnv       = "IMPACT_THRESHOLD"
	maxItemsEnv        = "IMPACT_MAX_ITEMS"
	logLevelEnv        = "LOG_LEVEL"
	serverAPIKeyEnv    = "SERVER_API_KEY"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	geminiAPIKeyEnv    = "GEMINI_API_KEY"
	googleAPIKeyEnv    = "GOOGLE_API_KEY"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
)

var (
	// ErrNoEngines is returned when the fallback chain would be empty.
	ErrNoEngines = errors.New("no engines configured")
	// ErrUnknownEngine is returned when the chain names an undefined engine.
	ErrUnknownEngine = errors.New("chain references unknown engine")
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging" toml:"logging"`
	Database      DatabaseConfig     `yaml:"database" toml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler" toml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications" toml:"notifications"`
	Server        ServerConfig       `yaml:"server" toml:"server"`
	Analysis      AnalysisConfig     `yaml:"analysis" toml:"analysis"`
	Fallback      FallbackConfig     `yaml:"fallback" toml:"fallback"`
	Engines       []EngineConfig     `yaml:"engines" toml:"engines" validate:"dive"`
	Chain         []string           `yaml:"chain" toml:"chain"`
	Feeds         []FeedConfig       `yaml:"feeds" toml:"feeds" validate:"dive"`
	Filters       FilterConfig       `yaml:"filters" toml:"filters"`
	Snapshot      SnapshotConfig     `yaml:"snapshot" toml:"snapshot"`
	UserAgent     string             `yaml:"userAgent" toml:"userAgent"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
}

// DatabaseConfig points at the SQLite file used for result history.
// An empty path disables persistence.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SchedulerConfig defines when the pipeline should run in serve mode.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression" toml:"cronExpression"`
	Timezone       string         `yaml:"timezone" toml:"timezone"`
	location       *time.Location `yaml:"-" toml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken" toml:"botToken"`
	ChatID   string `yaml:"chatId" toml:"chatId"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// Enabled reports whether both bot token and chat are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// ServerConfig controls the report HTTP server used in serve mode.
type ServerConfig struct {
	Addr   string `yaml:"addr" toml:"addr"`
	APIKey string `yaml:"apiKey" toml:"apiKey"`
}

// AnalysisConfig holds the per-run analysis knobs.
type AnalysisConfig struct {
	Threshold    float64 `yaml:"threshold" toml:"threshold" validate:"gte=0,lte=10"`
	MaxItems     int     `yaml:"maxItems" toml:"maxItems" validate:"gte=0"`
	SummaryLimit int     `yaml:"summaryLimit" toml:"summaryLimit" validate:"gte=0"`
	RunLabel     string  `yaml:"runLabel" toml:"runLabel"`
}

// FallbackConfig parameterizes the fallback chain and the backoff controller.
type FallbackConfig struct {
	MaxDepth         int      `yaml:"maxDepth" toml:"maxDepth" validate:"gte=0"`
	RateLimitRetries int      `yaml:"rateLimitRetries" toml:"rateLimitRetries" validate:"gte=0"`
	BaseDelay        Duration `yaml:"baseDelay" toml:"baseDelay"`
	MaxDelay         Duration `yaml:"maxDelay" toml:"maxDelay" validate:"gt=0"`
	MaxExponent      int      `yaml:"maxExponent" toml:"maxExponent" validate:"gte=0,lte=16"`
	MaxWait          Duration `yaml:"maxWait" toml:"maxWait"`
	AttemptTimeout   Duration `yaml:"attemptTimeout" toml:"attemptTimeout"`
	Workers          int      `yaml:"workers" toml:"workers" validate:"gte=1"`
}

// EngineConfig describes one inference endpoint of the fallback chain.
type EngineConfig struct {
	ID                string   `yaml:"id" toml:"id" validate:"required"`
	Kind              string   `yaml:"kind" toml:"kind" validate:"required"`
	Model             string   `yaml:"model" toml:"model"`
	Endpoint          string   `yaml:"endpoint" toml:"endpoint" validate:"omitempty,url"`
	APIKey            string   `yaml:"apiKey" toml:"apiKey"`
	APIKeyEnv         string   `yaml:"apiKeyEnv" toml:"apiKeyEnv"`
	RequestsPerMinute float64  `yaml:"requestsPerMinute" toml:"requestsPerMinute" validate:"gte=0"`
	Timeout           Duration `yaml:"timeout" toml:"timeout"`
	MaxTokens         int      `yaml:"maxTokens" toml:"maxTokens" validate:"gte=0"`
	Temperature       float64  `yaml:"temperature" toml:"temperature" validate:"gte=0,lte=2"`
	SystemPrompt      string   `yaml:"systemPrompt" toml:"systemPrompt"`
	PromptTemplate    string   `yaml:"promptTemplate" toml:"promptTemplate"`
}

// Interval converts the published quota into the minimum request spacing.
func (e EngineConfig) Interval() time.Duration {
	if e.RequestsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / e.RequestsPerMinute)
}

// FeedConfig describes a single news feed with its scanner strategy.
type FeedConfig struct {
	Name    string            `yaml:"name" toml:"name" validate:"required"`
	Kind    string            `yaml:"kind" toml:"kind" validate:"required"`
	URL     string            `yaml:"url" toml:"url" validate:"required,url"`
	Limit   int               `yaml:"limit" toml:"limit" validate:"gte=0"`
	Options map[string]string `yaml:"options" toml:"options"`
}

// FilterConfig drops items before they reach the analysis stage.
type FilterConfig struct {
	ExcludeDomains []string `yaml:"excludeDomains" toml:"excludeDomains"`
	MaxAge         Duration `yaml:"maxAge" toml:"maxAge"`
}

// SnapshotConfig points at the collected-news file shared by collect and run.
type SnapshotConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Load reads the configuration file (if any) over the defaults, applies
// environment overrides and validates the result. path takes precedence over
// the IMPACT_SCANNER_CONFIG variable.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		unmarshal = toml.Unmarshal
	}

	// Scalars and nested sections decode over the defaults; lists present in
	// the file replace the default lists wholesale.
	var fileCfg Config
	if err := unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeLists(cfg, fileCfg)
	return nil
}

func mergeLists(base *Config, override Config) {
	if override.Engines != nil {
		base.Engines = override.Engines
	}
	if override.Chain != nil {
		base.Chain = override.Chain
	}
	if override.Feeds != nil {
		base.Feeds = override.Feeds
	}
	if override.Filters.ExcludeDomains != nil {
		base.Filters.ExcludeDomains = override.Filters.ExcludeDomains
	}
}

// Validate checks struct constraints and chain consistency.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if len(c.Engines) == 0 {
		return ErrNoEngines
	}

	known := make(map[string]struct{}, len(c.Engines))
	for _, eng := range c.Engines {
		if _, dup := known[eng.ID]; dup {
			return fmt.Errorf("config: duplicate engine id %q", eng.ID)
		}
		known[eng.ID] = struct{}{}
	}
	for _, id := range c.Chain {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEngine, id)
		}
	}

	if c.Fallback.MaxDelay.D() < c.Fallback.BaseDelay.D() {
		return fmt.Errorf("config: fallback.maxDelay %s is below baseDelay %s", c.Fallback.MaxDelay, c.Fallback.BaseDelay)
	}
	return nil
}

// ChainEngines returns the engine configs in fallback order. An empty chain
// means every engine in declaration order. MaxDepth is applied by the
// orchestrator to the engines that were actually built.
func (c Config) ChainEngines() []EngineConfig {
	byID := make(map[string]EngineConfig, len(c.Engines))
	for _, eng := range c.Engines {
		byID[eng.ID] = eng
	}

	var ordered []EngineConfig
	if len(c.Chain) == 0 {
		ordered = append(ordered, c.Engines...)
	} else {
		for _, id := range c.Chain {
			ordered = append(ordered, byID[id])
		}
	}
	return ordered
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(runLabelEnv); v != "" {
		c.Analysis.RunLabel = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(serverAPIKeyEnv); v != "" {
		c.Server.APIKey = v
	}

	if v := os.Getenv(thresholdEnv); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", thresholdEnv, v, err)
		}
		c.Analysis.Threshold = threshold
	}

	if v := os.Getenv(maxItemsEnv); v != "" {
		maxItems, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", maxItemsEnv, v, err)
		}
		c.Analysis.MaxItems = maxItems
	}

	for i := range c.Engines {
		eng := &c.Engines[i]
		if eng.APIKeyEnv != "" {
			if v := os.Getenv(eng.APIKeyEnv); v != "" {
				eng.APIKey = v
			}
			continue
		}
		if eng.APIKey != "" {
			continue
		}
		eng.APIKey = kindAPIKey(eng.Kind)
	}

	return nil
}

func kindAPIKey(kind string) string {
	switch kind {
	case "openai":
		return os.Getenv(openAIAPIKeyEnv)
	case "gemini":
		if v := os.Getenv(geminiAPIKeyEnv); v != "" {
			return v
		}
		return os.Getenv(googleAPIKeyEnv)
	case "claude":
		return os.Getenv(anthropicAPIKeyEnv)
	default:
		return ""
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Path: ""},
		Scheduler: SchedulerConfig{CronExpression: "0 */2 * * *", Timezone: defaultTimezone, location: tz},
		Server:    ServerConfig{Addr: ":8080"},
		Analysis: AnalysisConfig{
			Threshold:    0,
			MaxItems:     15,
			SummaryLimit: 500,
			RunLabel:     defaultRunLabel,
		},
		Fallback: FallbackConfig{
			MaxDepth:         0,
			RateLimitRetries: 2,
			BaseDelay:        Duration(5 * time.Second),
			MaxDelay:         Duration(time.Minute),
			MaxExponent:      4,
			MaxWait:          Duration(2 * time.Minute),
			AttemptTimeout:   Duration(time.Minute),
			Workers:          1,
		},
		Engines: []EngineConfig{
			{
				ID:                "gemini",
				Kind:              "gemini",
				Model:             "gemini-2.5-flash",
				RequestsPerMinute: 2,
				Timeout:           Duration(30 * time.Second),
				Temperature:       0.2,
			},
			{
				ID:                "openai",
				Kind:              "openai",
				Model:             "gpt-4o-mini",
				Endpoint:          "https://api.openai.com/v1/chat/completions",
				RequestsPerMinute: 20,
				Timeout:           Duration(30 * time.Second),
				Temperature:       0.2,
			},
			{
				ID:       "local",
				Kind:     "local",
				Model:    "qwen2.5:0.5b-instruct",
				Endpoint: "http://localhost:11434/api/generate",
				Timeout:  Duration(2 * time.Minute),
			},
		},
		Chain: []string{"gemini", "openai", "local"},
		Feeds: []FeedConfig{
			{Name: "NYTimes_Biz", Kind: "rss", URL: "https://rss.nytimes.com/services/xml/rss/nt/Business.xml", Limit: 10},
			{Name: "Bloomberg_Markets", Kind: "rss", URL: "https://www.bloomberg.com/feeds/bview/main.rss", Limit: 10},
			{Name: "Nikkei_Asia", Kind: "rss", URL: "https://asia.nikkei.com/rss/feed/nar", Limit: 10},
		},
		Filters: FilterConfig{
			ExcludeDomains: []string{},
			MaxAge:         Duration(7 * 24 * time.Hour),
		},
		Snapshot:  SnapshotConfig{Path: "breaking_news.json"},
		UserAgent: "ImpactScanner/1.0",
	}
}
