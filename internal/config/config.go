package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// MaxParallelChains caps how many per-event extraction chains run at
	// once. Chains beyond the cap queue until a slot frees up.
	MaxParallelChains int `json:"max_parallel_chains,omitempty"`

	// PipelineTimeoutSeconds bounds one session's total processing time.
	// When exceeded the producer emits a timeout notification and the
	// session ends in error.
	PipelineTimeoutSeconds int `json:"pipeline_timeout_seconds,omitempty"`

	// MinEventConfidence discards formatted drafts whose reported
	// confidence falls below this value; that chain fails while its
	// siblings proceed. Zero keeps every draft. The threshold is a
	// deployment decision, not a built-in policy.
	MinEventConfidence float64 `json:"min_event_confidence,omitempty"`

	// PollIntervalSeconds is the fixed re-fetch interval for poll-based
	// progress observation.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`

	// PollMaxWaitSeconds bounds total poll wait before an explicit timeout.
	PollMaxWaitSeconds int `json:"poll_max_wait_seconds,omitempty"`

	// StreamBuffer is the per-subscriber notification buffer. Subscribers
	// that fall this far behind are dropped rather than block the pipeline.
	StreamBuffer int `json:"stream_buffer,omitempty"`

	// DefaultOwner is the owner recorded for sessions created without an
	// account context, e.g. from the local CLI or MCP client.
	DefaultOwner string `json:"default_owner,omitempty"`

	// GuestSessionLimit caps total guest session creations. Checked before
	// any session or pipeline work is allocated.
	GuestSessionLimit int `json:"guest_session_limit,omitempty"`

	// MinAudioBytes rejects audio recordings below this size before a
	// session exists.
	MinAudioBytes int64 `json:"min_audio_bytes,omitempty"`

	// MaxInputBytes caps any single input payload.
	MaxInputBytes int64 `json:"max_input_bytes,omitempty"`

	// GatewayBaseURL is the OpenAI-compatible endpoint serving the
	// extraction stages. Empty selects the public OpenAI endpoint.
	GatewayBaseURL string `json:"gateway_base_url,omitempty"`

	// GatewayAPIKey authenticates against the gateway. Falls back to
	// PENCILED_GATEWAY_KEY.
	GatewayAPIKey string `json:"gateway_api_key,omitempty"`

	// GatewayModel selects the model used for all stages.
	GatewayModel string `json:"gateway_model,omitempty"`

	// GatewayTimeoutSeconds bounds a single stage call.
	GatewayTimeoutSeconds int `json:"gateway_timeout_seconds,omitempty"`

	// DeepgramAPIKey enables local transcription of audio inputs before
	// ingest. Falls back to DEEPGRAM_API_KEY. Empty disables the step.
	DeepgramAPIKey string `json:"deepgram_api_key,omitempty"`

	// DeepgramModel selects the transcription model.
	DeepgramModel string `json:"deepgram_model,omitempty"`

	// ConflictWindowDays bounds how far ahead recurring events are expanded
	// when checking for schedule overlaps during sync.
	ConflictWindowDays int `json:"conflict_window_days,omitempty"`

	// DefaultCalendar is the calendar id used when an event has none.
	DefaultCalendar string `json:"default_calendar,omitempty"`

	// CalendarRegistry is the path to the calendars.yaml provider registry.
	// Empty means baseDir/calendars.yaml.
	CalendarRegistry string `json:"calendar_registry,omitempty"`

	// TransientTTLMinutes is how long zero-event and failed sessions stay
	// readable before the reaper discards them.
	TransientTTLMinutes int `json:"transient_ttl_minutes,omitempty"`

	// SweepSchedule is the cron spec for the retention sweep in serve mode.
	SweepSchedule string `json:"sweep_schedule,omitempty"`

	// WebAddr is the HTTP listen address for serve mode.
	WebAddr string `json:"web_addr,omitempty"`

	// AllowedPaths is an allowlist of directories for ICS export.
	// Paths outside baseDir/exports require either being in this list or
	// AllowUnsafePaths=true. Paths should be absolute.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for ICS export.
	// When true, any directory is allowed (symlink and extension checks
	// still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized. 0 means sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from
	// registration. Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxParallelChains:      4,
		PipelineTimeoutSeconds: 300,
		PollIntervalSeconds:    2,
		PollMaxWaitSeconds:     300,
		StreamBuffer:           64,
		DefaultOwner:           "local",
		GuestSessionLimit:      3,
		MinAudioBytes:          1024,
		MaxInputBytes:          10 * 1024 * 1024,
		GatewayTimeoutSeconds:  60,
		GatewayModel:           "gpt-4o-mini",
		DeepgramModel:          "nova-3",
		ConflictWindowDays:     60,
		TransientTTLMinutes:    60,
		SweepSchedule:          "@every 15m",
		WebAddr:                "127.0.0.1:7433",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.penciled.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv fills secrets from the environment when the file left them empty.
func applyEnv(cfg *Config) {
	if cfg.GatewayAPIKey == "" {
		cfg.GatewayAPIKey = os.Getenv("PENCILED_GATEWAY_KEY")
	}
	if cfg.GatewayBaseURL == "" {
		cfg.GatewayBaseURL = os.Getenv("PENCILED_GATEWAY_URL")
	}
	if cfg.DeepgramAPIKey == "" {
		cfg.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.MaxParallelChains = overlayInt(base.MaxParallelChains, overlay.MaxParallelChains)
	result.PipelineTimeoutSeconds = overlayInt(base.PipelineTimeoutSeconds, overlay.PipelineTimeoutSeconds)
	result.PollIntervalSeconds = overlayInt(base.PollIntervalSeconds, overlay.PollIntervalSeconds)
	result.PollMaxWaitSeconds = overlayInt(base.PollMaxWaitSeconds, overlay.PollMaxWaitSeconds)
	result.StreamBuffer = overlayInt(base.StreamBuffer, overlay.StreamBuffer)
	result.GuestSessionLimit = overlayInt(base.GuestSessionLimit, overlay.GuestSessionLimit)
	result.GatewayTimeoutSeconds = overlayInt(base.GatewayTimeoutSeconds, overlay.GatewayTimeoutSeconds)
	result.ConflictWindowDays = overlayInt(base.ConflictWindowDays, overlay.ConflictWindowDays)
	result.TransientTTLMinutes = overlayInt(base.TransientTTLMinutes, overlay.TransientTTLMinutes)
	result.DBMaxOpenConns = overlayInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = overlayInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.MinAudioBytes = overlay.MinAudioBytes
	if result.MinAudioBytes == 0 {
		result.MinAudioBytes = base.MinAudioBytes
	}
	result.MaxInputBytes = overlay.MaxInputBytes
	if result.MaxInputBytes == 0 {
		result.MaxInputBytes = base.MaxInputBytes
	}

	result.GatewayBaseURL = overlayString(base.GatewayBaseURL, overlay.GatewayBaseURL)
	result.GatewayAPIKey = overlayString(base.GatewayAPIKey, overlay.GatewayAPIKey)
	result.GatewayModel = overlayString(base.GatewayModel, overlay.GatewayModel)
	result.DeepgramAPIKey = overlayString(base.DeepgramAPIKey, overlay.DeepgramAPIKey)
	result.DeepgramModel = overlayString(base.DeepgramModel, overlay.DeepgramModel)
	result.DefaultOwner = overlayString(base.DefaultOwner, overlay.DefaultOwner)
	result.DefaultCalendar = overlayString(base.DefaultCalendar, overlay.DefaultCalendar)
	result.CalendarRegistry = overlayString(base.CalendarRegistry, overlay.CalendarRegistry)
	result.SweepSchedule = overlayString(base.SweepSchedule, overlay.SweepSchedule)
	result.WebAddr = overlayString(base.WebAddr, overlay.WebAddr)

	if overlay.MinEventConfidence != 0 {
		result.MinEventConfidence = overlay.MinEventConfidence
	} else {
		result.MinEventConfidence = base.MinEventConfidence
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// PipelineTimeout returns the session processing bound as a duration.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.PipelineTimeoutSeconds) * time.Second
}

// PollInterval returns the poll re-fetch interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PollMaxWait returns the total poll bound as a duration.
func (c *Config) PollMaxWait() time.Duration {
	return time.Duration(c.PollMaxWaitSeconds) * time.Second
}

// GatewayTimeout returns the single stage call bound as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// TransientTTL returns how long transient sessions stay readable.
func (c *Config) TransientTTL() time.Duration {
	return time.Duration(c.TransientTTLMinutes) * time.Minute
}

// RegistryPath returns the calendar registry location, defaulting to
// baseDir/calendars.yaml.
func (c *Config) RegistryPath(baseDir string) string {
	if c.CalendarRegistry != "" {
		return c.CalendarRegistry
	}
	return filepath.Join(baseDir, "calendars.yaml")
}

func overlayInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func overlayString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
