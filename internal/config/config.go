package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice conversation engine.
type Config struct {
	APIKey      string
	RealtimeURL string

	RealtimeModel   string
	TranscribeModel string
	SummaryModel    string
	SummaryBaseURL  string
	VoiceName       string

	SampleRateHz  int
	FrameDuration time.Duration

	CaptureQueueFrames  int
	OutboundAudioFrames int
	PlaybackQueueChunks int
	SendQueueDepth      int
	JitterWarmup        time.Duration

	BackoffBase       time.Duration
	BackoffMax        time.Duration
	StabilityWindow   time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	SummaryTriggerTokens int
	SummaryTriggerTurns  int
	SummaryDebounceTurns int
	KeepLastTurns        int
	SummaryTimeout       time.Duration
	LanguagePolicy       string

	ToolTimeout time.Duration
	RedactPII   bool

	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		APIKey:          envTrimmed("OPENAI_API_KEY"),
		RealtimeURL:     envOrDefault("ARIA_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:   envOrDefault("ARIA_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		TranscribeModel: envOrDefault("ARIA_TRANSCRIBE_MODEL", "gpt-4o-transcribe"),
		SummaryModel:    envOrDefault("ARIA_SUMMARY_MODEL", "gpt-4o-mini"),
		SummaryBaseURL:  envOrDefault("ARIA_SUMMARY_BASE_URL", "https://api.openai.com/v1"),
		VoiceName:       envOrDefault("ARIA_VOICE", "shimmer"),
		// pcm16 requires 24kHz mono.
		SampleRateHz:         24000,
		FrameDuration:        40 * time.Millisecond,
		CaptureQueueFrames:   64,
		OutboundAudioFrames:  64,
		PlaybackQueueChunks:  128,
		SendQueueDepth:       32,
		JitterWarmup:         120 * time.Millisecond,
		BackoffBase:          500 * time.Millisecond,
		BackoffMax:           8 * time.Second,
		StabilityWindow:      10 * time.Second,
		KeepaliveInterval:    10 * time.Second,
		KeepaliveTimeout:     20 * time.Second,
		SummaryTriggerTokens: 2000,
		SummaryTriggerTurns:  16,
		SummaryDebounceTurns: 2,
		KeepLastTurns:        2,
		SummaryTimeout:       10 * time.Second,
		LanguagePolicy:       envOrDefault("ARIA_LANGUAGE_POLICY", "auto"),
		ToolTimeout:          5 * time.Second,
		RedactPII:            true,
		BindAddr:             envOrDefault("ARIA_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("ARIA_METRICS_NAMESPACE", "aria"),
		ShutdownTimeout:      10 * time.Second,
		DatabaseURL:          envTrimmed("DATABASE_URL"),
	}

	var err error
	cfg.SampleRateHz, err = intFromEnv("ARIA_SAMPLE_RATE_HZ", cfg.SampleRateHz)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameDuration, err = durationFromEnv("ARIA_FRAME_DURATION", cfg.FrameDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureQueueFrames, err = intFromEnv("ARIA_CAPTURE_QUEUE_FRAMES", cfg.CaptureQueueFrames)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundAudioFrames, err = intFromEnv("ARIA_OUTBOUND_AUDIO_FRAMES", cfg.OutboundAudioFrames)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackQueueChunks, err = intFromEnv("ARIA_PLAYBACK_QUEUE_CHUNKS", cfg.PlaybackQueueChunks)
	if err != nil {
		return Config{}, err
	}
	cfg.SendQueueDepth, err = intFromEnv("ARIA_SEND_QUEUE_DEPTH", cfg.SendQueueDepth)
	if err != nil {
		return Config{}, err
	}
	cfg.JitterWarmup, err = durationFromEnv("ARIA_JITTER_WARMUP", cfg.JitterWarmup)
	if err != nil {
		return Config{}, err
	}
	cfg.BackoffBase, err = durationFromEnv("ARIA_BACKOFF_BASE", cfg.BackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.BackoffMax, err = durationFromEnv("ARIA_BACKOFF_MAX", cfg.BackoffMax)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepaliveInterval, err = durationFromEnv("ARIA_KEEPALIVE_INTERVAL", cfg.KeepaliveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepaliveTimeout, err = durationFromEnv("ARIA_KEEPALIVE_TIMEOUT", cfg.KeepaliveTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTriggerTokens, err = intFromEnv("ARIA_SUMMARY_TRIGGER_TOKENS", cfg.SummaryTriggerTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTriggerTurns, err = intFromEnv("ARIA_SUMMARY_TRIGGER_TURNS", cfg.SummaryTriggerTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryDebounceTurns, err = intFromEnv("ARIA_SUMMARY_DEBOUNCE_TURNS", cfg.SummaryDebounceTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.KeepLastTurns, err = intFromEnv("ARIA_KEEP_LAST_TURNS", cfg.KeepLastTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTimeout, err = durationFromEnv("ARIA_SUMMARY_TIMEOUT", cfg.SummaryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolTimeout, err = durationFromEnv("ARIA_TOOL_TIMEOUT", cfg.ToolTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("ARIA_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("ARIA_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if cfg.SampleRateHz <= 0 {
		return Config{}, fmt.Errorf("ARIA_SAMPLE_RATE_HZ must be positive")
	}
	if cfg.FrameDuration < 10*time.Millisecond || cfg.FrameDuration > 200*time.Millisecond {
		return Config{}, fmt.Errorf("ARIA_FRAME_DURATION must be between 10ms and 200ms")
	}
	if cfg.CaptureQueueFrames <= 0 || cfg.OutboundAudioFrames <= 0 || cfg.PlaybackQueueChunks <= 0 || cfg.SendQueueDepth <= 0 {
		return Config{}, fmt.Errorf("queue capacities must be positive")
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffMax < cfg.BackoffBase {
		return Config{}, fmt.Errorf("backoff bounds invalid: base %v max %v", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.KeepLastTurns < 1 {
		return Config{}, fmt.Errorf("ARIA_KEEP_LAST_TURNS must be at least 1")
	}
	if cfg.SummaryDebounceTurns < 0 {
		return Config{}, fmt.Errorf("ARIA_SUMMARY_DEBOUNCE_TURNS must be >= 0")
	}
	if policy := cfg.LanguagePolicy; policy != "auto" && len(policy) != 2 {
		return Config{}, fmt.Errorf("ARIA_LANGUAGE_POLICY must be \"auto\" or a two-letter code")
	}

	return cfg, nil
}

// FrameBytes returns the size of one PCM16 mono capture frame.
func (c Config) FrameBytes() int {
	samples := c.SampleRateHz * int(c.FrameDuration/time.Millisecond) / 1000
	return samples * 2
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
