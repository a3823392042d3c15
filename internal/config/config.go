package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	ReviewDir  string `toml:"review_dir"`
}

// Comfy contains connection and job-polling settings for the ComfyUI server.
type Comfy struct {
	BaseURL   string `toml:"base_url"`
	OutputDir string `toml:"output_dir"`
	// WorkflowPath selects the text-to-image template for keyframes. Empty
	// selects the built-in template.
	WorkflowPath string `toml:"workflow_path"`
	// VideoWorkflowPath selects the image-to-video template for clip
	// animation. Empty falls back to workflow_path.
	VideoWorkflowPath string `toml:"video_workflow_path"`
	// PollInterval is the seconds between history polls for a submitted job.
	PollInterval int `toml:"poll_interval"`
	// MaxWait bounds a single attempt in seconds, from submission to terminal poll.
	MaxWait int `toml:"max_wait"`
	// MaxPollAttempts caps polls per attempt. Zero means unbounded within max_wait.
	MaxPollAttempts int `toml:"max_poll_attempts"`
	// GracePeriod is the seconds to wait after job completion before collecting
	// artifacts, covering output files still being flushed to disk.
	GracePeriod int `toml:"grace_period"`
	// RetryBudget is the number of full resubmissions after the first attempt.
	RetryBudget int `toml:"retry_budget"`
	// FrameFloor is the minimum artifact count for a render to count as complete.
	FrameFloor       int  `toml:"frame_floor"`
	RequestTimeout   int  `toml:"request_timeout"`
	WebsocketEnabled bool `toml:"websocket_enabled"`
	VRAMFloorMB      int  `toml:"vram_floor_mb"`
}

// FastVideo contains settings for the FastVideo generation server used for
// image-to-video animation.
type FastVideo struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
	RetryBudget    int    `toml:"retry_budget"`
	FPS            int    `toml:"fps"`
	NumFrames      int    `toml:"num_frames"`
	Width          int    `toml:"width"`
	Height         int    `toml:"height"`
	Seed           int64  `toml:"seed"`
}

// LLM contains connection settings for the script-generation model.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// Story contains script shape and output geometry settings applied to every run.
type Story struct {
	SceneCount     int    `toml:"scene_count"`
	MaxSceneCount  int    `toml:"max_scene_count"`
	Style          string `toml:"style"`
	NegativePrompt string `toml:"negative_prompt"`
	FramesPerScene int    `toml:"frames_per_scene"`
	Width          int    `toml:"width"`
	Height         int    `toml:"height"`
	FPS            int    `toml:"fps"`
	ClipSeconds    int    `toml:"clip_seconds"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	Scripting          bool   `toml:"scripting"`
	Rendering          bool   `toml:"rendering"`
	Animation          bool   `toml:"animation"`
	Assembly           bool   `toml:"assembly"`
	Queue              bool   `toml:"queue"`
	Review             bool   `toml:"review"`
	Errors             bool   `toml:"errors"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Telemetry contains configuration for per-attempt render telemetry.
// Telemetry is advisory: recording failures never fail a run.
type Telemetry struct {
	Enabled     bool   `toml:"enabled"`
	Dir         string `toml:"dir"`
	ArchiveRuns bool   `toml:"archive_runs"`
}

// Config encapsulates all configuration values for Storyreel.
//
// Configuration sections by subsystem:
//   - Paths: staging, library, log, and review directories
//   - Comfy: ComfyUI connection and job polling behavior
//   - FastVideo: image-to-video generation server
//   - LLM: script-generation model connection
//   - Story: script shape defaults (scene count, style, clip length)
//   - Workflow: daemon polling intervals and heartbeats
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
//   - Telemetry: per-attempt render telemetry recording
type Config struct {
	Paths         Paths         `toml:"paths"`
	Comfy         Comfy         `toml:"comfy"`
	FastVideo     FastVideo     `toml:"fastvideo"`
	LLM           LLM           `toml:"llm"`
	Story         Story         `toml:"story"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Telemetry     Telemetry     `toml:"telemetry"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storyreel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. A .env file in the working
// directory is loaded first so API keys can live outside the config file.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir, c.Paths.ReviewDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		// Best-effort to avoid failing config load when storage is offline.
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Dir) != "" {
		if err := os.MkdirAll(c.Telemetry.Dir, 0o755); err != nil {
			return fmt.Errorf("create telemetry directory %q: %w", c.Telemetry.Dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the resolved LLM connection settings.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
	MaxRetries     int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
		MaxRetries:     c.LLM.MaxRetries,
	}
}
