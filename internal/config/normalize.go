package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeComfy(); err != nil {
		return err
	}
	c.normalizeFastVideo()
	c.normalizeLLM()
	c.normalizeStory()
	if err := c.normalizeTelemetry(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ReviewDir, err = expandPath(c.Paths.ReviewDir); err != nil {
		return fmt.Errorf("paths.review_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeComfy() error {
	c.Comfy.BaseURL = strings.TrimRight(strings.TrimSpace(c.Comfy.BaseURL), "/")
	if c.Comfy.BaseURL == "" {
		if value, ok := os.LookupEnv("COMFYUI_URL"); ok {
			c.Comfy.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	if c.Comfy.BaseURL == "" {
		c.Comfy.BaseURL = defaultComfyBaseURL
	}
	var err error
	if strings.TrimSpace(c.Comfy.OutputDir) == "" {
		c.Comfy.OutputDir = defaultComfyOutputDir
	}
	if c.Comfy.OutputDir, err = expandPath(c.Comfy.OutputDir); err != nil {
		return fmt.Errorf("comfy.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Comfy.WorkflowPath) != "" {
		if c.Comfy.WorkflowPath, err = expandPath(c.Comfy.WorkflowPath); err != nil {
			return fmt.Errorf("comfy.workflow_path: %w", err)
		}
	}
	if strings.TrimSpace(c.Comfy.VideoWorkflowPath) != "" {
		if c.Comfy.VideoWorkflowPath, err = expandPath(c.Comfy.VideoWorkflowPath); err != nil {
			return fmt.Errorf("comfy.video_workflow_path: %w", err)
		}
	}
	if c.Comfy.PollInterval <= 0 {
		c.Comfy.PollInterval = defaultComfyPollInterval
	}
	if c.Comfy.MaxWait <= 0 {
		c.Comfy.MaxWait = defaultComfyMaxWait
	}
	if c.Comfy.MaxPollAttempts < 0 {
		c.Comfy.MaxPollAttempts = 0
	}
	if c.Comfy.GracePeriod < 0 {
		c.Comfy.GracePeriod = defaultComfyGracePeriod
	}
	if c.Comfy.RetryBudget < 0 {
		c.Comfy.RetryBudget = defaultComfyRetryBudget
	}
	if c.Comfy.FrameFloor <= 0 {
		c.Comfy.FrameFloor = defaultComfyFrameFloor
	}
	if c.Comfy.RequestTimeout <= 0 {
		c.Comfy.RequestTimeout = defaultComfyRequestTimeout
	}
	if c.Comfy.VRAMFloorMB < 0 {
		c.Comfy.VRAMFloorMB = defaultComfyVRAMFloorMB
	}
	return nil
}

func (c *Config) normalizeFastVideo() {
	c.FastVideo.BaseURL = strings.TrimRight(strings.TrimSpace(c.FastVideo.BaseURL), "/")
	if c.FastVideo.BaseURL == "" {
		if value, ok := os.LookupEnv("FASTVIDEO_URL"); ok {
			c.FastVideo.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	if c.FastVideo.BaseURL == "" {
		c.FastVideo.BaseURL = defaultFastVideoBaseURL
	}
	if c.FastVideo.RequestTimeout <= 0 {
		c.FastVideo.RequestTimeout = defaultFastVideoTimeout
	}
	if c.FastVideo.RetryBudget < 0 {
		c.FastVideo.RetryBudget = defaultFastVideoRetryBudget
	}
	if c.FastVideo.FPS <= 0 {
		c.FastVideo.FPS = defaultFastVideoFPS
	}
	if c.FastVideo.NumFrames <= 0 {
		c.FastVideo.NumFrames = defaultFastVideoNumFrames
	}
	if c.FastVideo.Width <= 0 {
		c.FastVideo.Width = defaultFastVideoWidth
	}
	if c.FastVideo.Height <= 0 {
		c.FastVideo.Height = defaultFastVideoHeight
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("STORYREEL_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = defaultLLMMaxRetries
	}
}

func (c *Config) normalizeStory() {
	if c.Story.SceneCount <= 0 {
		c.Story.SceneCount = defaultSceneCount
	}
	if c.Story.MaxSceneCount <= 0 {
		c.Story.MaxSceneCount = defaultMaxSceneCount
	}
	c.Story.Style = strings.TrimSpace(c.Story.Style)
	if c.Story.Style == "" {
		c.Story.Style = defaultStoryStyle
	}
	c.Story.NegativePrompt = strings.TrimSpace(c.Story.NegativePrompt)
	if c.Story.FramesPerScene <= 0 {
		c.Story.FramesPerScene = defaultStoryFramesPerScene
	}
	if c.Story.Width <= 0 {
		c.Story.Width = defaultStoryWidth
	}
	if c.Story.Height <= 0 {
		c.Story.Height = defaultStoryHeight
	}
	if c.Story.FPS <= 0 {
		c.Story.FPS = defaultStoryFPS
	}
	if c.Story.ClipSeconds <= 0 {
		c.Story.ClipSeconds = defaultClipSeconds
	}
}

func (c *Config) normalizeTelemetry() error {
	var err error
	if strings.TrimSpace(c.Telemetry.Dir) == "" {
		c.Telemetry.Dir = filepath.Join(c.Paths.LogDir, "telemetry")
	}
	if c.Telemetry.Dir, err = expandPath(c.Telemetry.Dir); err != nil {
		return fmt.Errorf("telemetry.dir: %w", err)
	}
	return nil
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
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
