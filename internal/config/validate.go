package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateComfy(); err != nil {
		return err
	}
	if err := c.validateFastVideo(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateStory(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateComfy() error {
	if strings.TrimSpace(c.Comfy.BaseURL) == "" {
		return errors.New("comfy.base_url must be set")
	}
	if strings.TrimSpace(c.Comfy.OutputDir) == "" {
		return errors.New("comfy.output_dir must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"comfy.poll_interval":   c.Comfy.PollInterval,
		"comfy.max_wait":        c.Comfy.MaxWait,
		"comfy.frame_floor":     c.Comfy.FrameFloor,
		"comfy.request_timeout": c.Comfy.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Comfy.MaxWait <= c.Comfy.PollInterval {
		return errors.New("comfy.max_wait must be greater than comfy.poll_interval")
	}
	if c.Comfy.MaxPollAttempts < 0 {
		return errors.New("comfy.max_poll_attempts must be >= 0")
	}
	if c.Comfy.GracePeriod < 0 {
		return errors.New("comfy.grace_period must be >= 0")
	}
	if c.Comfy.RetryBudget < 0 {
		return errors.New("comfy.retry_budget must be >= 0")
	}
	if c.Comfy.VRAMFloorMB < 0 {
		return errors.New("comfy.vram_floor_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateFastVideo() error {
	if !c.FastVideo.Enabled {
		return nil
	}
	if strings.TrimSpace(c.FastVideo.BaseURL) == "" {
		return errors.New("fastvideo.base_url must be set when fastvideo.enabled is true")
	}
	return ensurePositiveMap(map[string]int{
		"fastvideo.request_timeout": c.FastVideo.RequestTimeout,
		"fastvideo.fps":             c.FastVideo.FPS,
		"fastvideo.num_frames":      c.FastVideo.NumFrames,
		"fastvideo.width":           c.FastVideo.Width,
		"fastvideo.height":          c.FastVideo.Height,
	})
}

func (c *Config) validateLLM() error {
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/storyreel/config.toml"
		}
		return fmt.Errorf("llm.api_key is required. Set STORYREEL_LLM_API_KEY or OPENROUTER_API_KEY env var or edit %s (create with 'storyreel config init')", defaultPath)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateStory() error {
	if c.Story.SceneCount <= 0 {
		return errors.New("story.scene_count must be positive")
	}
	if c.Story.MaxSceneCount < c.Story.SceneCount {
		return errors.New("story.max_scene_count must be >= story.scene_count")
	}
	if c.Story.ClipSeconds <= 0 {
		return errors.New("story.clip_seconds must be positive")
	}
	return ensurePositiveMap(map[string]int{
		"story.frames_per_scene": c.Story.FramesPerScene,
		"story.width":            c.Story.Width,
		"story.height":           c.Story.Height,
		"story.fps":              c.Story.FPS,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
