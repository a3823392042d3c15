package config

const (
	defaultStagingDir = "~/.local/share/storyreel/staging"
	defaultLibraryDir = "~/videos/storyreel"
	defaultLogDir     = "~/.local/share/storyreel/logs"
	defaultReviewDir  = "~/videos/storyreel/review"

	defaultComfyBaseURL         = "http://127.0.0.1:8188"
	defaultComfyOutputDir       = "~/.local/share/storyreel/comfy-output"
	defaultComfyPollInterval    = 2
	defaultComfyMaxWait         = 600
	defaultComfyGracePeriod     = 5
	defaultComfyRetryBudget     = 2
	defaultComfyFrameFloor      = 25
	defaultComfyRequestTimeout  = 30
	defaultComfyVRAMFloorMB     = 4096
	defaultFastVideoBaseURL     = "http://127.0.0.1:9188"
	defaultFastVideoTimeout     = 1800
	defaultFastVideoRetryBudget = 1
	defaultFastVideoFPS         = 16
	defaultFastVideoNumFrames   = 81
	defaultFastVideoWidth       = 832
	defaultFastVideoHeight      = 480

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultLLMReferer        = "https://github.com/storyreel/storyreel"
	defaultLLMTitle          = "Storyreel Script Writer"
	defaultLLMTimeoutSeconds = 120
	defaultLLMMaxRetries     = 3

	defaultSceneCount          = 5
	defaultMaxSceneCount       = 12
	defaultStoryStyle          = "cinematic"
	defaultStoryFramesPerScene = 81
	defaultStoryWidth          = 832
	defaultStoryHeight         = 480
	defaultStoryFPS            = 16
	defaultClipSeconds         = 5

	defaultWorkflowQueuePollInterval  = 5
	defaultWorkflowErrorRetryInterval = 10
	defaultWorkflowHeartbeatInterval  = 15
	defaultWorkflowHeartbeatTimeout   = 120

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultNotifyRequestTimeout     = 10
	defaultNotifyDedupWindowSeconds = 600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			ReviewDir:  defaultReviewDir,
		},
		Comfy: Comfy{
			BaseURL:          defaultComfyBaseURL,
			OutputDir:        defaultComfyOutputDir,
			PollInterval:     defaultComfyPollInterval,
			MaxWait:          defaultComfyMaxWait,
			MaxPollAttempts:  0,
			GracePeriod:      defaultComfyGracePeriod,
			RetryBudget:      defaultComfyRetryBudget,
			FrameFloor:       defaultComfyFrameFloor,
			RequestTimeout:   defaultComfyRequestTimeout,
			WebsocketEnabled: true,
			VRAMFloorMB:      defaultComfyVRAMFloorMB,
		},
		FastVideo: FastVideo{
			Enabled:        false,
			BaseURL:        defaultFastVideoBaseURL,
			RequestTimeout: defaultFastVideoTimeout,
			RetryBudget:    defaultFastVideoRetryBudget,
			FPS:            defaultFastVideoFPS,
			NumFrames:      defaultFastVideoNumFrames,
			Width:          defaultFastVideoWidth,
			Height:         defaultFastVideoHeight,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			MaxRetries:     defaultLLMMaxRetries,
		},
		Story: Story{
			SceneCount:     defaultSceneCount,
			MaxSceneCount:  defaultMaxSceneCount,
			Style:          defaultStoryStyle,
			FramesPerScene: defaultStoryFramesPerScene,
			Width:          defaultStoryWidth,
			Height:         defaultStoryHeight,
			FPS:            defaultStoryFPS,
			ClipSeconds:    defaultClipSeconds,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultWorkflowQueuePollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetryInterval,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			Scripting:          true,
			Rendering:          true,
			Animation:          true,
			Assembly:           true,
			Queue:              true,
			Review:             true,
			Errors:             true,
			DedupWindowSeconds: defaultNotifyDedupWindowSeconds,
		},
		Telemetry: Telemetry{
			Enabled:     true,
			ArchiveRuns: true,
		},
	}
}
