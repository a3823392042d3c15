package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"storyreel/internal/config"
	"storyreel/internal/services/comfy"
	"storyreel/internal/services/fastvideo"
	"storyreel/internal/services/llm"
)

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err, "LLM API")}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckComfy verifies render server reachability and, when a VRAM floor is
// configured, that enough VRAM is free to start a job.
func CheckComfy(ctx context.Context, cfg *config.Config) Result {
	const name = "ComfyUI"

	base := strings.TrimSpace(cfg.Comfy.BaseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := comfy.NewClient(base, 10*time.Second)
	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err, "render server")}
	}

	if cfg.Comfy.VRAMFloorMB > 0 {
		stats, err := client.SystemStats(checkCtx)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("system stats failed (%v)", err)}
		}
		free := stats.FreeVRAMMB()
		if free >= 0 && free < int64(cfg.Comfy.VRAMFloorMB) {
			return Result{Name: name, Detail: fmt.Sprintf("only %d MB VRAM free, floor is %d MB", free, cfg.Comfy.VRAMFloorMB)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable, %d MB VRAM free", free)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckFastVideo verifies the clip generation backend answers its health endpoint.
func CheckFastVideo(ctx context.Context, cfg *config.Config) Result {
	const name = "FastVideo"

	base := strings.TrimSpace(cfg.FastVideo.BaseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := fastvideo.NewClient(base, 10*time.Second)
	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err, "fastvideo server")}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// summarizeNetError produces a human-readable summary for connectivity failures.
func summarizeNetError(err error, label string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("health check timed out (%s unresponsive)", label)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("health check timed out (%s unreachable)", label)
	}
	return err.Error()
}
