package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyreel/internal/config"
)

func comfyServer(t *testing.T, freeVRAMBytes int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system_stats" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"devices":[{"name":"cuda:0","type":"cuda","vram_total":17179869184,"vram_free":%d}]}`, freeVRAMBytes)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckComfy_OK(t *testing.T) {
	srv := comfyServer(t, 8<<30)

	cfg := config.Default()
	cfg.Comfy.BaseURL = srv.URL
	result := CheckComfy(context.Background(), &cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckComfy_BelowVRAMFloor(t *testing.T) {
	srv := comfyServer(t, 1<<30)

	cfg := config.Default()
	cfg.Comfy.BaseURL = srv.URL
	cfg.Comfy.VRAMFloorMB = 4096
	result := CheckComfy(context.Background(), &cfg)
	if result.Passed {
		t.Fatal("expected failure below VRAM floor")
	}
	if !strings.Contains(result.Detail, "floor") {
		t.Fatalf("expected floor detail, got %q", result.Detail)
	}
}

func TestCheckComfy_MissingURL(t *testing.T) {
	cfg := config.Default()
	cfg.Comfy.BaseURL = ""
	result := CheckComfy(context.Background(), &cfg)
	if result.Passed {
		t.Fatal("expected failure for missing url")
	}
}

func TestCheckFastVideo_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.FastVideo.BaseURL = srv.URL
	result := CheckFastVideo(context.Background(), &cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckFastVideo_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.FastVideo.BaseURL = srv.URL
	result := CheckFastVideo(context.Background(), &cfg)
	if result.Passed {
		t.Fatal("expected failure for unhealthy server")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_IncludesFastVideoWhenEnabled(t *testing.T) {
	comfy := comfyServer(t, 8<<30)
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.LibraryDir = t.TempDir()
	cfg.Comfy.BaseURL = comfy.URL
	cfg.FastVideo.Enabled = true
	cfg.FastVideo.BaseURL = fast.URL
	cfg.LLM.APIKey = ""

	results := RunAll(context.Background(), &cfg)
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	for _, want := range []string{"Staging directory", "Library directory", "ComfyUI", "Script LLM", "FastVideo"} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %q in results, got %v", want, names)
		}
	}
	if AllPassed(results) {
		t.Fatal("expected LLM check to fail without api key")
	}
}
