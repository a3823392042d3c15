package fastvideo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "slow push in" || req.NumFrames != 81 {
			t.Errorf("unexpected request payload: %+v", req)
		}
		w.Write([]byte(`{"status":"ok","outputVideoPath":"/out/scene-1.mp4","frames":81,"durationMs":42000}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	result, err := client.Generate(context.Background(), GenerateRequest{
		Prompt:    "slow push in",
		FPS:       16,
		NumFrames: 81,
		Width:     832,
		Height:    480,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.OutputVideoPath != "/out/scene-1.mp4" {
		t.Fatalf("unexpected output path: %q", result.OutputVideoPath)
	}
	if result.Frames != 81 {
		t.Fatalf("unexpected frames: %d", result.Frames)
	}
}

func TestGenerateMapsInsufficientStorageToVRAMError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		w.Write([]byte(`{"error":"CUDA out of memory"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	if !errors.Is(err, ErrInsufficientVRAM) {
		t.Fatalf("expected ErrInsufficientVRAM, got %v", err)
	}
}

func TestGenerateRejectsServerFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed","error":"model not loaded"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Generate(context.Background(), GenerateRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected error for failed status")
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second)
	if _, err := client.Generate(context.Background(), GenerateRequest{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestHealthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected health error")
	}
}
