package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// SceneArtifact tracks generation state for one scene of a run.
type SceneArtifact struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	FramePrefix  string `json:"frame_prefix"`
	KeyframeDir  string `json:"keyframe_dir,omitempty"`
	Keyframe     string `json:"keyframe,omitempty"`
	FrameCount   int    `json:"frame_count"`
	ClipPath     string `json:"clip_path,omitempty"`
	RenderFailed bool   `json:"render_failed,omitempty"`
	ClipFailed   bool   `json:"clip_failed,omitempty"`
	Failure      string `json:"failure,omitempty"`
}

// Failed reports whether any generation step for the scene failed.
func (s SceneArtifact) Failed() bool {
	return s.RenderFailed || s.ClipFailed
}

// Manifest summarizes the artifacts produced for one story run. It is
// persisted on the queue item as JSON and finalized during assembly.
type Manifest struct {
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generated_at"`
	Scenes      []SceneArtifact `json:"scenes"`
}

// FailedScenes returns the number of scenes with a failed generation step.
func (m Manifest) FailedScenes() int {
	failed := 0
	for _, scene := range m.Scenes {
		if scene.Failed() {
			failed++
		}
	}
	return failed
}

// Scene returns a pointer to the artifact entry with the given index.
func (m *Manifest) Scene(index int) *SceneArtifact {
	for i := range m.Scenes {
		if m.Scenes[i].Index == index {
			return &m.Scenes[i]
		}
	}
	return nil
}

// Encode serializes the manifest for storage on a queue item.
func (m Manifest) Encode() (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return string(data), nil
}

// ParseManifest decodes a stored manifest. An empty payload yields an empty
// manifest rather than an error.
func ParseManifest(raw string) (Manifest, error) {
	var manifest Manifest
	if raw == "" {
		return manifest, nil
	}
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}
