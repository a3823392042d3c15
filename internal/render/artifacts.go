package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DoneMarkerSuffix names completion markers: "<prefix>.done". The producer
// writes the marker after the last output file, through a temp file, so a
// reader never observes a partial marker.
const DoneMarkerSuffix = ".done"

// DoneMarker records a completed render for one scene prefix.
type DoneMarker struct {
	Timestamp  time.Time `json:"Timestamp"`
	FrameCount int       `json:"FrameCount"`
}

var frameExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
}

// CollectFrames lists rendered frame files under dir whose names start with
// prefix, sorted by name. An empty prefix matches every frame file.
func CollectFrames(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("collect frames: read %s: %w", dir, err)
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := frameExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		frames = append(frames, filepath.Join(dir, name))
	}
	sort.Strings(frames)
	return frames, nil
}

func doneMarkerPath(dir, prefix string) string {
	return filepath.Join(dir, prefix+DoneMarkerSuffix)
}

// WriteDoneMarker atomically writes the completion marker for prefix under dir.
func WriteDoneMarker(dir, prefix string, frameCount int) error {
	marker := DoneMarker{Timestamp: time.Now().UTC(), FrameCount: frameCount}
	encoded, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("done marker: encode: %w", err)
	}

	target := doneMarkerPath(dir, prefix)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("done marker: write temp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("done marker: rename: %w", err)
	}
	return nil
}

// ReadDoneMarker loads the completion marker for prefix under dir, or nil
// when absent.
func ReadDoneMarker(dir, prefix string) (*DoneMarker, error) {
	data, err := os.ReadFile(doneMarkerPath(dir, prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("done marker: read: %w", err)
	}
	var marker DoneMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("done marker: decode: %w", err)
	}
	return &marker, nil
}
