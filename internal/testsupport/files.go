package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates the target path (and parents) with the given content.
func WriteFile(t testing.TB, path string, content []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteFrames fills dir with count fake rendered frames named after prefix,
// mirroring the server's "<prefix>_%05d_.png" output convention.
func WriteFrames(t testing.TB, dir, prefix string, count int) {
	t.Helper()

	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("%s_%05d_.png", prefix, i)
		WriteFile(t, filepath.Join(dir, name), []byte("png"))
	}
}
