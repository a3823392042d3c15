package assembling

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// writeArchive zips the run's artifact directory plus any extra files into
// target. Extra files land under an "output" folder inside the archive.
func writeArchive(target, artifactDir string, extras []string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive: ensure dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("archive: create: %w", err)
	}
	defer out.Close()

	w := zip.NewWriter(out)

	if artifactDir != "" {
		err := filepath.WalkDir(artifactDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(artifactDir, path)
			if err != nil {
				return err
			}
			return addFile(w, path, filepath.ToSlash(rel))
		})
		if err != nil {
			return fmt.Errorf("archive: walk artifacts: %w", err)
		}
	}

	seen := make(map[string]struct{})
	for _, extra := range extras {
		extra = strings.TrimSpace(extra)
		if extra == "" {
			continue
		}
		if _, ok := seen[extra]; ok {
			continue
		}
		seen[extra] = struct{}{}
		if _, err := os.Stat(extra); err != nil {
			// Server-side paths are not always visible locally; skip them.
			continue
		}
		if err := addFile(w, extra, "output/"+filepath.Base(extra)); err != nil {
			return fmt.Errorf("archive: add %s: %w", extra, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: finalize: %w", err)
	}
	return out.Close()
}

func addFile(w *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	entry, err := w.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, in)
	return err
}
