package assembling_test

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/assembling"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/testsupport"
)

func seedAssembledItem(t *testing.T, store *queue.Store, artifactRoot string, scenes int, clipFailed map[int]bool) *queue.Item {
	t.Helper()

	item := testsupport.NewStory(t, store, "The Lighthouse Keeper", "idea")
	item.ArtifactDir = filepath.Join(artifactRoot, fmt.Sprintf("run-%d", item.ID))
	testsupport.WriteFile(t, filepath.Join(item.ArtifactDir, "script.json"), []byte(`{"title":"T"}`))

	manifest := queue.Manifest{Title: item.Title}
	for i := 1; i <= scenes; i++ {
		artifact := queue.SceneArtifact{
			Index:       i,
			FramePrefix: fmt.Sprintf("scene-%02d", i),
			FrameCount:  30,
		}
		if clipFailed[i] {
			artifact.ClipFailed = true
			artifact.Failure = "clip generation failed"
		} else {
			clip := filepath.Join(item.ArtifactDir, fmt.Sprintf("scene-%02d-clip.webp", i))
			testsupport.WriteFile(t, clip, []byte("webp"))
			artifact.ClipPath = clip
		}
		manifest.Scenes = append(manifest.Scenes, artifact)
	}
	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	item.ManifestJSON = encoded
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("update item: %v", err)
	}
	return item
}

func TestAssemblerWritesManifestAndArchive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := seedAssembledItem(t, store, cfg.Paths.StagingDir, 2, nil)

	assembler := assembling.NewAssemblerWithDependencies(cfg, store, logging.NewNop(), nil)
	if err := assembler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(filepath.Join(item.ArtifactDir, assembling.ManifestFileName)); err != nil {
		t.Fatalf("expected manifest file: %v", err)
	}
	if item.ArchivePath == "" {
		t.Fatal("expected archive path set")
	}
	if item.NeedsReview {
		t.Fatal("expected no review flag on clean run")
	}

	reader, err := zip.OpenReader(item.ArchivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	names := make(map[string]bool)
	for _, f := range reader.File {
		names[f.Name] = true
	}
	if !names["script.json"] || !names[assembling.ManifestFileName] {
		t.Fatalf("expected run files in archive, got %v", names)
	}
}

func TestAssemblerFlagsReviewOnIncompleteScenes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := seedAssembledItem(t, store, cfg.Paths.StagingDir, 3, map[int]bool{2: true})

	assembler := assembling.NewAssemblerWithDependencies(cfg, store, logging.NewNop(), nil)
	if err := assembler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !item.NeedsReview {
		t.Fatal("expected review flag")
	}
	if item.ReviewReason == "" {
		t.Fatal("expected review reason")
	}
}

func TestAssemblerMarksMissingClipsAsFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := seedAssembledItem(t, store, cfg.Paths.StagingDir, 1, nil)

	// Strip the clip path to simulate a scene that never animated.
	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	manifest.Scenes[0].ClipPath = ""
	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	item.ManifestJSON = encoded

	assembler := assembling.NewAssemblerWithDependencies(cfg, store, logging.NewNop(), nil)
	if err := assembler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse final manifest: %v", err)
	}
	if !final.Scenes[0].ClipFailed {
		t.Fatalf("expected missing clip marked failed: %+v", final.Scenes[0])
	}
	if !item.NeedsReview {
		t.Fatal("expected review flag")
	}
}

func TestAssemblerSkipsArchiveWhenDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Telemetry.ArchiveRuns = false
	store := testsupport.MustOpenStore(t, cfg)
	item := seedAssembledItem(t, store, cfg.Paths.StagingDir, 1, nil)

	assembler := assembling.NewAssemblerWithDependencies(cfg, store, logging.NewNop(), nil)
	if err := assembler.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if item.ArchivePath != "" {
		t.Fatalf("expected no archive, got %s", item.ArchivePath)
	}
}

func TestAssemblerRequiresManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewStory(t, store, "T", "idea")

	assembler := assembling.NewAssemblerWithDependencies(cfg, store, logging.NewNop(), nil)
	err := assembler.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error without manifest")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
