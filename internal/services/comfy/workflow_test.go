package comfy

import (
	"os"
	"path/filepath"
	"testing"
)

func nodeInputs(t *testing.T, wf Workflow, id string) map[string]any {
	t.Helper()
	node, ok := wf[id].(map[string]any)
	if !ok {
		t.Fatalf("node %s missing", id)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		t.Fatalf("node %s has no inputs", id)
	}
	return inputs
}

func TestInjectWritesPromptSeedAndPrefix(t *testing.T) {
	wf, err := DefaultWorkflow()
	if err != nil {
		t.Fatalf("default workflow: %v", err)
	}

	err = wf.Inject(Injection{
		Positive:       "a lighthouse at dusk",
		Negative:       "blurry, text",
		Seed:           1234,
		FilenamePrefix: "run-7/scene-01",
	})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}

	if got := nodeInputs(t, wf, "6")["text"]; got != "a lighthouse at dusk" {
		t.Fatalf("positive prompt not injected: %v", got)
	}
	if got := nodeInputs(t, wf, "7")["text"]; got != "blurry, text" {
		t.Fatalf("negative prompt not injected: %v", got)
	}
	if got := nodeInputs(t, wf, "3")["seed"]; got != int64(1234) {
		t.Fatalf("seed not injected: %v (%T)", got, got)
	}
	if got := nodeInputs(t, wf, "9")["filename_prefix"]; got != "run-7/scene-01" {
		t.Fatalf("filename prefix not injected: %v", got)
	}
}

func videoTestWorkflow() Workflow {
	return Workflow{
		"1": map[string]any{
			"class_type": "CLIPTextEncode",
			"inputs":     map[string]any{"text": ""},
		},
		"2": map[string]any{
			"class_type": "LoadImage",
			"inputs":     map[string]any{"image": ""},
		},
		"3": map[string]any{
			"class_type": "WanImageToVideo",
			"inputs":     map[string]any{"length": 0, "width": 0, "height": 0},
		},
		"4": map[string]any{
			"class_type": "VHS_VideoCombine",
			"inputs":     map[string]any{"filename_prefix": "", "frame_rate": 0},
		},
	}
}

func TestInjectWritesKeyframeAndClipGeometry(t *testing.T) {
	wf := videoTestWorkflow()
	err := wf.Inject(Injection{
		Positive:       "camera pans across the bay",
		Image:          "/out/run-7/scene-01_00001_.png",
		FrameCount:     81,
		Width:          832,
		Height:         480,
		FPS:            16,
		FilenamePrefix: "run-7/scene-01-clip",
	})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}

	if got := nodeInputs(t, wf, "2")["image"]; got != "/out/run-7/scene-01_00001_.png" {
		t.Fatalf("keyframe not injected: %v", got)
	}
	video := nodeInputs(t, wf, "3")
	if video["length"] != 81 || video["width"] != 832 || video["height"] != 480 {
		t.Fatalf("clip geometry not injected: %v", video)
	}
	combine := nodeInputs(t, wf, "4")
	if combine["frame_rate"] != 16 || combine["filename_prefix"] != "run-7/scene-01-clip" {
		t.Fatalf("combine node not injected: %v", combine)
	}
}

func TestInjectRejectsKeyframeWithoutLoadNode(t *testing.T) {
	wf, err := DefaultWorkflow()
	if err != nil {
		t.Fatalf("default workflow: %v", err)
	}
	err = wf.Inject(Injection{Positive: "prompt", Image: "scene-01_00001_.png"})
	if err == nil {
		t.Fatal("expected error when the template cannot load the keyframe")
	}
}

func TestInjectRequiresPositivePrompt(t *testing.T) {
	wf, _ := DefaultWorkflow()
	if err := wf.Inject(Injection{Positive: "  "}); err == nil {
		t.Fatal("expected error for empty positive prompt")
	}
}

func TestInjectRejectsTemplateWithoutTextEncode(t *testing.T) {
	wf := Workflow{
		"1": map[string]any{
			"class_type": "SaveImage",
			"inputs":     map[string]any{"filename_prefix": "x"},
		},
	}
	if err := wf.Inject(Injection{Positive: "prompt"}); err == nil {
		t.Fatal("expected error for template without text encode node")
	}
}

func TestCloneIsolatesInjection(t *testing.T) {
	template, err := DefaultWorkflow()
	if err != nil {
		t.Fatalf("default workflow: %v", err)
	}

	first, err := template.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if err := first.Inject(Injection{Positive: "scene one"}); err != nil {
		t.Fatalf("inject: %v", err)
	}

	if got := nodeInputs(t, template, "6")["text"]; got != "" {
		t.Fatalf("template mutated by clone injection: %v", got)
	}
}

func TestLoadWorkflowFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.json")
	custom := `{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
		"2": {"class_type": "SaveImage", "inputs": {"filename_prefix": "x"}}
	}`
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	wf, err := LoadWorkflow(path)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if len(wf) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(wf))
	}

	if _, err := LoadWorkflow(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing template")
	}
}
