package comfy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed workflow_template.json
var defaultWorkflowJSON []byte

// Workflow is a ComfyUI workflow in API format: node ID to node definition.
type Workflow map[string]any

// DefaultWorkflow returns the built-in text-to-image template.
func DefaultWorkflow() (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(defaultWorkflowJSON, &wf); err != nil {
		return nil, fmt.Errorf("comfy workflow: decode built-in template: %w", err)
	}
	return wf, nil
}

// LoadWorkflow reads a workflow template from disk. An empty path selects the
// built-in template.
func LoadWorkflow(path string) (Workflow, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultWorkflow()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("comfy workflow: read template: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("comfy workflow: decode template %s: %w", path, err)
	}
	if len(wf) == 0 {
		return nil, fmt.Errorf("comfy workflow: template %s has no nodes", path)
	}
	return wf, nil
}

// Clone returns a deep copy so a template can be injected per scene without
// mutating the original.
func (w Workflow) Clone() (Workflow, error) {
	encoded, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("comfy workflow: clone: %w", err)
	}
	var out Workflow
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("comfy workflow: clone: %w", err)
	}
	return out, nil
}

// Injection carries the per-scene values substituted into a workflow template.
// Image and FrameCount matter for image-to-video templates: Image feeds the
// rendered keyframe into the load node, FrameCount sets the clip length.
type Injection struct {
	Positive       string
	Negative       string
	Seed           int64
	Image          string
	FrameCount     int
	Width          int
	Height         int
	FPS            int
	FilenamePrefix string
}

// Inject writes the scene values into the matching template nodes. Text
// encode nodes whose title mentions "negative" receive the negative prompt;
// all other text encode nodes receive the positive one. Dimension, frame
// count, and fps values are written wherever a node already declares the
// matching input key.
func (w Workflow) Inject(inj Injection) error {
	if strings.TrimSpace(inj.Positive) == "" {
		return errors.New("comfy workflow: positive prompt required")
	}

	var injectedPositive, injectedSave, injectedImage bool
	for _, raw := range w {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		classType, _ := node["class_type"].(string)
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		switch classType {
		case "CLIPTextEncode":
			if isNegativeNode(node) {
				inputs["text"] = inj.Negative
			} else {
				inputs["text"] = inj.Positive
				injectedPositive = true
			}
		case "KSampler", "KSamplerAdvanced":
			if inj.Seed > 0 {
				if _, ok := inputs["noise_seed"]; ok {
					inputs["noise_seed"] = inj.Seed
				} else {
					inputs["seed"] = inj.Seed
				}
			}
		case "LoadImage":
			if strings.TrimSpace(inj.Image) != "" {
				inputs["image"] = inj.Image
				injectedImage = true
			}
		case "SaveImage", "SaveAnimatedWEBP", "VHS_VideoCombine":
			if strings.TrimSpace(inj.FilenamePrefix) != "" {
				inputs["filename_prefix"] = inj.FilenamePrefix
				injectedSave = true
			}
		}
		setNumberInputs(inputs, inj.Width, "width")
		setNumberInputs(inputs, inj.Height, "height")
		setNumberInputs(inputs, inj.FrameCount, "num_frames", "length", "video_frames")
		setNumberInputs(inputs, inj.FPS, "fps", "frame_rate")
	}

	if !injectedPositive {
		return errors.New("comfy workflow: template has no positive text encode node")
	}
	if strings.TrimSpace(inj.FilenamePrefix) != "" && !injectedSave {
		return errors.New("comfy workflow: template has no save node for filename prefix")
	}
	if strings.TrimSpace(inj.Image) != "" && !injectedImage {
		return errors.New("comfy workflow: template has no image load node for the keyframe")
	}
	return nil
}

// setNumberInputs overwrites the listed keys when the node already declares
// them, leaving templates without the input untouched.
func setNumberInputs(inputs map[string]any, value int, keys ...string) {
	if value <= 0 {
		return
	}
	for _, key := range keys {
		if _, ok := inputs[key]; ok {
			inputs[key] = value
		}
	}
}

func isNegativeNode(node map[string]any) bool {
	meta, ok := node["_meta"].(map[string]any)
	if !ok {
		return false
	}
	title, _ := meta["title"].(string)
	return strings.Contains(strings.ToLower(title), "negative")
}
