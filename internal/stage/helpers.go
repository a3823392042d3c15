package stage

import (
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
)

// ParseScript decodes the script stored on a queue item.
// On failure it returns a services.ErrValidation suitable for stage Execute methods.
func ParseScript(raw string) (llm.Script, error) {
	var script llm.Script
	if err := llm.DecodeLLMJSON(raw, &script); err != nil {
		return llm.Script{}, services.Wrap(
			services.ErrValidation, "stage", "parse script",
			"Stored script missing or invalid; rerun scripting", err)
	}
	if len(script.Scenes) == 0 {
		return llm.Script{}, services.Wrap(
			services.ErrValidation, "stage", "parse script",
			"Stored script has no scenes; rerun scripting", nil)
	}
	return script, nil
}
