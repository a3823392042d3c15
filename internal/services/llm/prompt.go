package llm

import (
	"fmt"
	"strings"
)

// ScriptSystemPrompt instructs the model to return a structured script as JSON.
const ScriptSystemPrompt = `You are a story director for short generated videos.
Given a story idea, write a script broken into visual scenes.

Respond with JSON only, in this exact shape:
{
  "title": "story title",
  "logline": "one sentence summary",
  "style": "visual style shared by every scene",
  "scenes": [
    {
      "title": "scene title",
      "description": "what happens in this scene",
      "image_prompt": "detailed text-to-image prompt for the scene keyframe",
      "motion_prompt": "short prompt describing camera and subject motion"
    }
  ]
}

Rules:
- Every scene must be visually self-contained; do not rely on dialogue.
- image_prompt must restate the shared style and name the subject explicitly,
  since each scene is rendered independently.
- motion_prompt describes motion only, a few words.
- No markdown, no commentary, JSON only.`

func buildScriptUserPrompt(req ScriptRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story idea: %s\n", strings.TrimSpace(req.Idea))
	if title := strings.TrimSpace(req.Title); title != "" {
		fmt.Fprintf(&b, "Working title: %s\n", title)
	}
	sceneCount := req.SceneCount
	if sceneCount <= 0 {
		sceneCount = 5
	}
	fmt.Fprintf(&b, "Scene count: exactly %d scenes.\n", sceneCount)
	if style := strings.TrimSpace(req.Style); style != "" {
		fmt.Fprintf(&b, "Visual style: %s\n", style)
	}
	if negative := strings.TrimSpace(req.NegativePrompt); negative != "" {
		fmt.Fprintf(&b, "Avoid in every scene: %s\n", negative)
	}
	return b.String()
}
