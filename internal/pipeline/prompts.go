package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makeasinger/videogen/internal/model"
)

const sceneSystemPrompt = `You are a helpful assistant that generates scenes for a generated video. Make the scenes funny, and follow the story description given by the user. Your output will be a JSON list of 7-8 scenes in the following format:

{
    "data":[
        {
            "image_prompt": "A prompt for the image",
            "character_id": "The ID of the character",
            "dialogue": "The dialogue for the scene"
        }
    ]
}

Make sure you are extremely creative, dramatic, and CONCISE. It is crucial that you keep the dialogue concise and to the point. MAKE SURE YOU ONLY INCLUDE CHARACTERS THAT ARE IN THE AVAILABLE CHARACTERS LIST.`

func buildStoryPrompt(participantIDs []string, brief string) string {
	return fmt.Sprintf(
		"Generate a really cool and funny story description for the characters %s in a video about %s. "+
			"Make sure that you ONLY output the story description. DO NOT INCLUDE ANYTHING ELSE.",
		formatIDs(participantIDs), strings.TrimSpace(brief),
	)
}

func buildScenePrompt(story model.StoryDescription, participantIDs []string) string {
	return fmt.Sprintf("Story description: %s\nAvailable characters: %s",
		story.Description, formatIDs(participantIDs))
}

func formatIDs(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

type sceneItem struct {
	ImagePrompt *string `json:"image_prompt"`
	CharacterID *string `json:"character_id"`
	Dialogue    *string `json:"dialogue"`
}

// parseScenes maps the generator's structured output onto ScenePrompts.
// Both {"data":[...]} and a bare array are accepted; any missing field
// fails the whole list.
func parseScenes(raw string) ([]model.ScenePrompt, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON in response", ErrMalformedScenes)
	}

	var items []sceneItem
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedScenes, err)
		}
	} else {
		var envelope struct {
			Data []sceneItem `json:"data"`
		}
		if err := json.Unmarshal([]byte(body), &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedScenes, err)
		}
		if envelope.Data == nil {
			return nil, fmt.Errorf("%w: missing data field", ErrMalformedScenes)
		}
		items = envelope.Data
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no scenes returned", ErrMalformedScenes)
	}

	scenes := make([]model.ScenePrompt, len(items))
	for i, item := range items {
		switch {
		case item.ImagePrompt == nil || strings.TrimSpace(*item.ImagePrompt) == "":
			return nil, fmt.Errorf("%w: scene %d has no image_prompt", ErrMalformedScenes, i)
		case item.CharacterID == nil || strings.TrimSpace(*item.CharacterID) == "":
			return nil, fmt.Errorf("%w: scene %d has no character_id", ErrMalformedScenes, i)
		case item.Dialogue == nil:
			return nil, fmt.Errorf("%w: scene %d has no dialogue", ErrMalformedScenes, i)
		}
		scenes[i] = model.ScenePrompt{
			ImagePrompt: strings.TrimSpace(*item.ImagePrompt),
			CharacterID: strings.TrimSpace(*item.CharacterID),
			Dialogue:    strings.TrimSpace(*item.Dialogue),
		}
	}
	return scenes, nil
}

// extractJSON returns the outermost JSON object or array in s, skipping any
// prose or code fences the model wrapped around it.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
