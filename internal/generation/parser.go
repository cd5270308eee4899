package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fable-server/internal/models"
)

// maxForwardActions bounds how many forward-moving choices a scene may offer.
const maxForwardActions = 3

// maxCommandWords bounds the length of a command so it reads like a terse
// player instruction rather than a sentence.
const maxCommandWords = 3

type directionPayload struct {
	Direction      string `json:"direction"`
	CommandText    string `json:"command_text"`
	TransitionText string `json:"transition_text"`
}

type scenePayload struct {
	Story            string `json:"story"`
	SceneDescription string `json:"scene_description"`
	PlayerOptions    struct {
		Directions []directionPayload `json:"directions"`
	} `json:"player_options"`
}

// ParsedScene is the validated result of a narrative generation.
type ParsedScene struct {
	NarrativeText string
	ImagePrompt   string
	Actions       []models.Action
}

// ParseSceneResponse validates a raw model response and converts it into scene
// content. When allowBack is set the response must carry exactly one "back"
// option, and that option's edge is bound to parentID right here so following
// it later is pure traversal. Root responses must not offer "back" at all.
func ParseSceneResponse(raw string, allowBack bool, parentID uuid.NullUUID) (*ParsedScene, error) {
	jsonContent := ExtractJSONContent(raw)
	if jsonContent == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", models.ErrGenerationParse)
	}

	var payload scenePayload
	if err := json.Unmarshal([]byte(jsonContent), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationParse, err)
	}

	if strings.TrimSpace(payload.Story) == "" {
		return nil, fmt.Errorf("%w: empty story text", models.ErrGenerationParse)
	}
	if strings.TrimSpace(payload.SceneDescription) == "" {
		return nil, fmt.Errorf("%w: empty scene description", models.ErrGenerationParse)
	}

	var actions []models.Action
	var backAction *models.Action
	seen := make(map[string]struct{})

	for _, d := range payload.PlayerOptions.Directions {
		direction := strings.ToLower(strings.TrimSpace(d.Direction))
		command := strings.TrimSpace(d.CommandText)
		if direction == "" {
			return nil, fmt.Errorf("%w: option with empty direction", models.ErrGenerationParse)
		}
		if command == "" {
			return nil, fmt.Errorf("%w: option %q has empty command text", models.ErrGenerationParse, direction)
		}
		if len(strings.Fields(command)) > maxCommandWords {
			return nil, fmt.Errorf("%w: command %q exceeds %d words", models.ErrGenerationParse, command, maxCommandWords)
		}
		if _, dup := seen[direction]; dup {
			return nil, fmt.Errorf("%w: duplicate direction %q", models.ErrGenerationParse, direction)
		}
		seen[direction] = struct{}{}

		action := models.Action{
			Direction:      direction,
			CommandText:    command,
			TransitionText: strings.TrimSpace(d.TransitionText),
		}
		if action.IsBack() {
			if backAction != nil {
				return nil, fmt.Errorf("%w: more than one back option", models.ErrGenerationParse)
			}
			action.LeadsTo = parentID
			a := action
			backAction = &a
			continue
		}
		actions = append(actions, action)
	}

	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: no forward options", models.ErrGenerationParse)
	}
	if len(actions) > maxForwardActions {
		return nil, fmt.Errorf("%w: %d forward options, at most %d allowed", models.ErrGenerationParse, len(actions), maxForwardActions)
	}

	if allowBack {
		if backAction == nil {
			return nil, fmt.Errorf("%w: back option is required for a non-root scene", models.ErrGenerationParse)
		}
		if !parentID.Valid {
			return nil, fmt.Errorf("%w: back option without a parent scene", models.ErrGenerationParse)
		}
		actions = append(actions, *backAction)
	} else if backAction != nil {
		return nil, fmt.Errorf("%w: back option is not allowed on the root scene", models.ErrGenerationParse)
	}

	return &ParsedScene{
		NarrativeText: strings.TrimSpace(payload.Story),
		ImagePrompt:   strings.TrimSpace(payload.SceneDescription),
		Actions:       actions,
	}, nil
}
