// Package prompt builds structured generation requests from story and scene
// state. Building is pure: no I/O, no persistence, same input same output
// (modulo the tokenizer cache).
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"fable-server/internal/models"
)

const (
	// SceneDescriptionBudget caps the scene description so it stays usable as
	// a single-image illustration prompt.
	SceneDescriptionBudget = 400

	// previousNarrativeTokenBudget caps how much of the previous scene's text
	// is embedded into the next request.
	previousNarrativeTokenBudget = 600

	// contextEncoding is the BPE used for budgeting the embedded context.
	contextEncoding = "cl100k_base"
)

const systemPromptTemplate = `You are %s, writing an interactive %s story in the voice of %s. The content must be suitable for the age rating "%s".

Narrate in first person. The narrator is invisible to the player and never addresses them directly.

Respond with a single JSON object, no prose around it, in exactly this shape:
{
  "story": "<the narrative text for this scene>",
  "scene_description": "<a visual description of this scene in at most %d characters, suitable as a prompt for a single illustration>",
  "player_options": {
    "directions": [
      {"direction": "<an exit or direction mentioned in the narrative>", "command_text": "<at most 3 words>", "transition_text": "<one or two sentences phrased as the player's own action, e.g. \"You move...\">"}
    ]
  }
}

Rules for player_options:
- Offer between one and three forward-moving directions.
- Every direction must be lexically grounded in the narrative text; never invent an exit the text does not mention.%s`

const backRule = `
- Additionally include exactly one option with direction "back" that returns the player to the previous scene.`

const rootRule = `
- This is the opening scene: never offer a "back" option.`

// Builder turns story state into generation requests. The zero value is not
// usable; call NewBuilder.
type Builder struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewBuilder returns a Builder. The tokenizer is loaded lazily on first use so
// construction never fails.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) tokenizer() *tiktoken.Tiktoken {
	b.once.Do(func() {
		enc, err := tiktoken.GetEncoding(contextEncoding)
		if err == nil {
			b.encoding = enc
		}
	})
	return b.encoding
}

// trimToTokenBudget cuts text down to at most previousNarrativeTokenBudget
// tokens. Without a tokenizer it falls back to a rune-count heuristic of four
// runes per token.
func (b *Builder) trimToTokenBudget(text string) string {
	if text == "" {
		return ""
	}
	if enc := b.tokenizer(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= previousNarrativeTokenBudget {
			return text
		}
		return enc.Decode(tokens[len(tokens)-previousNarrativeTokenBudget:])
	}
	runes := []rune(text)
	limit := previousNarrativeTokenBudget * 4
	if len(runes) <= limit {
		return text
	}
	return string(runes[len(runes)-limit:])
}

// BuildScenePrompt assembles the generation request for a scene.
//
// For the root scene (no parent) the seed is the story's configured opening
// description and the request forbids a back option. For any other scene the
// seed embeds the previous scene's narrative and the chosen command, and the
// request demands exactly one back option.
func (b *Builder) BuildScenePrompt(story *models.Story, scene *models.Scene, previousNarrative, chosenCommand string) (*models.GenerationRequest, error) {
	if story == nil || scene == nil {
		return nil, fmt.Errorf("%w: story and scene are required", models.ErrInvalidInput)
	}

	isRoot := !scene.ParentSceneID.Valid
	ctx := models.ScenePromptContext{
		AuthorName:  story.Persona.AuthorName,
		ArtistName:  story.Persona.ArtistName,
		WriterVoice: story.Persona.WriterVoice,
		Genre:       story.Genre,
		AgeRating:   story.AgeRating,
		TimeOfDay:   string(story.TimeOfDay),
		Weather:     int(story.Weather),
	}

	optionRule := backRule
	if isRoot {
		optionRule = rootRule
		ctx.SceneSeed = story.OpeningDescription
	} else {
		if strings.TrimSpace(previousNarrative) == "" {
			return nil, fmt.Errorf("%w: non-root scene requires the previous narrative", models.ErrInvalidInput)
		}
		if strings.TrimSpace(chosenCommand) == "" {
			return nil, fmt.Errorf("%w: non-root scene requires the chosen command", models.ErrInvalidInput)
		}
		ctx.PreviousNarrative = b.trimToTokenBudget(previousNarrative)
		ctx.ChosenCommand = chosenCommand
		ctx.SceneSeed = fmt.Sprintf("Continue the story. The player just chose to %q.", chosenCommand)
	}

	payload, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt context: %w", err)
	}

	return &models.GenerationRequest{
		SystemPrompt: fmt.Sprintf(systemPromptTemplate,
			story.Persona.AuthorName,
			story.Genre,
			story.Persona.WriterVoice,
			story.AgeRating,
			SceneDescriptionBudget,
			optionRule,
		),
		UserPayload: string(payload),
		AllowBack:   !isRoot,
	}, nil
}
