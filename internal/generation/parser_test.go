package generation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fable-server/internal/models"
)

const validChildResponse = "```json\n" + `{
  "story": "The corridor narrows and the torchlight gutters.",
  "scene_description": "A narrow stone corridor lit by a single torch.",
  "player_options": {
    "directions": [
      {"direction": "North", "command_text": "go north", "transition_text": "You press on into the dark."},
      {"direction": "back", "command_text": "turn back", "transition_text": "You retrace your steps."}
    ]
  }
}` + "\n```"

func TestParseSceneResponse_ChildScene(t *testing.T) {
	parentID := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	parsed, err := ParseSceneResponse(validChildResponse, true, parentID)
	require.NoError(t, err)

	assert.Equal(t, "The corridor narrows and the torchlight gutters.", parsed.NarrativeText)
	assert.Equal(t, "A narrow stone corridor lit by a single torch.", parsed.ImagePrompt)
	require.Len(t, parsed.Actions, 2)

	assert.Equal(t, "north", parsed.Actions[0].Direction, "directions are normalized to lowercase")
	assert.False(t, parsed.Actions[0].LeadsTo.Valid, "forward edges start unbound")

	back := parsed.Actions[1]
	assert.True(t, back.IsBack())
	require.True(t, back.LeadsTo.Valid, "back edge is bound at parse time")
	assert.Equal(t, parentID.UUID, back.LeadsTo.UUID)
}

func TestParseSceneResponse_RootScene(t *testing.T) {
	raw := `{
	  "story": "You wake in a field of tall grass.",
	  "scene_description": "A sunlit field of tall grass under a pale sky.",
	  "player_options": {"directions": [
	    {"direction": "east", "command_text": "follow path", "transition_text": "You follow the worn path."}
	  ]}
	}`

	parsed, err := ParseSceneResponse(raw, false, uuid.NullUUID{})
	require.NoError(t, err)
	require.Len(t, parsed.Actions, 1)
	assert.Equal(t, "east", parsed.Actions[0].Direction)
}

func TestParseSceneResponse_Rejections(t *testing.T) {
	parentID := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	tests := []struct {
		name      string
		raw       string
		allowBack bool
	}{
		{
			name:      "not json at all",
			raw:       "I cannot answer that.",
			allowBack: false,
		},
		{
			name: "empty story",
			raw: `{"story": "", "scene_description": "x",
				"player_options": {"directions": [{"direction": "east", "command_text": "go"}]}}`,
			allowBack: false,
		},
		{
			name: "missing back on child",
			raw: `{"story": "s", "scene_description": "d",
				"player_options": {"directions": [{"direction": "east", "command_text": "go"}]}}`,
			allowBack: true,
		},
		{
			name: "back offered on root",
			raw: `{"story": "s", "scene_description": "d",
				"player_options": {"directions": [
					{"direction": "east", "command_text": "go"},
					{"direction": "back", "command_text": "turn back"}]}}`,
			allowBack: false,
		},
		{
			name: "only a back option",
			raw: `{"story": "s", "scene_description": "d",
				"player_options": {"directions": [{"direction": "back", "command_text": "turn back"}]}}`,
			allowBack: true,
		},
		{
			name: "too many forward options",
			raw: `{"story": "s", "scene_description": "d",
				"player_options": {"directions": [
					{"direction": "north", "command_text": "go"},
					{"direction": "south", "command_text": "go"},
					{"direction": "east", "command_text": "go"},
					{"direction": "west", "command_text": "go"},
					{"direction": "back", "command_text": "turn back"}]}}`,
			allowBack: true,
		},
		{
			name: "command too long",
			raw: `{"story": "s", "scene_description": "d",
				"player_options": {"directions": [
					{"direction": "east", "command_text": "walk very far east now"}]}}`,
			allowBack: false,
		},
		{
			name: "duplicate direction",
			raw: `{"story": "s", "scene_description": "d",
				"player_options": {"directions": [
					{"direction": "east", "command_text": "go"},
					{"direction": "East", "command_text": "run"}]}}`,
			allowBack: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSceneResponse(tt.raw, tt.allowBack, parentID)
			assert.ErrorIs(t, err, models.ErrGenerationParse)
		})
	}
}

func TestExtractJSONContent(t *testing.T) {
	t.Run("bare json", func(t *testing.T) {
		assert.Equal(t, `{"a":1}`, ExtractJSONContent(`{"a":1}`))
	})

	t.Run("json fence", func(t *testing.T) {
		raw := "Here you go:\n```json\n{\"a\": 1}\n```\nHope that helps!"
		assert.Equal(t, `{"a": 1}`, ExtractJSONContent(raw))
	})

	t.Run("anonymous fence", func(t *testing.T) {
		raw := "```\n{\"a\": 1}\n```"
		assert.Equal(t, `{"a": 1}`, ExtractJSONContent(raw))
	})

	t.Run("json buried in prose", func(t *testing.T) {
		raw := `Sure! The object is {"a": {"b": 2}} as requested.`
		assert.Equal(t, `{"a": {"b": 2}}`, ExtractJSONContent(raw))
	})

	t.Run("truncated object is balanced", func(t *testing.T) {
		raw := `{"a": {"b": 2}`
		assert.Equal(t, `{"a": {"b": 2}}`, ExtractJSONContent(raw))
	})

	t.Run("nothing json-like", func(t *testing.T) {
		assert.Equal(t, "", ExtractJSONContent("no structured data here"))
	})
}
