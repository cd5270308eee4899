package models

// GenerationRequest is the structured request handed to the narrative
// generator: a system prompt carrying the output-shape contract and a JSON
// user payload carrying the story context. It is produced by the prompt
// builder and never edited afterwards.
type GenerationRequest struct {
	SystemPrompt string `json:"systemPrompt"`
	UserPayload  string `json:"userPayload"`
	// AllowBack records whether the generated scene is expected to carry the
	// synthesized back action. Root scenes never do.
	AllowBack bool `json:"allowBack"`
}

// ScenePromptContext is the user payload serialized into a GenerationRequest.
type ScenePromptContext struct {
	AuthorName        string `json:"author_name"`
	ArtistName        string `json:"artist_name"`
	WriterVoice       string `json:"writer_voice"`
	Genre             string `json:"genre"`
	AgeRating         string `json:"age_rating"`
	SceneSeed         string `json:"scene_seed"`
	PreviousNarrative string `json:"previous_narrative,omitempty"`
	ChosenCommand     string `json:"chosen_command,omitempty"`
	TimeOfDay         string `json:"time_of_day"`
	Weather           int    `json:"weather"`
}
