package models

import "errors"

// Repository errors.
var (
	ErrNotFound      = errors.New("resource not found") // General not found
	ErrStoryNotFound = errors.New("story not found")
	ErrSceneNotFound = errors.New("scene not found")
)

// Turn errors.
var (
	ErrActionNotFound   = errors.New("action not found in scene")
	ErrActionUnresolved = errors.New("action has no bound scene")
	ErrBindConflict     = errors.New("action was bound by a concurrent turn")
	ErrSceneNotSettled  = errors.New("scene narrative is not ready yet")
)

// Generation errors.
var (
	ErrGenerationParse      = errors.New("generation response failed validation")
	ErrAssetGeneration      = errors.New("asset generation failed")
	ErrGenerationInProgress = errors.New("generation is already in progress for this scene")
)

// Common service-level errors.
var (
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
