package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"fable-server/internal/generation"
	"fable-server/internal/models"
)

// SceneUpdatePayload is the message shape pushed on every scene update.
type SceneUpdatePayload struct {
	Type  string        `json:"type"`
	Scene *models.Scene `json:"scene"`
}

// SceneUpdateType is the payload type tag for scene updates.
const SceneUpdateType = "scene_updated"

var _ generation.Notifier = (*SceneNotifier)(nil)

// SceneNotifier fans scene updates out to websocket clients and, when a
// broker is configured, to RabbitMQ. Delivery is best effort: a failed push
// never fails the generation that triggered it.
type SceneNotifier struct {
	hub       *Hub
	publisher *RabbitPublisher
	logger    *zap.Logger
}

// NewSceneNotifier wires the notifier. publisher may be nil.
func NewSceneNotifier(hub *Hub, publisher *RabbitPublisher, logger *zap.Logger) *SceneNotifier {
	return &SceneNotifier{
		hub:       hub,
		publisher: publisher,
		logger:    logger.Named("SceneNotifier"),
	}
}

// SceneUpdated pushes the scene's current state to all listeners.
func (n *SceneNotifier) SceneUpdated(ctx context.Context, scene *models.Scene) {
	body, err := json.Marshal(SceneUpdatePayload{Type: SceneUpdateType, Scene: scene})
	if err != nil {
		n.logger.Error("Failed to marshal scene update", zap.Error(err))
		return
	}

	n.hub.Broadcast(scene.StoryID, body)

	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, body); err != nil {
			n.logger.Warn("Failed to publish scene update",
				zap.String("sceneID", scene.ID.String()),
				zap.Error(err),
			)
		}
	}
}
