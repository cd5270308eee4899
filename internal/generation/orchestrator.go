package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fable-server/internal/models"
	"fable-server/internal/repository"
	"fable-server/internal/storage"
)

// Notifier pushes scene updates to interested listeners. Implementations must
// not block the generation pipeline.
type Notifier interface {
	SceneUpdated(ctx context.Context, scene *models.Scene)
}

// Orchestrator drives scene content generation: narrative first, then the
// image and the narration clip in parallel. Each phase is at-most-once per
// scene; concurrent callers either join the result or see the work in flight.
type Orchestrator struct {
	narrative NarrativeClient
	image     ImageClient
	speech    SpeechClient
	scenes    repository.SceneRepository
	assets    storage.ObjectStore
	guard     AssetGuard
	notifier  Notifier
	logger    *zap.Logger

	maxAssetAttempts int
	waitTimeout      time.Duration
	waitPoll         time.Duration
}

// OrchestratorOptions bound the waiting and backfill behavior.
type OrchestratorOptions struct {
	// MaxAssetAttempts caps asset backfill rounds. Once exhausted the scene
	// settles as READY even if an asset is still missing.
	MaxAssetAttempts int
	// NarrativeWaitTimeout caps how long a losing caller waits for the winner's
	// narrative to land.
	NarrativeWaitTimeout time.Duration
	// NarrativeWaitPoll is the store polling interval while waiting.
	NarrativeWaitPoll time.Duration
}

// NewOrchestrator wires the generation pipeline. notifier may be nil.
func NewOrchestrator(
	narrative NarrativeClient,
	image ImageClient,
	speech SpeechClient,
	scenes repository.SceneRepository,
	assets storage.ObjectStore,
	guard AssetGuard,
	notifier Notifier,
	opts OrchestratorOptions,
	logger *zap.Logger,
) *Orchestrator {
	if opts.MaxAssetAttempts <= 0 {
		opts.MaxAssetAttempts = 3
	}
	if opts.NarrativeWaitTimeout <= 0 {
		opts.NarrativeWaitTimeout = 90 * time.Second
	}
	if opts.NarrativeWaitPoll <= 0 {
		opts.NarrativeWaitPoll = 250 * time.Millisecond
	}
	return &Orchestrator{
		narrative:        narrative,
		image:            image,
		speech:           speech,
		scenes:           scenes,
		assets:           assets,
		guard:            guard,
		notifier:         notifier,
		logger:           logger.Named("Orchestrator"),
		maxAssetAttempts: opts.MaxAssetAttempts,
		waitTimeout:      opts.NarrativeWaitTimeout,
		waitPoll:         opts.NarrativeWaitPoll,
	}
}

func narrativeGuardKey(sceneID uuid.UUID) string { return "narrative:" + sceneID.String() }
func assetsGuardKey(sceneID uuid.UUID) string    { return "assets:" + sceneID.String() }

// EnsureNarrative makes sure the scene has narrative text and actions. Exactly
// one caller runs the chat model; concurrent callers block until the winner's
// result lands in the store, then return it. The returned scene always has
// narrative content.
func (o *Orchestrator) EnsureNarrative(ctx context.Context, sceneID uuid.UUID, req *models.GenerationRequest) (*models.Scene, error) {
	scene, err := o.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if scene.HasNarrative() {
		return scene, nil
	}

	acquired, err := o.guard.Acquire(ctx, narrativeGuardKey(sceneID))
	if err != nil {
		return nil, err
	}
	if !acquired {
		settled, takenOver, err := o.waitForNarrative(ctx, sceneID)
		if err != nil {
			return nil, err
		}
		if !takenOver {
			return settled, nil
		}
		// The previous holder released without producing a narrative, and this
		// waiter grabbed the guard. Run the generation itself.
		o.logger.Info("Taking over narrative generation", zap.String("sceneID", sceneID.String()))
	}
	defer func() {
		if err := o.guard.Release(context.WithoutCancel(ctx), narrativeGuardKey(sceneID)); err != nil {
			o.logger.Warn("Failed to release narrative guard", zap.String("sceneID", sceneID.String()), zap.Error(err))
		}
	}()

	// The guard was free, but the previous holder may have finished between our
	// read and the acquire.
	scene, err = o.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if scene.HasNarrative() {
		return scene, nil
	}

	if err := o.scenes.SetState(ctx, sceneID, models.StateTextPending); err != nil {
		return nil, err
	}

	raw, err := o.narrative.GenerateNarrative(ctx, req.SystemPrompt, req.UserPayload)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseSceneResponse(raw, req.AllowBack, scene.ParentSceneID)
	if err != nil {
		o.logger.Error("Narrative response failed validation",
			zap.String("sceneID", sceneID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if err := o.scenes.UpdateContent(ctx, sceneID, models.SceneContentUpdate{
		NarrativeText: parsed.NarrativeText,
		ImagePrompt:   parsed.ImagePrompt,
		Actions:       parsed.Actions,
		State:         models.StateTextReady,
	}); err != nil {
		return nil, err
	}

	scene, err = o.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Narrative generated",
		zap.String("sceneID", sceneID.String()),
		zap.Int("actions", len(scene.Actions)),
	)
	o.notifySceneUpdated(ctx, scene)
	return scene, nil
}

// waitForNarrative polls the store until the in-flight narrative lands. Each
// tick it also re-attempts the guard: if the holder failed and released without
// a result, the waiter that wins the guard takes over the generation and
// returns takenOver=true with the guard held.
func (o *Orchestrator) waitForNarrative(ctx context.Context, sceneID uuid.UUID) (scene *models.Scene, takenOver bool, err error) {
	deadline := time.NewTimer(o.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.waitPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			return nil, false, fmt.Errorf("%w: scene %s", models.ErrGenerationInProgress, sceneID)
		case <-ticker.C:
			scene, err := o.scenes.GetByID(ctx, sceneID)
			if err != nil {
				return nil, false, err
			}
			if scene.HasNarrative() {
				return scene, false, nil
			}
			acquired, err := o.guard.Acquire(ctx, narrativeGuardKey(sceneID))
			if err != nil {
				return nil, false, err
			}
			if acquired {
				return nil, true, nil
			}
		}
	}
}

// EnsureAssets generates whichever of the scene's image and narration clip is
// still missing. The two run in parallel and land independently, so one
// failing never discards the other. A scene settles as READY when both assets
// exist or the backfill budget is exhausted. Safe to call repeatedly; only one
// round runs at a time per scene.
func (o *Orchestrator) EnsureAssets(ctx context.Context, sceneID uuid.UUID) error {
	scene, err := o.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return err
	}
	if !scene.HasNarrative() {
		return fmt.Errorf("%w: scene %s", models.ErrSceneNotSettled, sceneID)
	}
	if scene.State == models.StateReady {
		return nil
	}
	if scene.AssetsComplete() {
		return o.settleScene(ctx, sceneID)
	}

	acquired, err := o.guard.Acquire(ctx, assetsGuardKey(sceneID))
	if err != nil {
		return err
	}
	if !acquired {
		// Another round is in flight; its results will land on their own.
		return nil
	}
	defer func() {
		if err := o.guard.Release(context.WithoutCancel(ctx), assetsGuardKey(sceneID)); err != nil {
			o.logger.Warn("Failed to release assets guard", zap.String("sceneID", sceneID.String()), zap.Error(err))
		}
	}()

	if err := o.scenes.SetState(ctx, sceneID, models.StateAssetsPending); err != nil {
		return err
	}

	var (
		wg                  sync.WaitGroup
		imageErr, speechErr error
	)
	if scene.ImageAssetRef == "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			imageErr = o.generateImage(ctx, scene)
		}()
	}
	if scene.AudioAssetRef == "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			speechErr = o.generateSpeech(ctx, scene)
		}()
	}
	wg.Wait()

	attempts := scene.AssetAttempts + 1
	if err := o.scenes.UpdateAssets(ctx, sceneID, models.SceneAssetUpdate{AssetAttempts: &attempts}); err != nil {
		return err
	}

	updated, err := o.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return err
	}
	if updated.AssetsComplete() || updated.AssetAttempts >= o.maxAssetAttempts {
		if !updated.AssetsComplete() {
			o.logger.Warn("Asset budget exhausted, settling scene with missing assets",
				zap.String("sceneID", sceneID.String()),
				zap.Int("attempts", updated.AssetAttempts),
				zap.Bool("hasImage", updated.ImageAssetRef != ""),
				zap.Bool("hasAudio", updated.AudioAssetRef != ""),
			)
		}
		if err := o.settleScene(ctx, sceneID); err != nil {
			return err
		}
	}
	if imageErr != nil {
		return fmt.Errorf("%w: %w", models.ErrAssetGeneration, imageErr)
	}
	if speechErr != nil {
		return fmt.Errorf("%w: %w", models.ErrAssetGeneration, speechErr)
	}
	return nil
}

func (o *Orchestrator) settleScene(ctx context.Context, sceneID uuid.UUID) error {
	if err := o.scenes.SetState(ctx, sceneID, models.StateReady); err != nil {
		return err
	}
	scene, err := o.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return err
	}
	o.notifySceneUpdated(ctx, scene)
	return nil
}

func (o *Orchestrator) generateImage(ctx context.Context, scene *models.Scene) error {
	log := o.logger.With(zap.String("sceneID", scene.ID.String()))

	data, contentType, err := o.image.GenerateImage(ctx, scene.ImagePrompt)
	if err != nil {
		log.Error("Image generation failed", zap.Error(err))
		return err
	}

	key := fmt.Sprintf("scene_%s_image", scene.ID)
	ref, err := o.assets.Put(ctx, key, data, contentType)
	if err != nil {
		log.Error("Failed to store image asset", zap.Error(err))
		return err
	}
	assetBytesStored.WithLabelValues(kindImage).Add(float64(len(data)))

	if err := o.scenes.UpdateAssets(ctx, scene.ID, models.SceneAssetUpdate{ImageAssetRef: &ref}); err != nil {
		log.Error("Failed to persist image asset ref", zap.Error(err))
		return err
	}
	log.Info("Image asset landed", zap.String("ref", ref))
	if updated, err := o.scenes.GetByID(ctx, scene.ID); err == nil {
		o.notifySceneUpdated(ctx, updated)
	}
	return nil
}

func (o *Orchestrator) generateSpeech(ctx context.Context, scene *models.Scene) error {
	log := o.logger.With(zap.String("sceneID", scene.ID.String()))

	data, contentType, err := o.speech.GenerateSpeech(ctx, scene.NarrativeText)
	if err != nil {
		log.Error("Speech generation failed", zap.Error(err))
		return err
	}

	key := fmt.Sprintf("scene_%s_audio", scene.ID)
	ref, err := o.assets.Put(ctx, key, data, contentType)
	if err != nil {
		log.Error("Failed to store audio asset", zap.Error(err))
		return err
	}
	assetBytesStored.WithLabelValues(kindSpeech).Add(float64(len(data)))

	if err := o.scenes.UpdateAssets(ctx, scene.ID, models.SceneAssetUpdate{AudioAssetRef: &ref}); err != nil {
		log.Error("Failed to persist audio asset ref", zap.Error(err))
		return err
	}
	log.Info("Audio asset landed", zap.String("ref", ref))
	if updated, err := o.scenes.GetByID(ctx, scene.ID); err == nil {
		o.notifySceneUpdated(ctx, updated)
	}
	return nil
}

func (o *Orchestrator) notifySceneUpdated(ctx context.Context, scene *models.Scene) {
	if o.notifier == nil {
		return
	}
	o.notifier.SceneUpdated(ctx, scene)
}
