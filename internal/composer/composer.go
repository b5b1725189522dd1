// Package composer is the Area creation wizard. A Draft moves through
// Idle → ActionChosen → ActionConfigured → ReactionChosen →
// ReactionConfigured → Submitting → Created or Failed, and is persisted
// after every step so a reload resumes where the user left off.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/model"
)

// AreaCreator is the backend call Submit makes.
type AreaCreator interface {
	CreateArea(ctx context.Context, token string, msg model.AreaMessage) (model.Area, error)
}

// Composer applies wizard transitions to drafts held in a DraftStore.
type Composer struct {
	store   DraftStore
	guard   SubmitGuard
	backend AreaCreator
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// mu serialises load-modify-save within this process. Submit drops it
	// while the backend call runs; the guard covers that window.
	mu sync.Mutex
}

// New builds a composer. metrics and logger may be nil.
func New(store DraftStore, guard SubmitGuard, backend AreaCreator, metrics *observability.Metrics, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		store:   store,
		guard:   guard,
		backend: backend,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Restore loads a draft. A missing draft starts at Idle; a corrupt one is
// deleted and also starts at Idle.
func (c *Composer) Restore(ctx context.Context, id string) (*Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, result, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordComposerRestore(result)
	return d.Clone(), nil
}

// Snapshot returns the current draft without recording a restore.
func (c *Composer) Snapshot(ctx context.Context, id string) (*Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, _, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// SelectAction picks the trigger. Choosing again, from any later stage,
// discards the previous action's options and any reaction.
func (c *Composer) SelectAction(ctx context.Context, id string, svc model.Service, typ model.Type) (*Draft, error) {
	schema, err := typ.Schema()
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("action %q has an unreadable option schema", typ.Name))
	}
	return c.mutate(ctx, id, []Stage{StageIdle, StageActionChosen, StageActionConfigured, StageReactionChosen, StageReactionConfigured, StageFailed}, StageActionChosen,
		func(d *Draft) error {
			clearReaction(d)
			d.ActionID = typ.ID
			d.ActionName = typ.Name
			d.ActionServiceID = svc.ID
			d.ActionServiceName = svc.Name
			d.ActionSchema = schema
			d.ActionOptions = map[string]any{}
			d.ActionIsSelected = false
			d.ShowNavBar = false
			d.ShowCancelButton = true
			return nil
		})
}

// ConfigureAction validates values against the action's schema and stores
// them over the schema's example values.
func (c *Composer) ConfigureAction(ctx context.Context, id string, values map[string]string) (*Draft, error) {
	return c.mutate(ctx, id, []Stage{StageActionChosen, StageActionConfigured}, StageActionConfigured,
		func(d *Draft) error {
			opts, err := configure(d.ActionSchema, values)
			if err != nil {
				return err
			}
			d.ActionOptions = opts
			d.ActionIsSelected = true
			d.ReactionButtonDisabled = false
			return nil
		})
}

// SelectReaction picks the effect. connected reports whether the user holds
// a token for svc; OAuth services cannot be chosen without one.
func (c *Composer) SelectReaction(ctx context.Context, id string, svc model.Service, typ model.Type, connected bool) (*Draft, error) {
	if svc.OAuth && !connected {
		return nil, model.NewValidationError([]model.FieldError{{
			Field:   "service",
			Code:    "NOT_CONNECTED",
			Message: fmt.Sprintf("connect %s before using it as a reaction", svc.Name),
		}})
	}
	schema, err := typ.Schema()
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("reaction %q has an unreadable option schema", typ.Name))
	}
	return c.mutate(ctx, id, []Stage{StageActionConfigured, StageReactionChosen, StageReactionConfigured, StageFailed}, StageReactionChosen,
		func(d *Draft) error {
			d.ReactionID = typ.ID
			d.ReactionName = typ.Name
			d.ReactionServiceID = svc.ID
			d.ReactionServiceName = svc.Name
			d.ReactionSchema = schema
			d.ReactionOptions = map[string]any{}
			d.ReactionIsSelected = false
			d.ShowCreateButton = false
			return nil
		})
}

// ConfigureReaction validates and stores the reaction's options.
func (c *Composer) ConfigureReaction(ctx context.Context, id string, values map[string]string) (*Draft, error) {
	return c.mutate(ctx, id, []Stage{StageReactionChosen, StageReactionConfigured}, StageReactionConfigured,
		func(d *Draft) error {
			opts, err := configure(d.ReactionSchema, values)
			if err != nil {
				return err
			}
			d.ReactionOptions = opts
			d.ReactionIsSelected = true
			d.ReactionButtonDisabled = false
			d.ShowCreateButton = true
			return nil
		})
}

// Describe sets the title, description and refresh rate. It does not move
// the draft to another stage.
func (c *Composer) Describe(ctx context.Context, id, title, description string, refreshRate uint64) (*Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, _, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Stage == StageSubmitting {
		return nil, model.NewInvalidTransitionError("cannot edit a draft while it is being submitted")
	}
	d.Title = strings.TrimSpace(title)
	d.Description = strings.TrimSpace(description)
	d.RefreshRate = refreshRate
	if err := c.save(ctx, d); err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Submit sends exactly one POST /area. A concurrent Submit for the same
// draft fails with ErrSubmissionInFlight. On success the draft is deleted
// and the returned draft is in Created with default flags; on failure the
// draft is kept in Failed and the backend error is returned.
func (c *Composer) Submit(ctx context.Context, id, bearer string) (*Draft, model.Area, error) {
	ctx, span := observability.StartSpan(ctx, "composer.submit", observability.AttrDraftID.String(id))
	d, area, err := c.submit(ctx, id, bearer)
	if d != nil {
		span.SetAttributes(observability.AttrStage.String(string(d.Stage)))
	}
	if area.ID != 0 {
		span.SetAttributes(observability.AttrAreaID.Int64(int64(area.ID)))
	}
	observability.EndSpanWithError(span, err)
	return d, area, err
}

func (c *Composer) submit(ctx context.Context, id, bearer string) (*Draft, model.Area, error) {
	release, err := c.guard.Acquire(ctx, FormatGuardKey(id))
	if err != nil {
		return nil, model.Area{}, err
	}
	defer release()

	c.mu.Lock()
	d, _, err := c.load(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return nil, model.Area{}, err
	}
	switch d.Stage {
	case StageReactionConfigured, StageFailed:
	case StageSubmitting:
		// Left behind by a submission that died holding the lock. Until
		// that lock would have expired the submission may still be live.
		if c.now().Sub(d.UpdatedAt) < c.guard.TTL() {
			c.mu.Unlock()
			return nil, model.Area{}, ErrSubmissionInFlight()
		}
	default:
		c.mu.Unlock()
		return nil, model.Area{}, invalidTransition(d.Stage, StageSubmitting)
	}
	if d.ActionID == 0 || d.ReactionID == 0 {
		c.mu.Unlock()
		return nil, model.Area{}, model.NewInvalidTransitionError("choose an action and a reaction before submitting")
	}
	if missing := missingDescription(d); len(missing) > 0 {
		c.mu.Unlock()
		return nil, model.Area{}, model.NewMissingParametersError(missing...)
	}
	if err := d.checkOptions(); err != nil {
		c.mu.Unlock()
		return nil, model.Area{}, err
	}
	msg, err := d.Message()
	if err != nil {
		c.mu.Unlock()
		return nil, model.Area{}, err
	}
	d.Stage = StageSubmitting
	d.LastError = ""
	if err := c.save(ctx, d); err != nil {
		c.mu.Unlock()
		return nil, model.Area{}, err
	}
	c.mu.Unlock()
	c.metrics.RecordComposerTransition(string(StageSubmitting))

	start := c.now()
	area, callErr := c.backend.CreateArea(ctx, bearer, msg)
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if callErr != nil {
		c.metrics.RecordComposerSubmission("failed", elapsed)
		d.Stage = StageFailed
		d.LastError = callErr.Error()
		if env, ok := model.AsEnvelope(callErr); ok {
			d.LastError = env.Message
		}
		if err := c.save(ctx, d); err != nil {
			c.logger.Error("failed to persist failed draft", zap.String("draft_id", id), zap.Error(err))
		}
		c.metrics.RecordComposerTransition(string(StageFailed))
		return d.Clone(), model.Area{}, callErr
	}

	c.metrics.RecordComposerSubmission("created", elapsed)
	if err := c.store.Delete(ctx, id); err != nil {
		c.logger.Error("failed to delete submitted draft", zap.String("draft_id", id), zap.Error(err))
	}
	created := NewDraft(id)
	created.Stage = StageCreated
	created.AreaID = area.ID
	c.metrics.RecordComposerTransition(string(StageCreated))
	observability.RequestLogger(ctx, c.logger).Info("area created",
		zap.Uint64("area_id", area.ID),
		zap.String("draft_id", id),
	)
	return created, area, nil
}

// Reset discards the draft.
func (c *Composer) Reset(ctx context.Context, id string) (*Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, _, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Stage == StageSubmitting {
		return nil, model.NewInvalidTransitionError("cannot reset a draft while it is being submitted")
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("composer: reset: %w", err)
	}
	c.metrics.RecordComposerTransition(string(StageIdle))
	return NewDraft(id), nil
}

// HealthCheck reports draft store health.
func (c *Composer) HealthCheck(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}

func (c *Composer) mutate(ctx context.Context, id string, from []Stage, to Stage, apply func(*Draft) error) (*Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, _, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stageIn(d.Stage, from) {
		return nil, invalidTransition(d.Stage, to)
	}
	if err := apply(d); err != nil {
		return nil, err
	}
	d.Stage = to
	if err := c.save(ctx, d); err != nil {
		return nil, err
	}
	c.metrics.RecordComposerTransition(string(to))
	return d.Clone(), nil
}

// load returns the draft and how it was obtained: "found", "new" or
// "corrupt". Callers hold c.mu.
func (c *Composer) load(ctx context.Context, id string) (*Draft, string, error) {
	data, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrDraftNotFound) {
		return NewDraft(id), "new", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("composer: load draft: %w", err)
	}

	d, err := DecodeDraft(data)
	if err != nil {
		c.logger.Warn("discarding corrupt draft", zap.String("draft_id", id), zap.Error(err))
		if delErr := c.store.Delete(ctx, id); delErr != nil {
			return nil, "", fmt.Errorf("composer: delete corrupt draft: %w", delErr)
		}
		return NewDraft(id), "corrupt", nil
	}
	d.ID = id
	return d, "found", nil
}

func (c *Composer) save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = c.now().UTC()
	data, err := d.Encode()
	if err != nil {
		return fmt.Errorf("composer: encode draft: %w", err)
	}
	if err := c.store.Save(ctx, d.ID, data); err != nil {
		return fmt.Errorf("composer: save draft: %w", err)
	}
	return nil
}

// configure coerces values and lays them over the schema's examples.
func configure(schema model.OptionSchema, values map[string]string) (map[string]any, error) {
	coerced, err := schema.Coerce(values)
	if err != nil {
		return nil, err
	}
	opts := schema.Defaults()
	for k, v := range coerced {
		opts[k] = v
	}
	return opts, nil
}

func clearReaction(d *Draft) {
	d.ReactionID = 0
	d.ReactionName = ""
	d.ReactionServiceID = 0
	d.ReactionServiceName = ""
	d.ReactionSchema = nil
	d.ReactionOptions = map[string]any{}
	d.ReactionIsSelected = false
	d.ReactionButtonDisabled = true
	d.ShowCreateButton = false
}

func missingDescription(d *Draft) []string {
	var missing []string
	if d.Title == "" {
		missing = append(missing, "title")
	}
	if d.Description == "" {
		missing = append(missing, "description")
	}
	return missing
}

func stageIn(s Stage, set []Stage) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func invalidTransition(from, to Stage) error {
	return model.NewInvalidTransitionError(fmt.Sprintf("cannot move from %s to %s", from, to))
}
