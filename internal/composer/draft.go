package composer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/perimeter-epitech/area/model"
)

// Stage is a step of the composer wizard.
type Stage string

const (
	StageIdle               Stage = "idle"
	StageActionChosen       Stage = "action_chosen"
	StageActionConfigured   Stage = "action_configured"
	StageReactionChosen     Stage = "reaction_chosen"
	StageReactionConfigured Stage = "reaction_configured"
	StageSubmitting         Stage = "submitting"
	StageCreated            Stage = "created"
	StageFailed             Stage = "failed"
)

var knownStages = map[Stage]bool{
	StageIdle:               true,
	StageActionChosen:       true,
	StageActionConfigured:   true,
	StageReactionChosen:     true,
	StageReactionConfigured: true,
	StageSubmitting:         true,
	StageCreated:            true,
	StageFailed:             true,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return knownStages[s] }

// Flags are the page controls the web client renders from the draft.
type Flags struct {
	ShowNavBar             bool `json:"showNavBar"`
	ShowCancelButton       bool `json:"showCancelButton"`
	ReactionButtonDisabled bool `json:"reactionButtonisDisabled"`
	ShowCreateButton       bool `json:"showCreateButton"`
	ActionIsSelected       bool `json:"actionIsSelected"`
	ReactionIsSelected     bool `json:"reactionIsSelected"`
}

// DefaultFlags is the layout of an empty workflow page.
func DefaultFlags() Flags {
	return Flags{
		ShowNavBar:             true,
		ShowCancelButton:       false,
		ReactionButtonDisabled: true,
		ShowCreateButton:       false,
	}
}

// Draft is an Area under construction.
type Draft struct {
	ID    string `json:"id"`
	Stage Stage  `json:"stage"`
	Flags

	ActionID          uint64             `json:"actionId,omitempty"`
	ActionName        string             `json:"actionName"`
	ActionServiceID   uint64             `json:"actionServiceId,omitempty"`
	ActionServiceName string             `json:"actionServiceName,omitempty"`
	ActionSchema      model.OptionSchema `json:"actionSchema,omitempty"`
	ActionOptions     map[string]any     `json:"actionOptions"`

	ReactionID          uint64             `json:"reactionId,omitempty"`
	ReactionName        string             `json:"reactionName"`
	ReactionServiceID   uint64             `json:"reactionServiceId,omitempty"`
	ReactionServiceName string             `json:"reactionServiceName,omitempty"`
	ReactionSchema      model.OptionSchema `json:"reactionSchema,omitempty"`
	ReactionOptions     map[string]any     `json:"reactionOptions"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	RefreshRate uint64 `json:"refreshRate,omitempty"`

	LastError string    `json:"lastError,omitempty"`
	AreaID    uint64    `json:"areaId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDraft returns an empty draft.
func NewDraft(id string) *Draft {
	return &Draft{
		ID:              id,
		Stage:           StageIdle,
		Flags:           DefaultFlags(),
		ActionOptions:   map[string]any{},
		ReactionOptions: map[string]any{},
	}
}

// Clone returns a deep enough copy for callers to read without racing.
func (d *Draft) Clone() *Draft {
	c := *d
	c.ActionOptions = cloneMap(d.ActionOptions)
	c.ReactionOptions = cloneMap(d.ReactionOptions)
	c.ActionSchema = append(model.OptionSchema(nil), d.ActionSchema...)
	c.ReactionSchema = append(model.OptionSchema(nil), d.ReactionSchema...)
	return &c
}

// Message builds the POST /area body.
func (d *Draft) Message() (model.AreaMessage, error) {
	actionOpt, err := json.Marshal(d.ActionOptions)
	if err != nil {
		return model.AreaMessage{}, fmt.Errorf("composer: encode action options: %w", err)
	}
	reactionOpt, err := json.Marshal(d.ReactionOptions)
	if err != nil {
		return model.AreaMessage{}, fmt.Errorf("composer: encode reaction options: %w", err)
	}
	return model.AreaMessage{
		ActionID:          d.ActionID,
		ActionOption:      actionOpt,
		ReactionID:        d.ReactionID,
		ReactionOption:    reactionOpt,
		Title:             d.Title,
		Description:       d.Description,
		ActionRefreshRate: d.RefreshRate,
	}, nil
}

// checkOptions verifies both option maps against their schemas. A restored
// draft may carry keys its type never declared.
func (d *Draft) checkOptions() error {
	if err := d.ActionSchema.Check(d.ActionOptions); err != nil {
		return err
	}
	return d.ReactionSchema.Check(d.ReactionOptions)
}

// ErrCorruptDraft is returned by DecodeDraft for data that cannot be
// restored.
var ErrCorruptDraft = errors.New("composer: corrupt draft")

// DecodeDraft restores a persisted draft. Option maps that are not JSON
// objects are reset to {}. Drafts saved without a stage get one inferred
// from their selection flags.
func DecodeDraft(data []byte) (*Draft, error) {
	type plain Draft
	aux := struct {
		*plain
		ActionOptions   json.RawMessage `json:"actionOptions"`
		ReactionOptions json.RawMessage `json:"reactionOptions"`
	}{plain: (*plain)(NewDraft(""))}

	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDraft, err)
	}
	d := (*Draft)(aux.plain)
	d.ActionOptions = objectOrEmpty(aux.ActionOptions)
	d.ReactionOptions = objectOrEmpty(aux.ReactionOptions)

	if d.Stage == "" {
		switch {
		case d.ReactionIsSelected:
			d.Stage = StageReactionConfigured
		case d.ActionIsSelected:
			d.Stage = StageActionConfigured
		default:
			d.Stage = StageIdle
		}
	}
	if !d.Stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrCorruptDraft, d.Stage)
	}
	return d, nil
}

// Encode serialises the draft for a DraftStore.
func (d *Draft) Encode() ([]byte, error) {
	return json.Marshal(d)
}

func objectOrEmpty(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
