package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/perimeter-epitech/area/internal/composer"
	"github.com/perimeter-epitech/area/model"
)

// Catalog is the part of the Area API the workflow page reads.
// *backend.Client implements it.
type Catalog interface {
	composer.Catalog
	Services(ctx context.Context, token string) ([]model.Service, error)
}

// draftID keys the composer draft. Each browser session edits one draft.
func draftID(r *http.Request) string {
	return model.MustRequestContext(r.Context()).SessionID
}

func handleComposerSnapshot(c *composer.Composer, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.Restore(r.Context(), draftID(r))
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

type selectionBody struct {
	ServiceID uint64 `json:"serviceId"`
	TypeID    uint64 `json:"typeId"`
}

// handleComposerSelect picks an action (reaction=false) or a reaction.
func handleComposerSelect(c *composer.Composer, cat Catalog, sw *sessionWriter, reaction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		if !rctx.Authenticated() {
			sw.fail(w, r, model.NewUnauthorizedError("Unauthorized"))
			return
		}
		var body selectionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		var missing []string
		if body.ServiceID == 0 {
			missing = append(missing, "serviceId")
		}
		if body.TypeID == 0 {
			missing = append(missing, "typeId")
		}
		if len(missing) > 0 {
			WriteMissingParameters(w, missing...)
			return
		}

		d, err := c.Pick(r.Context(), draftID(r), cat, rctx.Token, body.ServiceID, body.TypeID, reaction)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// handleComposerConfigure stores the options of the chosen action or
// reaction. Values may be sent as JSON strings, numbers or booleans.
func handleComposerConfigure(c *composer.Composer, sw *sessionWriter, reaction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Options map[string]json.RawMessage `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		values, err := optionStrings(body.Options)
		if err != nil {
			WriteError(w, err)
			return
		}

		configure := c.ConfigureAction
		if reaction {
			configure = c.ConfigureReaction
		}
		d, err := configure(r.Context(), draftID(r), values)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

func handleComposerDescribe(c *composer.Composer, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			RefreshRate uint64 `json:"refresh_rate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		d, err := c.Describe(r.Context(), draftID(r), body.Title, body.Description, body.RefreshRate)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

func handleComposerSubmit(c *composer.Composer, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		if !rctx.Authenticated() {
			WriteMissingParameters(w, "token")
			return
		}
		d, area, err := c.Submit(r.Context(), draftID(r), rctx.Token)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]any{"area": area, "draft": d})
	}
}

func handleComposerReset(c *composer.Composer, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.Reset(r.Context(), draftID(r))
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// optionStrings flattens JSON option values to the text a form field
// would hold, for the composer to coerce against the schema.
func optionStrings(in map[string]json.RawMessage) (map[string]string, error) {
	out := make(map[string]string, len(in))
	var details []model.FieldError
	for k, raw := range in {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			out[k] = n.String()
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			out[k] = strconv.FormatBool(b)
			continue
		}
		details = append(details, model.FieldError{Field: k, Code: "INVALID_TYPE", Message: "must be a string, number or boolean"})
	}
	if len(details) > 0 {
		return nil, model.NewValidationError(details)
	}
	return out, nil
}
