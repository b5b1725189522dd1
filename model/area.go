package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Service is a third-party integration owned by the backend.
type Service struct {
	ID          uint64 `json:"id,omitempty"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
	OAuth       bool   `json:"oauth"`
}

// Type is an Action or a Reaction offered by a service. Option holds the
// raw schema as the backend sent it; use ParseOptionSchema to read it.
type Type struct {
	ID          uint64          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Option      json.RawMessage `json:"option,omitempty"`

	// Actions reference their service under "service_id", reactions
	// under "service".
	ServiceRef *Service `json:"service_id,omitempty"`
	Service    *Service `json:"service,omitempty"`
}

// Owner returns the service this type belongs to, whichever key carried it.
func (t *Type) Owner() *Service {
	if t.Service != nil {
		return t.Service
	}
	return t.ServiceRef
}

// Schema parses the type's option schema.
func (t *Type) Schema() (OptionSchema, error) {
	return ParseOptionSchema(t.Option)
}

// Token marks that the current user has connected a service.
type Token struct {
	ID      uint64   `json:"id,omitempty"`
	Service *Service `json:"service,omitempty"`

	// The backend also sends the service under "service_id".
	ServiceRef *Service `json:"service_id,omitempty"`
}

// ServiceName returns the connected service's name.
func (t *Token) ServiceName() string {
	if t.Service != nil {
		return t.Service.Name
	}
	if t.ServiceRef != nil {
		return t.ServiceRef.Name
	}
	return ""
}

// Area pairs one action with one reaction.
type Area struct {
	ID                uint64          `json:"id,omitempty"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Enable            bool            `json:"enable"`
	Action            *Type           `json:"action,omitempty"`
	ActionOption      json.RawMessage `json:"action_option,omitempty"`
	Reaction          *Type           `json:"reaction,omitempty"`
	ReactionOption    json.RawMessage `json:"reaction_option,omitempty"`
	ActionRefreshRate uint64          `json:"action_refresh_rate,omitempty"`
	CreatedAt         *time.Time      `json:"created_at,omitempty"`
	UpdateAt          *time.Time      `json:"update_at,omitempty"`
}

// UnmarshalJSON accepts the legacy "refresh_rate" and "updated_at" spellings
// and normalises them onto the canonical fields.
func (a *Area) UnmarshalJSON(data []byte) error {
	type plain Area
	aux := struct {
		*plain
		RefreshRate *uint64    `json:"refresh_rate,omitempty"`
		UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if a.ActionRefreshRate == 0 && aux.RefreshRate != nil {
		a.ActionRefreshRate = *aux.RefreshRate
	}
	if a.UpdateAt == nil && aux.UpdatedAt != nil {
		a.UpdateAt = aux.UpdatedAt
	}
	return nil
}

// AreaMessage is the body of POST /area.
type AreaMessage struct {
	ActionID          uint64          `json:"action_id"`
	ActionOption      json.RawMessage `json:"action_option"`
	ReactionID        uint64          `json:"reaction_id"`
	ReactionOption    json.RawMessage `json:"reaction_option"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	ActionRefreshRate uint64          `json:"action_refresh_rate,omitempty"`
}

// AreaResult is one execution log line of an area.
type AreaResult struct {
	ID        uint64     `json:"id,omitempty"`
	Result    string     `json:"result"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdateAt  *time.Time `json:"update_at,omitempty"`
}

// Credentials is the login and registration body.
type Credentials struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserInfo is the body of GET /user/info.
type UserInfo struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ConnectionInfo is the body of GET /user/info/all.
type ConnectionInfo struct {
	User   UserInfo `json:"user"`
	Tokens []Token  `json:"tokens"`
}

// TokenFor returns the user's token for the named service.
func (c *ConnectionInfo) TokenFor(service string) (Token, bool) {
	for _, tok := range c.Tokens {
		if tok.ServiceName() == service {
			return tok, true
		}
	}
	return Token{}, false
}

// ServiceConnection is one row of the connections view.
type ServiceConnection struct {
	Service   Service `json:"service"`
	Connected bool    `json:"connected"`
	TokenID   uint64  `json:"token_id,omitempty"`
}

// Connections merges the service catalogue with the user's tokens. Services
// that do not use OAuth are always reported as connected.
func Connections(services []Service, info ConnectionInfo) []ServiceConnection {
	out := make([]ServiceConnection, 0, len(services))
	for _, svc := range services {
		row := ServiceConnection{Service: svc}
		if tok, ok := info.TokenFor(svc.Name); ok {
			row.Connected = true
			row.TokenID = tok.ID
		} else if !svc.OAuth {
			row.Connected = true
		}
		out = append(out, row)
	}
	return out
}

// MatchesName reports whether name contains query, ignoring case and
// surrounding blanks. An empty query matches everything.
func MatchesName(name, query string) bool {
	query = strings.TrimSpace(query)
	return query == "" || strings.Contains(strings.ToLower(name), strings.ToLower(query))
}

// FilterServices keeps the services whose name matches query.
func FilterServices(services []Service, query string) []Service {
	out := make([]Service, 0, len(services))
	for _, s := range services {
		if MatchesName(s.Name, query) {
			out = append(out, s)
		}
	}
	return out
}

// FilterTypes keeps the actions or reactions whose name matches query.
func FilterTypes(types []Type, query string) []Type {
	out := make([]Type, 0, len(types))
	for _, t := range types {
		if MatchesName(t.Name, query) {
			out = append(out, t)
		}
	}
	return out
}
