package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/perimeter-epitech/area/internal/config"
)

const valueKey = "session"

// CookieManager keeps the Session in a signed, encrypted cookie.
type CookieManager struct {
	store   *sessions.CookieStore
	name    string
	baseURL string
}

// NewCookieManager builds a manager from session configuration. Missing
// keys are generated, so sessions do not survive a restart.
func NewCookieManager(cfg config.SessionConfig, baseURL string) (*CookieManager, error) {
	hashKey, err := decodeKey(cfg.HashKey, 64)
	if err != nil {
		return nil, fmt.Errorf("session: hash key: %w", err)
	}
	blockKey, err := decodeKey(cfg.BlockKey, 32)
	if err != nil {
		return nil, fmt.Errorf("session: block key: %w", err)
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.MaxAge,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	name := cfg.CookieName
	if name == "" {
		name = "area_session"
	}
	return &CookieManager{store: store, name: name, baseURL: baseURL}, nil
}

// Load returns the request's session, or a fresh anonymous one when the
// cookie is missing or cannot be decoded.
func (m *CookieManager) Load(r *http.Request) *Session {
	raw, err := m.store.Get(r, m.name)
	if err != nil {
		return New(m.baseURL)
	}
	data, ok := raw.Values[valueKey].(string)
	if !ok {
		return New(m.baseURL)
	}
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil || s.ID == "" {
		return New(m.baseURL)
	}
	if s.BaseURL == "" {
		s.BaseURL = m.baseURL
	}
	return &s
}

// Save writes s to the response cookie.
func (m *CookieManager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	raw, _ := m.store.Get(r, m.name)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	raw.Values[valueKey] = string(data)
	raw.Options.MaxAge = m.store.Options.MaxAge
	return m.store.Save(r, w, raw)
}

// Clear expires the cookie.
func (m *CookieManager) Clear(w http.ResponseWriter, r *http.Request) error {
	raw, _ := m.store.Get(r, m.name)
	raw.Values = map[any]any{}
	raw.Options.MaxAge = -1
	return m.store.Save(r, w, raw)
}

// decodeKey accepts a base64 or raw key; an empty value is generated.
// Block keys must be a valid AES key length.
func decodeKey(v string, size int) ([]byte, error) {
	if v == "" {
		return securecookie.GenerateRandomKey(size), nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		b = []byte(v)
	}
	if size == 32 {
		switch len(b) {
		case 16, 24, 32:
			return b, nil
		}
		return nil, fmt.Errorf("must be 16, 24 or 32 bytes, got %d", len(b))
	}
	if len(b) < 32 {
		return nil, fmt.Errorf("must be at least 32 bytes, got %d", len(b))
	}
	return b, nil
}
