package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/backend"
	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/session"
	"github.com/perimeter-epitech/area/model"
)

// maxProxyBody bounds the JSON a browser may post to a proxy route.
const maxProxyBody = 1 << 20

// Forwarder is the backend call a proxy route makes. *backend.Client
// implements it.
type Forwarder interface {
	Do(ctx context.Context, req backend.Request) (backend.Response, error)
}

// sessionEffect is what a successful reply does to the browser session.
type sessionEffect int

const (
	effectNone sessionEffect = iota
	// effectAdoptToken stores the reply's token, if it carries one.
	effectAdoptToken
	// effectClear drops the session.
	effectClear
)

// proxyRoute forwards one BFF route to one backend call. Required names
// body fields that must be present; "token" is satisfied by the session.
type proxyRoute struct {
	Method   string
	Pattern  string
	Required []string
	Effect   sessionEffect
	Build    func(in proxyInput) (backend.Request, error)
}

// proxyRoutes is the BFF's view of the Area API.
var proxyRoutes = []proxyRoute{
	{
		Pattern:  "/api/auth/login",
		Required: []string{"username", "password"},
		Effect:   effectAdoptToken,
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{
				Method: http.MethodPost,
				Path:   "/user/login",
				Body:   in.pick("username", "password"),
			}, nil
		},
	},
	{
		Pattern:  "/api/auth/register",
		Required: []string{"email", "username", "password"},
		Effect:   effectAdoptToken,
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{
				Method: http.MethodPost,
				Path:   "/user/register",
				Body:   in.pick("email", "username", "password"),
			}, nil
		},
	},
	{
		Pattern:  "/api/auth/deleteAccount",
		Required: []string{"token"},
		Effect:   effectClear,
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{Method: http.MethodDelete, Path: "/user/info", Token: in.token}, nil
		},
	},
	{
		Pattern:  "/api/user/info",
		Required: []string{"token"},
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{Method: http.MethodGet, Path: "/user/info", Token: in.token}, nil
		},
	},
	{
		Pattern:  "/api/auth/service/infos",
		Required: []string{"token"},
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{Method: http.MethodGet, Path: "/user/info/all", Token: in.token}, nil
		},
	},
	{
		Pattern:  "/api/auth/service/connection",
		Required: []string{"code", "service"},
		Effect:   effectAdoptToken,
		Build: func(in proxyInput) (backend.Request, error) {
			service, err := in.serviceName("service")
			if err != nil {
				return backend.Request{}, err
			}
			return backend.Request{
				Method: http.MethodPost,
				Path:   "/" + url.PathEscape(service) + "/auth/callback",
				Route:  "/{service}/auth/callback",
				Token:  in.token,
				Body:   in.pick("code"),
			}, nil
		},
	},
	{
		Pattern:  "/api/auth/service/disconnection",
		Required: []string{"token", "tokenId"},
		Build: func(in proxyInput) (backend.Request, error) {
			id, err := in.id("tokenId")
			if err != nil {
				return backend.Request{}, err
			}
			return backend.Request{
				Method: http.MethodDelete,
				Path:   "/token",
				Token:  in.token,
				Body:   map[string]uint64{"id": id},
			}, nil
		},
	},
	{
		Method:  http.MethodGet,
		Pattern: "/api/workflow/services",
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{Method: http.MethodGet, Path: "/service/info", Token: in.token}, nil
		},
	},
	{
		Pattern: "/api/workflow/services",
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{Method: http.MethodGet, Path: "/service/info", Token: in.token}, nil
		},
	},
	{
		Pattern:  "/api/servicebyid",
		Required: []string{"token", "serviceId"},
		Build: func(in proxyInput) (backend.Request, error) {
			return in.getByID("serviceId", "/service/info/")
		},
	},
	{
		Pattern:  "/api/workflow/actions",
		Required: []string{"token", "service"},
		Build: func(in proxyInput) (backend.Request, error) {
			return in.getByID("service", "/action/info/")
		},
	},
	{
		Pattern:  "/api/workflow/reactions",
		Required: []string{"token", "service"},
		Build: func(in proxyInput) (backend.Request, error) {
			return in.getByID("service", "/reaction/info/")
		},
	},
	{
		Pattern:  "/api/workflow/create",
		Required: []string{"token", "action_id", "action_option", "reaction_id", "reaction_option", "title", "description"},
		Build: func(in proxyInput) (backend.Request, error) {
			body := in.pick("action_id", "action_option", "reaction_id", "reaction_option", "title", "description")
			if v, ok := in.fields["action_refresh_rate"]; ok {
				body["action_refresh_rate"] = v
			}
			return backend.Request{Method: http.MethodPost, Path: "/area", Token: in.token, Body: body}, nil
		},
	},
	{
		Pattern:  "/api/area/myareas",
		Required: []string{"token"},
		Build: func(in proxyInput) (backend.Request, error) {
			return backend.Request{Method: http.MethodGet, Path: "/area", Token: in.token}, nil
		},
	},
	{
		Pattern:  "/api/area/update",
		Required: []string{"token", "area"},
		Build: func(in proxyInput) (backend.Request, error) {
			area, ok := in.fields["area"].(map[string]any)
			if !ok {
				return backend.Request{}, model.NewBadRequestError("area must be an object")
			}
			return backend.Request{Method: http.MethodPut, Path: "/area", Token: in.token, Body: area}, nil
		},
	},
	{
		Pattern:  "/api/area/delete",
		Required: []string{"token", "areaId"},
		Build: func(in proxyInput) (backend.Request, error) {
			id, err := in.id("areaId")
			if err != nil {
				return backend.Request{}, err
			}
			return backend.Request{
				Method: http.MethodDelete,
				Path:   "/area",
				Token:  in.token,
				Body:   map[string]uint64{"id": id},
			}, nil
		},
	},
	{
		Pattern:  "/api/area/result",
		Required: []string{"token", "areaId"},
		Build: func(in proxyInput) (backend.Request, error) {
			return in.getByID("areaId", "/area-result/")
		},
	},
}

// proxyInput is a decoded proxy request body plus the effective token.
type proxyInput struct {
	fields map[string]any
	token  string
}

// decodeProxyInput reads the JSON body, if any. The token is the body's
// "token", else its "authorization", else the session's.
func decodeProxyInput(r *http.Request) (proxyInput, error) {
	in := proxyInput{fields: map[string]any{}}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
	if err != nil {
		return in, model.NewBadRequestError("invalid JSON body")
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&in.fields); err != nil {
			return in, model.NewBadRequestError("invalid JSON body")
		}
		if in.fields == nil {
			in.fields = map[string]any{}
		}
	}

	switch {
	case in.str("token") != "":
		in.token = model.BearerToken(in.str("token"))
	case in.str("authorization") != "":
		in.token = model.BearerToken(in.str("authorization"))
	default:
		if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
			in.token = rctx.Token
		}
	}
	return in, nil
}

// missing returns the required fields the input lacks.
func (in proxyInput) missing(required []string) []string {
	var out []string
	for _, f := range required {
		if f == "token" {
			if in.token == "" {
				out = append(out, f)
			}
			continue
		}
		switch v := in.fields[f].(type) {
		case nil:
			out = append(out, f)
		case string:
			if strings.TrimSpace(v) == "" {
				out = append(out, f)
			}
		}
	}
	return out
}

func (in proxyInput) str(name string) string {
	switch v := in.fields[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// pick copies the named fields into a new body.
func (in proxyInput) pick(names ...string) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := in.fields[n]; ok {
			out[n] = v
		}
	}
	return out
}

// id reads a positive integer sent as a JSON number or a string.
func (in proxyInput) id(name string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(in.str(name)), 10, 64)
	if err != nil || n == 0 {
		return 0, model.NewBadRequestError(fmt.Sprintf("%s must be a positive integer", name))
	}
	return n, nil
}

// serviceName reads a service name for use as a path segment.
func (in proxyInput) serviceName(name string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(in.str(name)))
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return "", model.NewBadRequestError(fmt.Sprintf("%s is not a service name", name))
		}
	}
	return s, nil
}

func (in proxyInput) getByID(field, prefix string) (backend.Request, error) {
	id, err := in.id(field)
	if err != nil {
		return backend.Request{}, err
	}
	return backend.Request{
		Method: http.MethodGet,
		Path:   prefix + strconv.FormatUint(id, 10),
		Route:  prefix + "{id}",
		Token:  in.token,
	}, nil
}

// handleProxy serves one proxy route: decode, check required fields,
// forward, relay the backend JSON unchanged.
func handleProxy(route proxyRoute, fwd Forwarder, sw *sessionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := decodeProxyInput(r)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		if missing := in.missing(route.Required); len(missing) > 0 {
			WriteMissingParameters(w, missing...)
			return
		}

		logger := observability.RequestLogger(r.Context(), sw.logger)
		if ce := logger.Check(zap.DebugLevel, "proxy request"); ce != nil {
			ce.Write(zap.String("route", route.Pattern), zap.Any("body", observability.RedactBody(in.fields)))
		}

		req, err := route.Build(in)
		if err != nil {
			sw.fail(w, r, err)
			return
		}
		resp, err := fwd.Do(r.Context(), req)
		if err != nil {
			sw.fail(w, r, err)
			return
		}

		sess := session.FromContext(r.Context())
		switch route.Effect {
		case effectAdoptToken:
			if sess != nil && adoptToken(sess, resp.Body, in.str("username")) {
				sw.save(w, r, sess)
			}
		case effectClear:
			sw.clear(w, r, "account_deleted")
		}
		WriteRaw(w, resp.Status, resp.Body)
	}
}
