package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/perimeter-epitech/area/model"
)

// TokenReply is the {token} body returned by login and OAuth callbacks.
type TokenReply struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/user/login",
		Body:   model.Credentials{Username: username, Password: password},
	})
	if err != nil {
		return "", err
	}
	return decodeToken(resp)
}

// Register creates an account. The backend may or may not return a token.
func (c *Client) Register(ctx context.Context, creds model.Credentials) (string, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/user/register",
		Body:   creds,
	})
	if err != nil {
		return "", err
	}
	var reply TokenReply
	_ = json.Unmarshal(resp.Body, &reply)
	return reply.Token, nil
}

// UserInfo returns the logged-in user's profile.
func (c *Client) UserInfo(ctx context.Context, token string) (model.UserInfo, error) {
	var info model.UserInfo
	err := c.get(ctx, token, "/user/info", "", &info)
	return info, err
}

// UserInfoAll returns the user's profile and connected-service tokens.
func (c *Client) UserInfoAll(ctx context.Context, token string) (model.ConnectionInfo, error) {
	var info model.ConnectionInfo
	err := c.get(ctx, token, "/user/info/all", "", &info)
	return info, err
}

// DeleteUser deletes the logged-in account.
func (c *Client) DeleteUser(ctx context.Context, token string) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: "/user/info", Token: token})
	return err
}

// Services lists every service the backend offers.
func (c *Client) Services(ctx context.Context, token string) ([]model.Service, error) {
	var services []model.Service
	err := c.get(ctx, token, "/service/info", "", &services)
	return services, err
}

// Service returns one service by id.
func (c *Client) Service(ctx context.Context, token string, id uint64) (model.Service, error) {
	var svc model.Service
	err := c.get(ctx, token, "/service/info/"+strconv.FormatUint(id, 10), "/service/info/{id}", &svc)
	return svc, err
}

// Actions lists the actions of a service.
func (c *Client) Actions(ctx context.Context, token string, serviceID uint64) ([]model.Type, error) {
	var types []model.Type
	err := c.get(ctx, token, "/action/info/"+strconv.FormatUint(serviceID, 10), "/action/info/{id}", &types)
	return types, err
}

// Reactions lists the reactions of a service.
func (c *Client) Reactions(ctx context.Context, token string, serviceID uint64) ([]model.Type, error) {
	var types []model.Type
	err := c.get(ctx, token, "/reaction/info/"+strconv.FormatUint(serviceID, 10), "/reaction/info/{id}", &types)
	return types, err
}

// Areas lists the user's areas.
func (c *Client) Areas(ctx context.Context, token string) ([]model.Area, error) {
	var areas []model.Area
	err := c.get(ctx, token, "/area", "", &areas)
	return areas, err
}

// CreateArea sends exactly one POST /area.
func (c *Client) CreateArea(ctx context.Context, token string, msg model.AreaMessage) (model.Area, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/area", Token: token, Body: msg})
	if err != nil {
		return model.Area{}, err
	}
	var area model.Area
	// Some deployments answer with a bare confirmation rather than the area.
	_ = json.Unmarshal(resp.Body, &area)
	return area, nil
}

// UpdateArea replaces an area in full.
func (c *Client) UpdateArea(ctx context.Context, token string, area model.Area) (model.Area, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodPut, Path: "/area", Token: token, Body: area})
	if err != nil {
		return model.Area{}, err
	}
	var updated model.Area
	if json.Unmarshal(resp.Body, &updated) != nil || updated.ID == 0 {
		return area, nil
	}
	return updated, nil
}

// DeleteArea deletes an area by id.
func (c *Client) DeleteArea(ctx context.Context, token string, id uint64) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: "/area", Token: token, Body: idBody{ID: id}})
	return err
}

// AreaResults lists the execution log of an area.
func (c *Client) AreaResults(ctx context.Context, token string, areaID uint64) ([]model.AreaResult, error) {
	var results []model.AreaResult
	err := c.get(ctx, token, "/area-result/"+strconv.FormatUint(areaID, 10), "/area-result/{id}", &results)
	return results, err
}

// DeleteToken disconnects a service.
func (c *Client) DeleteToken(ctx context.Context, token string, tokenID uint64) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: "/token", Token: token, Body: idBody{ID: tokenID}})
	return err
}

// AuthCallback posts an OAuth outcome to /{service}/auth/callback[/mobile].
// bearer is set when linking a service to an existing account.
func (c *Client) AuthCallback(ctx context.Context, service string, mobile bool, payload any, bearer string) (string, error) {
	path := "/" + url.PathEscape(service) + "/auth/callback"
	route := "/{service}/auth/callback"
	if mobile {
		path += "/mobile"
		route += "/mobile"
	}
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Route:  route,
		Token:  bearer,
		Body:   payload,
	})
	if err != nil {
		return "", err
	}
	return decodeToken(resp)
}

// AuthLink asks the backend for the provider's authorization URL.
func (c *Client) AuthLink(ctx context.Context, service, token string) (string, error) {
	var reply struct {
		URL string `json:"authentication_url"`
	}
	if err := c.get(ctx, token, "/"+url.PathEscape(service)+"/auth", "/{service}/auth", &reply); err != nil {
		return "", err
	}
	u, err := url.Parse(reply.URL)
	if reply.URL == "" || err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", model.NewUpstreamError(http.StatusBadGateway, "Invalid authentication_url: Expected a valid URL")
	}
	return reply.URL, nil
}

type idBody struct {
	ID uint64 `json:"id"`
}

func (c *Client) get(ctx context.Context, token, path, route string, v any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Route: route, Token: token})
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

func decodeToken(resp Response) (string, error) {
	var reply TokenReply
	if err := resp.Decode(&reply); err != nil {
		return "", err
	}
	if reply.Token == "" {
		return "", fmt.Errorf("backend: reply carries no token")
	}
	return reply.Token, nil
}
