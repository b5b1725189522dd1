package composer

import (
	"context"
	"fmt"

	"github.com/perimeter-epitech/area/model"
)

// Catalog reads the services and types a draft can pick from.
// *backend.Client implements it.
type Catalog interface {
	Service(ctx context.Context, token string, id uint64) (model.Service, error)
	Actions(ctx context.Context, token string, serviceID uint64) ([]model.Type, error)
	Reactions(ctx context.Context, token string, serviceID uint64) ([]model.Type, error)
	UserInfoAll(ctx context.Context, token string) (model.ConnectionInfo, error)
}

// Pick looks a type up in cat and selects it as the draft's action, or as
// its reaction when reaction is set. The service and type always come from
// the backend, never from the caller.
func (c *Composer) Pick(ctx context.Context, id string, cat Catalog, token string, serviceID, typeID uint64, reaction bool) (*Draft, error) {
	svc, err := cat.Service(ctx, token, serviceID)
	if err != nil {
		return nil, err
	}
	list := cat.Actions
	if reaction {
		list = cat.Reactions
	}
	types, err := list(ctx, token, serviceID)
	if err != nil {
		return nil, err
	}
	typ, ok := findType(types, typeID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("service %d has no type %d", serviceID, typeID))
	}

	if !reaction {
		return c.SelectAction(ctx, id, svc, typ)
	}
	connected := !svc.OAuth
	if svc.OAuth {
		info, err := cat.UserInfoAll(ctx, token)
		if err != nil {
			return nil, err
		}
		_, connected = info.TokenFor(svc.Name)
	}
	return c.SelectReaction(ctx, id, svc, typ, connected)
}

func findType(types []model.Type, id uint64) (model.Type, bool) {
	for _, t := range types {
		if t.ID == id {
			return t, true
		}
	}
	return model.Type{}, false
}
