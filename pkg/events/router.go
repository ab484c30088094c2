package events

import (
	"context"
	"fmt"
	"sort"
)

type Handler func(ctx context.Context, e Envelope) error

// Route binds one consumed event type to its handler and declares which
// event types the handler may emit.
type Route struct {
	Consumes Type
	Emits    []Type
	Handle   Handler
}

// Router is an explicit dispatch table keyed by event type.
type Router struct {
	routes map[Type]Route
}

func NewRouter(routes ...Route) (*Router, error) {
	r := &Router{routes: make(map[Type]Route, len(routes))}
	for _, rt := range routes {
		if rt.Handle == nil {
			return nil, fmt.Errorf("route %s has no handler", rt.Consumes)
		}
		if _, dup := r.routes[rt.Consumes]; dup {
			return nil, fmt.Errorf("duplicate route for %s", rt.Consumes)
		}
		r.routes[rt.Consumes] = rt
	}
	return r, nil
}

// Dispatch runs the handler registered for e.Type. The boolean reports
// whether a route existed; events without a route are not an error since
// several event types share a topic.
func (r *Router) Dispatch(ctx context.Context, e Envelope) (bool, error) {
	rt, ok := r.routes[e.Type]
	if !ok {
		return false, nil
	}
	return true, rt.Handle(ctx, e)
}

func (r *Router) Consumes() []Type {
	out := make([]Type, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Router) Emits(t Type) []Type {
	return r.routes[t].Emits
}

// Typed adapts a payload-typed function into a Handler.
func Typed[T any](fn func(ctx context.Context, e Envelope, payload T) error) Handler {
	return func(ctx context.Context, e Envelope) error {
		p, err := Decode[T](e)
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	}
}
