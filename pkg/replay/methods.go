package replay

import (
	"context"
	"fmt"

	"github.com/bft-labs/eventship/pkg/command"
	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/plugin"
)

// Method names as captured by the client handle.
const (
	MethodSetAnonymousID      = "setAnonymousId"
	MethodOn                  = "on"
	MethodAddSourceMiddleware = "addSourceMiddleware"
	MethodRegister            = "register"
	MethodTrack               = "track"
	MethodIdentify            = "identify"
	MethodPage                = "page"
	MethodGroup               = "group"
	MethodAlias               = "alias"
	MethodScreen              = "screen"
)

var methodKinds = map[string]command.Kind{
	MethodSetAnonymousID:      command.KindIdentity,
	MethodOn:                  command.KindListener,
	MethodAddSourceMiddleware: command.KindMiddleware,
	MethodRegister:            command.KindPlugin,
	MethodTrack:               command.KindOperation,
	MethodIdentify:            command.KindOperation,
	MethodPage:                command.KindOperation,
	MethodGroup:               command.KindOperation,
	MethodAlias:               command.KindOperation,
	MethodScreen:              command.KindOperation,
}

// KindOf returns the precedence class of a method. Unknown methods are
// operations, so a mistyped call surfaces as a diagnostic at replay.
func KindOf(method string) command.Kind {
	if k, ok := methodKinds[method]; ok {
		return k
	}
	return command.KindOperation
}

// DecodeCall validates the arguments of an operation method and returns
// the decoded call.
//
// Accepted shapes:
//
//	track(event string, [properties], [context])
//	identify([userID string], [traits], [context])
//	page([category string], [name string], [properties], [context])
//	screen([category string], [name string], [properties], [context])
//	group(groupID string, [traits], [context])
//	alias(userID string, [previousID string])
func DecodeCall(method string, args []any) (event.Call, error) {
	c := event.Call{Type: method}
	switch method {
	case MethodTrack:
		name, rest, err := requireString(args, "event name")
		if err != nil {
			return c, err
		}
		c.Event = name
		if c.Properties, c.Context, err = trailingMaps(rest); err != nil {
			return c, err
		}

	case MethodIdentify:
		userID, rest := optionalString(args)
		c.UserID = userID
		var traits map[string]any
		var err error
		if traits, c.Context, err = trailingMaps(rest); err != nil {
			return c, err
		}
		c.Traits = traits
		if c.UserID == "" && len(c.Traits) == 0 {
			return c, fmt.Errorf("identify needs a user id or traits")
		}

	case MethodPage, MethodScreen:
		first, rest := optionalString(args)
		second, rest := optionalString(rest)
		switch {
		case second != "":
			c.Category, c.Name = first, second
		default:
			c.Name = first
		}
		var err error
		if c.Properties, c.Context, err = trailingMaps(rest); err != nil {
			return c, err
		}

	case MethodGroup:
		groupID, rest, err := requireString(args, "group id")
		if err != nil {
			return c, err
		}
		c.GroupID = groupID
		var traits map[string]any
		if traits, c.Context, err = trailingMaps(rest); err != nil {
			return c, err
		}
		c.Traits = traits

	case MethodAlias:
		userID, rest, err := requireString(args, "user id")
		if err != nil {
			return c, err
		}
		c.UserID = userID
		prev, rest := optionalString(rest)
		c.PreviousID = prev
		if len(rest) > 0 {
			return c, fmt.Errorf("alias takes at most 2 arguments, got %d", len(args))
		}

	default:
		return c, fmt.Errorf("unknown method %q", method)
	}
	return c, nil
}

func requireString(args []any, what string) (string, []any, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing %s", what)
	}
	s, ok := args[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("%s must be a string, got %T", what, args[0])
	}
	if s == "" {
		return "", nil, fmt.Errorf("%s is empty", what)
	}
	return s, args[1:], nil
}

func optionalString(args []any) (string, []any) {
	if len(args) == 0 {
		return "", args
	}
	if s, ok := args[0].(string); ok {
		return s, args[1:]
	}
	return "", args
}

// trailingMaps decodes up to two optional map arguments: a payload map and
// a context map. Nil arguments are accepted as absent.
func trailingMaps(args []any) (map[string]any, map[string]any, error) {
	if len(args) > 2 {
		return nil, nil, fmt.Errorf("too many arguments: %d", len(args))
	}
	var out [2]map[string]any
	for i, a := range args {
		m, ok := asMap(a)
		if !ok {
			return nil, nil, fmt.Errorf("argument %d must be an object, got %T", i+1, a)
		}
		out[i] = m
	}
	return out[0], out[1], nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, true
	case map[string]any:
		return m, true
	case event.Properties:
		return m, true
	case event.Traits:
		return m, true
	default:
		return nil, false
	}
}

// asListener accepts an event.Listener or a plain func(...any).
func asListener(v any) (event.Listener, bool) {
	switch fn := v.(type) {
	case event.Listener:
		return fn, fn != nil
	case func(...any):
		return fn, fn != nil
	default:
		return nil, false
	}
}

// asMiddleware accepts an event.Middleware or its underlying func type.
func asMiddleware(v any) (event.Middleware, bool) {
	switch fn := v.(type) {
	case event.Middleware:
		return fn, fn != nil
	case func(context.Context, *event.Event) (*event.Event, error):
		return fn, fn != nil
	default:
		return nil, false
	}
}

func asPlugins(args []any) ([]plugin.Plugin, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("register needs at least one plugin")
	}
	out := make([]plugin.Plugin, 0, len(args))
	for i, a := range args {
		p, ok := a.(plugin.Plugin)
		if !ok || p == nil {
			return nil, fmt.Errorf("argument %d must be a plugin, got %T", i+1, a)
		}
		out = append(out, p)
	}
	return out, nil
}
