package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Request errors.
var (
	ErrEmptyPath       = errors.New("router: empty request path")
	ErrUnknownResource = errors.New("router: unknown resource")
	ErrUnknownAction   = errors.New("router: unknown action")
	ErrMissingParam    = errors.New("router: missing parameter")
	ErrBadParam        = errors.New("router: bad parameter")
)

// Request is the immutable, parsed form of one external command. It is
// built once at the transport boundary; handlers read it and never mutate
// it.
type Request struct {
	// ID correlates the response with the request across transports.
	ID string `json:"id"`

	// Resource is the first path segment, lower-cased.
	Resource string `json:"resource"`

	// Action is the second path segment.
	Action string `json:"action"`

	// Args are the remaining path segments, in order.
	Args []string `json:"args,omitempty"`

	// Params is the normalised JSON payload.
	Params map[string]any `json:"params,omitempty"`
}

// Parse builds a Request from a slash-delimited path and an optional JSON
// payload. Leading and trailing slashes, empty segments, and "api/v1"
// prefixes are tolerated: "/api/v1/robot/jog/x/plus" routes the same as
// "robot/jog/x/plus".
func Parse(path string, payload []byte) (Request, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return Request{}, ErrEmptyPath
	}

	req := Request{
		ID:       uuid.NewString(),
		Resource: strings.ToLower(parts[0]),
	}
	if len(parts) > 1 {
		req.Action = parts[1]
	}
	if len(parts) > 2 {
		req.Args = parts[2:]
	}

	if len(payload) > 0 {
		var params map[string]any
		if err := json.Unmarshal(payload, &params); err != nil {
			return Request{}, fmt.Errorf("%w: payload: %v", ErrBadParam, err)
		}
		req.Params = normalise(params)
	}
	return req, nil
}

// splitPath drops empty segments and the versioned API prefix some
// transports still send.
func splitPath(path string) []string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		if len(parts) == 0 && (strings.EqualFold(p, "api") || strings.EqualFold(p, "v1")) {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// normalise collapses single-element lists to their scalar. Some clients
// wrap every value in a list; downstream code should see one shape.
func normalise(params map[string]any) map[string]any {
	for k, v := range params {
		if list, ok := v.([]any); ok && len(list) == 1 {
			params[k] = list[0]
		}
	}
	return params
}

// Bool reads an optional boolean parameter, accepting JSON booleans and
// their string forms.
func (r Request) Bool(key string, def bool) (bool, error) {
	v, ok := r.Params[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("%w: %s=%q", ErrBadParam, key, t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s is not a boolean", ErrBadParam, key)
	}
}

// Float reads a required numeric parameter.
func (r Request) Float(key string) (float64, error) {
	v, ok := r.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrBadParam, key, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s is not a number", ErrBadParam, key)
	}
}

// Int reads a required integer parameter.
func (r Request) Int(key string) (int, error) {
	f, err := r.Float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String reads a required string parameter.
func (r Request) String(key string) (string, error) {
	v, ok := r.Params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrBadParam, key)
	}
	return s, nil
}

// Arg returns the positional argument at index i.
func (r Request) Arg(i int) (string, error) {
	if i >= len(r.Args) {
		return "", fmt.Errorf("%w: positional argument %d", ErrMissingParam, i)
	}
	return r.Args[i], nil
}
