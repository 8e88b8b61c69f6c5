// Package transport carries named service calls to the remote tournament API.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// CodeOK is the result code the remote service uses for success.
const CodeOK = 200

// Transport sends a service name and a flat argument map and returns the
// decoded result. Communication failures are returned as
// *domain.TransportFailure; a non-success result code is not an error at this
// layer.
type Transport interface {
	Call(ctx context.Context, service string, args map[string]any) (*Result, error)
}

// Result is one decoded service response.
type Result struct {
	Code      int            `json:"result"`
	Values    map[string]any `json:"values"`
	FromCache bool           `json:"-"`
}

// NewResult builds a result from a decoded response object. The "result"
// member becomes the code.
func NewResult(values map[string]any) *Result {
	res := &Result{Values: make(map[string]any, len(values))}
	for k, v := range values {
		if k == "result" {
			res.Code = toInt(v)
			continue
		}
		res.Values[k] = v
	}
	return res
}

// OK reports whether the service accepted the call.
func (r *Result) OK() bool {
	return r != nil && r.Code == CodeOK
}

// Map returns a nested object, or nil.
func (r *Result) Map(key string) map[string]any {
	m, _ := r.Values[key].(map[string]any)
	return m
}

// List returns a nested list of objects. Objects keyed by position
// ({"0": {...}, "1": {...}}) are accepted too since the service emits both.
func (r *Result) List(key string) []map[string]any {
	switch v := r.Values[key].(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		out := make([]map[string]any, 0, len(v))
		for i := 0; i < len(v); i++ {
			if m, ok := v[strconv.Itoa(i)].(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// String returns a scalar member as a string.
func (r *Result) String(key string) string {
	return Stringify(r.Values[key])
}

// Message returns the error text the service attached to a failure.
func (r *Result) Message() string {
	for _, key := range []string{"error", "message", "error_message"} {
		if s := r.String(key); s != "" {
			return s
		}
	}
	return ""
}

// Stringify renders ids and other scalars the way the service expects them
// back: integral numbers without a fraction.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}
