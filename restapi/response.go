package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loopwork-ai/saasmcp/catalog"
	"github.com/loopwork-ai/saasmcp/mcp"
)

// ErrorFormat lists the gjson paths holding the message and code of a
// vendor error body. The first path present wins.
type ErrorFormat struct {
	Message []string
	Code    []string
}

// DefaultErrorFormat covers the common {"message": ..., "code": ...} and
// {"error": ...} shapes.
var DefaultErrorFormat = ErrorFormat{
	Message: []string{"message", "error.message", "error", "errors", "detail"},
	Code:    []string{"code", "error.code", "symbolic"},
}

func (f ErrorFormat) classify(resp *http.Response, body []byte) *mcp.ToolError {
	te := &mcp.ToolError{
		Status:     resp.StatusCode,
		Message:    firstPresent(body, f.Message),
		VendorCode: firstPresent(body, f.Code),
	}
	if te.Message == "" {
		te.Message = strings.TrimSpace(string(body))
	}
	if te.Message == "" || (!gjson.ValidBytes(body) && len(te.Message) > 512) {
		te.Message = http.StatusText(resp.StatusCode)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		te.Kind = mcp.KindAuthenticationError
	case code == http.StatusNotFound:
		te.Kind = mcp.KindNotFound
	case code == http.StatusTooManyRequests:
		te.Kind = mcp.KindRateLimited
		te.RetryAfter = resp.Header.Get("Retry-After")
	case code >= 400 && code < 500:
		te.Kind = mcp.KindValidationError
	default:
		te.Kind = mcp.KindUpstreamError
	}
	return te
}

func firstPresent(body []byte, paths []string) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		if r.Type == gjson.String || r.Type == gjson.Number {
			return r.String()
		}
		return r.Raw
	}
	return ""
}

func buildPayload(op *catalog.Operation, args mcp.Arguments, body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return emptyResult(op, args), nil
	}
	if !gjson.ValidBytes(body) {
		return nil, mcp.NewError(mcp.KindUpstreamError, "malformed response body")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, mcp.NewError(mcp.KindUpstreamError, "decoding response: %v", err)
	}

	if op.Collection != "" {
		items := collection(decoded, op.Collection)
		projected := make([]any, 0, len(items))
		for _, item := range items {
			projected = append(projected, project(item, op.Result))
		}
		payload := map[string]any{
			op.Collection: projected,
			"count":       len(projected),
		}
		if filters := appliedFilters(op, args); len(filters) > 0 {
			payload["filters_applied"] = filters
		}
		return payload, nil
	}

	switch v := project(decoded, op.Result).(type) {
	case map[string]any:
		return v, nil
	case []any:
		return map[string]any{"items": v, "count": len(v)}, nil
	default:
		return map[string]any{"result": v}, nil
	}
}

// emptyResult confirms a request whose response had no body, such as a delete.
func emptyResult(op *catalog.Operation, args mcp.Arguments) map[string]any {
	payload := map[string]any{"success": true}
	for _, p := range op.Params {
		if p.In == catalog.InPath && !p.Credential && args.Has(p.Name) {
			payload[p.Name] = args[p.Name].Interface()
		}
	}
	return payload
}

func collection(decoded any, key string) []any {
	switch v := decoded.(type) {
	case []any:
		return v
	case map[string]any:
		if items, ok := v[key].([]any); ok {
			return items
		}
	}
	return nil
}

func appliedFilters(op *catalog.Operation, args mcp.Arguments) map[string]any {
	filters := map[string]any{}
	for _, p := range op.Params {
		if p.In == catalog.InQuery && !p.Paging && args.Has(p.Name) {
			filters[p.Name] = args[p.Name].Interface()
		}
	}
	return filters
}

// project keeps only the declared fields that are present in v.
func project(v any, fields []catalog.Field) any {
	if len(fields) == 0 {
		return v
	}
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			value, ok := lookup(v, f.WireName)
			if !ok {
				continue
			}
			if len(f.Fields) > 0 {
				value = projectNested(value, f)
			}
			out[f.Name] = value
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = project(e, fields)
		}
		return out
	default:
		return v
	}
}

func projectNested(value any, f catalog.Field) any {
	if f.Array {
		items, ok := value.([]any)
		if !ok {
			return value
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = project(item, f.Fields)
		}
		return out
	}
	return project(value, f.Fields)
}

// lookup matches keys exactly first, then case-insensitively.
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
