package mcp

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loopwork-ai/saasmcp/auth"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one named parameter of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Items       ParamType // item type when Type is TypeArray
	Required    bool
	Description string
	Enum        []string
	Default     Value
}

// Call is a validated tool invocation handed to a Handler.
type Call struct {
	ID         string
	Tool       string
	Arguments  Arguments
	Credential auth.Credential
}

// Handler performs a tool call and returns its payload.
type Handler func(ctx context.Context, call *Call) (map[string]any, error)

// Tool describes a callable tool. Tools are immutable once registered.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	ReadOnly    bool
	Handler     Handler
}

// Param returns the parameter with the given name.
func (t *Tool) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Validate checks args against the tool's parameters and returns a normalized
// copy: values are coerced to their declared types, nulls are dropped and
// defaults are filled in.
func (t *Tool) Validate(args Arguments) (Arguments, error) {
	for _, name := range args.Names() {
		if _, ok := t.Param(name); !ok {
			return nil, InvalidArgument(name, "unknown parameter")
		}
	}

	out := make(Arguments, len(t.Params))
	for _, p := range t.Params {
		v, present := args[p.Name]
		if _, null := v.(Null); null {
			present = false
		}
		if !present {
			if p.Required {
				return nil, InvalidArgument(p.Name, "required parameter is missing")
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerce(p.Name, p.Type, v)
		if err != nil {
			return nil, err
		}
		if arr, ok := coerced.(Array); ok && p.Items != "" {
			items := make(Array, len(arr))
			for i, item := range arr {
				if items[i], err = coerce(p.Name, p.Items, item); err != nil {
					return nil, err
				}
			}
			coerced = items
		}
		if len(p.Enum) > 0 {
			if coerced, err = matchEnum(p, coerced); err != nil {
				return nil, err
			}
		}
		out[p.Name] = coerced
	}
	return out, nil
}

func coerce(field string, typ ParamType, v Value) (Value, error) {
	switch typ {
	case TypeString:
		switch v := v.(type) {
		case String:
			return v, nil
		case Number:
			return String(v), nil
		}
	case TypeInteger:
		switch v := v.(type) {
		case Number:
			if i, ok := v.Int64(); ok {
				return Number(strconv.FormatInt(i, 10)), nil
			}
		case String:
			s := strings.TrimSpace(string(v))
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Number(strconv.FormatInt(i, 10)), nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				if i, ok := floatToInt64(f); ok {
					return Number(strconv.FormatInt(i, 10)), nil
				}
			}
		}
	case TypeNumber:
		switch v := v.(type) {
		case Number:
			return v, nil
		case String:
			s := strings.TrimSpace(string(v))
			if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
				return Number(s), nil
			}
		}
	case TypeBoolean:
		switch v := v.(type) {
		case Bool:
			return v, nil
		case String:
			switch strings.ToLower(strings.TrimSpace(string(v))) {
			case "true":
				return Bool(true), nil
			case "false":
				return Bool(false), nil
			}
		}
	case TypeArray:
		if v, ok := v.(Array); ok {
			return v, nil
		}
	case TypeObject:
		if v, ok := v.(Object); ok {
			return v, nil
		}
	case "":
		return v, nil
	}
	return nil, InvalidArgument(field, "expected %s", typ)
}

func matchEnum(p Param, v Value) (Value, error) {
	text := Text(v)
	for _, e := range p.Enum {
		if strings.EqualFold(e, text) {
			if _, ok := v.(String); ok {
				return String(e), nil
			}
			return v, nil
		}
	}
	return nil, InvalidArgument(p.Name, "must be one of %s", strings.Join(p.Enum, ", "))
}

// InputSchema returns the JSON Schema advertised for the tool's arguments.
func (t *Tool) InputSchema() *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(t.Params)),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	for _, p := range t.Params {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if p.Type == TypeArray {
			prop.Items = &jsonschema.Schema{}
			if p.Items != "" {
				prop.Items.Type = string(p.Items)
			}
		}
		for _, e := range p.Enum {
			prop.Enum = append(prop.Enum, e)
		}
		if p.Default != nil {
			if data, err := json.Marshal(p.Default.Interface()); err == nil {
				prop.Default = data
			}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
