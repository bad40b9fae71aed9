// Package catalog loads the request templates of a vendor API from an
// OpenAPI 3 document. Each operation becomes one tool; its operationId is
// the tool name.
//
// Besides standard OpenAPI, the loader understands these extensions:
//
//	x-wire-name    parameter or property name sent on the wire, when it
//	               differs from the tool parameter name; dotted names nest
//	               JSON bodies ("contact.firstname")
//	x-wire-values  mapping from an enum value to the text sent on the wire
//	x-filter-key   query parameter folded into a composite "filter" value
//	x-credential   path parameter filled from the credential ("username")
//	x-paging       query parameter that selects a page rather than filters
//	x-collection   response key holding the list returned by a list operation
//
// A "#suffix" on a path key is dropped from the request path, so several
// operations can share one vendor endpoint and method.
package catalog

import (
	"iter"
	"net/http"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pb33f/libopenapi"
	"github.com/pb33f/libopenapi/datamodel/high/base"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
	"github.com/pb33f/libopenapi/orderedmap"
	"gopkg.in/yaml.v3"

	"github.com/loopwork-ai/saasmcp/mcp"
)

// Location is where a parameter is placed in the outbound request.
type Location string

const (
	InPath  Location = "path"
	InQuery Location = "query"
	InBody  Location = "body"
)

// Encoding is the request body encoding of an operation.
type Encoding string

const (
	EncodingNone Encoding = ""
	EncodingForm Encoding = "form"
	EncodingJSON Encoding = "json"
)

// AuthScheme is the HTTP authentication scheme of the API.
type AuthScheme string

const (
	AuthBasic  AuthScheme = "basic"
	AuthBearer AuthScheme = "bearer"
)

// FilterParam is the query parameter that collects x-filter-key values.
const FilterParam = "filter"

// Param is a tool parameter together with its wire mapping.
type Param struct {
	mcp.Param

	In         Location
	WireName   string
	WireValues map[string]string
	FilterKey  string

	// Credential is set for path parameters filled from the credential.
	Credential bool
	Paging     bool
}

// Field is one key of a projected response object.
type Field struct {
	Name     string
	WireName string
	// Fields projects a nested object, or each element when Array is set.
	Fields []Field
	Array  bool
}

// Operation is a single vendor request template.
type Operation struct {
	ID          string
	Method      string
	Path        string
	Description string
	Params      []Param
	Encoding    Encoding

	// Collection names the list in the result of a list operation.
	Collection string
	// Result projects the response object, or each list item when
	// Collection is set. Empty means the body is passed through.
	Result []Field
}

// ReadOnly reports whether the operation leaves vendor state unchanged.
func (o *Operation) ReadOnly() bool {
	return o.Method == http.MethodGet || o.Method == http.MethodHead
}

// ToolParams returns the parameters exposed to clients.
func (o *Operation) ToolParams() []mcp.Param {
	params := make([]mcp.Param, 0, len(o.Params))
	for _, p := range o.Params {
		if p.Credential {
			continue
		}
		params = append(params, p.Param)
	}
	return params
}

// Param returns the parameter with the given tool name.
func (o *Operation) Param(name string) (Param, bool) {
	for _, p := range o.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Catalog is the set of operations of one vendor API.
type Catalog struct {
	Title   string
	Version string
	BaseURL string
	Auth    AuthScheme

	operations []*Operation
	byID       map[string]*Operation
}

// Operations yields operations in document order.
func (c *Catalog) Operations() iter.Seq[*Operation] {
	return func(yield func(*Operation) bool) {
		for _, op := range c.operations {
			if !yield(op) {
				return
			}
		}
	}
}

// Operation returns the operation with the given id.
func (c *Catalog) Operation(id string) (*Operation, bool) {
	op, ok := c.byID[id]
	return op, ok
}

// Len returns the number of operations.
func (c *Catalog) Len() int { return len(c.operations) }

// Load parses an OpenAPI 3 document into a Catalog.
func Load(data []byte) (*Catalog, error) {
	doc, err := libopenapi.NewDocument(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing OpenAPI document")
	}
	model, errs := doc.BuildV3Model()
	if errs != nil {
		return nil, errors.Newf("building OpenAPI model: %v", errs)
	}

	c := &Catalog{byID: make(map[string]*Operation)}
	if info := model.Model.Info; info != nil {
		c.Title = info.Title
		c.Version = info.Version
	}
	if len(model.Model.Servers) > 0 && model.Model.Servers[0] != nil {
		c.BaseURL = strings.TrimSuffix(model.Model.Servers[0].URL, "/")
	}
	if comps := model.Model.Components; comps != nil && comps.SecuritySchemes != nil {
		for pair := comps.SecuritySchemes.First(); pair != nil; pair = pair.Next() {
			if scheme := pair.Value(); scheme != nil && strings.EqualFold(scheme.Type, "http") {
				c.Auth = AuthScheme(strings.ToLower(scheme.Scheme))
				break
			}
		}
	}

	if model.Model.Paths == nil {
		return c, nil
	}
	for pair := model.Model.Paths.PathItems.First(); pair != nil; pair = pair.Next() {
		path, _, _ := strings.Cut(pair.Key(), "#")
		item := pair.Value()
		for _, m := range []struct {
			method string
			op     *v3.Operation
		}{
			{http.MethodGet, item.Get},
			{http.MethodPost, item.Post},
			{http.MethodPut, item.Put},
			{http.MethodDelete, item.Delete},
			{http.MethodPatch, item.Patch},
		} {
			if m.op == nil {
				continue
			}
			op, err := buildOperation(m.method, path, item, m.op)
			if err != nil {
				return nil, errors.Wrapf(err, "%s %s", m.method, path)
			}
			if _, dup := c.byID[op.ID]; dup {
				return nil, errors.Newf("duplicate operationId %q", op.ID)
			}
			c.byID[op.ID] = op
			c.operations = append(c.operations, op)
		}
	}
	return c, nil
}

func buildOperation(method, path string, item *v3.PathItem, op *v3.Operation) (*Operation, error) {
	if op.OperationId == "" {
		return nil, errors.New("operation has no operationId")
	}

	o := &Operation{
		ID:          op.OperationId,
		Method:      method,
		Path:        path,
		Description: strings.TrimSpace(op.Description),
		Collection:  extensionString(op.Extensions, "x-collection"),
	}
	if o.Description == "" {
		o.Description = strings.TrimSpace(op.Summary)
	}

	params := append([]*v3.Parameter{}, item.Parameters...)
	params = append(params, op.Parameters...)
	for _, p := range params {
		if p == nil || (p.In != string(InPath) && p.In != string(InQuery)) {
			continue
		}
		param, err := buildParam(p)
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %q", p.Name)
		}
		if !param.Credential && !strings.Contains(path, "{"+param.Name+"}") && param.In == InPath {
			return nil, errors.Newf("path parameter %q not in path", param.Name)
		}
		o.Params = append(o.Params, param)
	}

	if op.RequestBody != nil && op.RequestBody.Content != nil {
		for pair := op.RequestBody.Content.First(); pair != nil; pair = pair.Next() {
			encoding := encodingFor(pair.Key())
			if encoding == EncodingNone || pair.Value() == nil || pair.Value().Schema == nil {
				continue
			}
			o.Encoding = encoding
			schema := pair.Value().Schema.Schema()
			if schema == nil {
				return nil, errors.Newf("request body schema for %s could not be resolved", pair.Key())
			}
			bodyParams, err := buildBodyParams(schema)
			if err != nil {
				return nil, err
			}
			o.Params = append(o.Params, bodyParams...)
			break
		}
	}

	seen := make(map[string]bool, len(o.Params))
	for _, p := range o.Params {
		if seen[p.Name] {
			return nil, errors.Newf("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
	}

	if schema := responseSchema(op); schema != nil {
		switch {
		case o.Collection != "":
			schema = collectionItems(schema, o.Collection)
		case isType(schema, "array"):
			schema = arrayItems(schema)
		}
		if schema != nil {
			o.Result = buildFields(schema)
		}
	}
	return o, nil
}

func encodingFor(mediaType string) Encoding {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/json":
		return EncodingJSON
	case "application/x-www-form-urlencoded":
		return EncodingForm
	default:
		return EncodingNone
	}
}

func buildParam(p *v3.Parameter) (Param, error) {
	param := Param{
		Param: mcp.Param{
			Name:        p.Name,
			Type:        mcp.TypeString,
			Required:    p.Required != nil && *p.Required,
			Description: strings.TrimSpace(p.Description),
		},
		In:        Location(p.In),
		WireName:  p.Name,
		FilterKey: extensionString(p.Extensions, "x-filter-key"),
		Paging:    extensionString(p.Extensions, "x-paging") == "true",
	}
	if name := extensionString(p.Extensions, "x-wire-name"); name != "" {
		param.WireName = name
	}
	if cred := extensionString(p.Extensions, "x-credential"); cred != "" {
		if cred != "username" {
			return Param{}, errors.Newf("unsupported x-credential %q", cred)
		}
		param.Credential = true
	}
	if node := extension(p.Extensions, "x-wire-values"); node != nil {
		if err := node.Decode(&param.WireValues); err != nil {
			return Param{}, errors.Wrap(err, "decoding x-wire-values")
		}
	}

	if p.Schema != nil {
		if schema := p.Schema.Schema(); schema != nil {
			applySchema(&param.Param, schema)
		}
	}
	// Path parameters with a default may be omitted by the caller.
	if param.In == InPath {
		param.Required = param.Default == nil
	}
	for value := range param.WireValues {
		if !slices.Contains(param.Enum, value) {
			return Param{}, errors.Newf("x-wire-values key %q is not in enum", value)
		}
	}
	return param, nil
}

func buildBodyParams(schema *base.Schema) ([]Param, error) {
	if schema.Properties == nil {
		return nil, nil
	}
	var params []Param
	for pair := schema.Properties.First(); pair != nil; pair = pair.Next() {
		name := pair.Key()
		prop := pair.Value().Schema()
		if prop == nil {
			return nil, errors.Newf("body property %q could not be resolved", name)
		}
		param := Param{
			Param: mcp.Param{
				Name:     name,
				Type:     mcp.TypeString,
				Required: slices.Contains(schema.Required, name),
			},
			In:       InBody,
			WireName: name,
		}
		if wire := extensionString(prop.Extensions, "x-wire-name"); wire != "" {
			param.WireName = wire
		}
		applySchema(&param.Param, prop)
		params = append(params, param)
	}
	return params, nil
}

func applySchema(p *mcp.Param, schema *base.Schema) {
	if len(schema.Type) > 0 {
		p.Type = mcp.ParamType(schema.Type[0])
	}
	if p.Description == "" {
		p.Description = strings.TrimSpace(schema.Description)
	}
	if p.Type == mcp.TypeArray && schema.Items != nil && schema.Items.A != nil {
		if items := schema.Items.A.Schema(); items != nil && len(items.Type) > 0 {
			p.Items = mcp.ParamType(items.Type[0])
		}
	}
	for _, node := range schema.Enum {
		if node != nil {
			p.Enum = append(p.Enum, node.Value)
		}
	}
	if schema.Default != nil {
		var v any
		if err := schema.Default.Decode(&v); err == nil && v != nil {
			p.Default = mcp.ValueOf(v)
		}
	}
}

func responseSchema(op *v3.Operation) *base.Schema {
	if op.Responses == nil || op.Responses.Codes == nil {
		return nil
	}
	for pair := op.Responses.Codes.First(); pair != nil; pair = pair.Next() {
		if !strings.HasPrefix(pair.Key(), "2") {
			continue
		}
		resp := pair.Value()
		if resp == nil || resp.Content == nil {
			continue
		}
		media, ok := resp.Content.Get("application/json")
		if !ok || media == nil || media.Schema == nil {
			continue
		}
		return media.Schema.Schema()
	}
	return nil
}

// collectionItems returns the item schema of a list response, which is
// either a bare array or an object holding the array under key.
func collectionItems(schema *base.Schema, key string) *base.Schema {
	if isType(schema, "object") && schema.Properties != nil {
		if proxy, ok := schema.Properties.Get(key); ok && proxy != nil {
			schema = proxy.Schema()
		}
	}
	return arrayItems(schema)
}

// arrayItems returns the item schema of an array schema.
func arrayItems(schema *base.Schema) *base.Schema {
	if schema != nil && isType(schema, "array") && schema.Items != nil && schema.Items.A != nil {
		return schema.Items.A.Schema()
	}
	return nil
}

func buildFields(schema *base.Schema) []Field {
	if schema == nil || schema.Properties == nil {
		return nil
	}
	var fields []Field
	for pair := schema.Properties.First(); pair != nil; pair = pair.Next() {
		f := Field{Name: pair.Key(), WireName: pair.Key()}
		prop := pair.Value().Schema()
		if prop != nil {
			if wire := extensionString(prop.Extensions, "x-wire-name"); wire != "" {
				f.WireName = wire
			}
			switch {
			case isType(prop, "object"):
				f.Fields = buildFields(prop)
			case isType(prop, "array") && prop.Items != nil && prop.Items.A != nil:
				if items := prop.Items.A.Schema(); items != nil && isType(items, "object") {
					f.Fields = buildFields(items)
					f.Array = len(f.Fields) > 0
				}
			}
		}
		fields = append(fields, f)
	}
	return fields
}

func isType(schema *base.Schema, typ string) bool {
	return slices.Contains(schema.Type, typ)
}

func extension(ext *orderedmap.Map[string, *yaml.Node], key string) *yaml.Node {
	if ext == nil {
		return nil
	}
	node, ok := ext.Get(key)
	if !ok {
		return nil
	}
	return node
}

func extensionString(ext *orderedmap.Map[string, *yaml.Node], key string) string {
	if node := extension(ext, key); node != nil {
		return strings.TrimSpace(node.Value)
	}
	return ""
}

