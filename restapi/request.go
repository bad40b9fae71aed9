package restapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/sjson"

	"github.com/loopwork-ai/saasmcp/catalog"
	"github.com/loopwork-ai/saasmcp/mcp"
)

func (c *Client) newRequest(ctx context.Context, op *catalog.Operation, call *mcp.Call) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, errors.New("no base URL configured")
	}

	path, err := expandPath(op, call)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, errors.Wrap(err, "building request URL")
	}
	u.RawQuery = encodeQuery(op, call.Arguments)

	var body io.Reader
	var contentType string
	switch op.Encoding {
	case catalog.EncodingForm:
		body = strings.NewReader(encodeForm(op, call.Arguments).Encode())
		contentType = "application/x-www-form-urlencoded"
	case catalog.EncodingJSON:
		data, err := encodeJSON(op, call.Arguments)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	switch c.catalog.Auth {
	case catalog.AuthBasic:
		if call.Credential.Username == "" {
			return nil, mcp.NewError(mcp.KindMissingCredential, "account identifier is required")
		}
		req.SetBasicAuth(call.Credential.Username, call.Credential.Secret)
	case catalog.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+call.Credential.Secret)
	default:
		call.Credential.Apply(req)
	}
	return req, nil
}

func expandPath(op *catalog.Operation, call *mcp.Call) (string, error) {
	path := op.Path
	for _, p := range op.Params {
		if p.In != catalog.InPath {
			continue
		}

		var segment string
		switch {
		case p.Credential:
			segment = url.PathEscape(call.Credential.Username)
		case p.WireValues != nil:
			wire, ok := p.WireValues[call.Arguments.String(p.Name)]
			if !ok {
				return "", mcp.InvalidArgument(p.Name, "unsupported value %q", call.Arguments.String(p.Name))
			}
			segment = wire
		default:
			value := call.Arguments.String(p.Name)
			if value == "" {
				return "", mcp.InvalidArgument(p.Name, "must not be empty")
			}
			segment = url.PathEscape(value)
		}
		path = strings.ReplaceAll(path, "{"+p.Name+"}", segment)
	}
	return path, nil
}

func encodeQuery(op *catalog.Operation, args mcp.Arguments) string {
	q := url.Values{}
	var filters []string
	for _, p := range op.Params {
		if p.In != catalog.InQuery || !args.Has(p.Name) {
			continue
		}
		if p.FilterKey != "" {
			filters = append(filters, p.FilterKey+":"+args.String(p.Name))
			continue
		}
		for _, v := range args.Strings(p.Name) {
			q.Add(p.WireName, v)
		}
	}
	if len(filters) > 0 {
		q.Set(catalog.FilterParam, strings.Join(filters, ","))
	}
	return q.Encode()
}

// encodeForm repeats the key for each element of an array argument.
func encodeForm(op *catalog.Operation, args mcp.Arguments) url.Values {
	form := url.Values{}
	for _, p := range op.Params {
		if p.In != catalog.InBody || !args.Has(p.Name) {
			continue
		}
		for _, v := range args.Strings(p.Name) {
			form.Add(p.WireName, v)
		}
	}
	return form
}

// encodeJSON places each argument at its dotted wire path.
func encodeJSON(op *catalog.Operation, args mcp.Arguments) ([]byte, error) {
	data := []byte("{}")
	for _, p := range op.Params {
		if p.In != catalog.InBody || !args.Has(p.Name) {
			continue
		}
		var err error
		data, err = sjson.SetBytes(data, p.WireName, args[p.Name].Interface())
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", p.Name)
		}
	}
	return data, nil
}
