package moneybird

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/saasmcp/auth"
	"github.com/loopwork-ai/saasmcp/catalog"
	"github.com/loopwork-ai/saasmcp/internal/config"
	"github.com/loopwork-ai/saasmcp/internal/vendortest"
	"github.com/loopwork-ai/saasmcp/mcp"
	"github.com/loopwork-ai/saasmcp/restapi"
)

const testToken = "envtoken"

func newRegistry(t *testing.T, v *vendortest.Vendor, fallback string) *mcp.Registry {
	t.Helper()
	cat, err := Catalog()
	require.NoError(t, err)

	client := restapi.New(cat,
		restapi.WithBaseURL(v.URL),
		restapi.WithHTTPClient(v.Client()),
		restapi.WithErrorFormat(ErrorFormat),
	)
	tools, err := client.Tools(Hooks(), nil)
	require.NoError(t, err)

	reg, err := mcp.NewRegistry(auth.BearerResolver{Fallback: fallback}, tools)
	require.NoError(t, err)
	return reg
}

func decodeBody(t *testing.T, r vendortest.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Body), &body))
	return body
}

func TestCatalog(t *testing.T) {
	cat, err := Catalog()
	require.NoError(t, err)

	assert.Equal(t, "https://moneybird.com/api/v2", cat.BaseURL)
	assert.Equal(t, catalog.AuthBearer, cat.Auth)

	var names []string
	for op := range cat.Operations() {
		names = append(names, op.ID)
		if op.ID == "moneybird_list_administrations" {
			continue
		}
		p, ok := op.Param("administration_id")
		require.True(t, ok, op.ID)
		assert.True(t, p.Required, op.ID)
		if strings.HasPrefix(op.ID, "moneybird_list_") {
			assert.NotEmpty(t, op.Collection, "%s lists a collection", op.ID)
		}
	}
	assert.ElementsMatch(t, []string{
		"moneybird_list_administrations",
		"moneybird_list_contacts",
		"moneybird_create_contact",
		"moneybird_get_contact",
		"moneybird_list_sales_invoices",
		"moneybird_create_sales_invoice",
		"moneybird_get_sales_invoice",
		"moneybird_list_financial_accounts",
		"moneybird_list_products",
		"moneybird_list_projects",
		"moneybird_list_time_entries",
	}, names)
}

func TestListAdministrations(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[
		{"id": "123", "name": "Acme BV", "language": "nl", "currency": "EUR", "country": "NL", "time_zone": "Europe/Amsterdam", "access": "accountant"}
	]`))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_list_administrations", nil, nil)
	require.False(t, res.IsError(), "%v", res.Err)
	assert.Equal(t, map[string]any{
		"administrations": []any{map[string]any{
			"id": "123", "name": "Acme BV", "language": "nl", "currency": "EUR",
			"country": "NL", "time_zone": "Europe/Amsterdam",
		}},
		"count": 1,
	}, res.Payload)

	calls := v.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/administrations.json", calls[0].Path)
	assert.Equal(t, "Bearer "+testToken, calls[0].Header.Get("Authorization"))
}

func TestMissingAdministration(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[]`))
	reg := newRegistry(t, v, testToken)

	for tool, args := range map[string]map[string]any{
		"moneybird_list_contacts":  nil,
		"moneybird_list_projects":  {"state": "all"},
		"moneybird_get_contact":    {"contact_id": "1"},
		"moneybird_create_contact": {"company_name": "Acme"},
	} {
		res := reg.DispatchArgs(context.Background(), tool, args, nil)
		require.True(t, res.IsError(), tool)
		assert.Equal(t, mcp.KindInvalidArgument, res.Err.Kind, tool)
		assert.Equal(t, "administration_id", res.Err.Field, tool)
	}
	assert.Empty(t, v.Calls())
}

func TestRateLimited(t *testing.T) {
	v := vendortest.New(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": "Too many requests, retry after 60 seconds"}`)
	}))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_list_sales_invoices", map[string]any{"administration_id": "123"}, nil)
	require.True(t, res.IsError())
	assert.Equal(t, mcp.KindRateLimited, res.Err.Kind)
	assert.Equal(t, "60", res.Err.RetryAfter)
	assert.Equal(t, "Too many requests, retry after 60 seconds", res.Err.Message)
	assert.Len(t, v.Calls(), 1, "rate limited calls are not retried")
}

func TestListSalesInvoicesFilter(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[
		{"id": "9", "invoice_id": "2024-0001", "contact_id": "42", "state": "paid",
		 "total_price_incl_tax": "121.0", "currency": "EUR", "details": [{"id": "1"}]}
	]`))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_list_sales_invoices", map[string]any{
		"administration_id": "123",
		"state":             "Paid",
		"period":            "this_month",
		"contact_id":        "42",
		"page":              2,
	}, nil)
	require.False(t, res.IsError(), "%v", res.Err)
	assert.Equal(t, 1, res.Payload["count"])
	assert.Equal(t, map[string]any{
		"state":      "paid",
		"period":     "this_month",
		"contact_id": "42",
	}, res.Payload["filters_applied"])
	assert.Equal(t, []any{map[string]any{
		"id": "9", "invoice_id": "2024-0001", "contact_id": "42", "state": "paid",
		"total_price_incl_tax": "121.0", "currency": "EUR",
	}}, res.Payload["sales_invoices"])

	calls := v.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/123/sales_invoices.json", calls[0].Path)
	assert.Equal(t, url.Values{
		"filter": {"state:paid,period:this_month,contact_id:42"},
		"page":   {"2"},
	}, calls[0].Query)
}

func TestListProjectsDefaultState(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[{"id": "5", "name": "Website", "state": "active", "budget": 40}]`))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_list_projects", map[string]any{"administration_id": "123"}, nil)
	require.False(t, res.IsError(), "%v", res.Err)
	assert.Equal(t, map[string]any{"state": "active"}, res.Payload["filters_applied"])
	assert.Equal(t, url.Values{"filter": {"state:active"}}, v.Calls()[0].Query)

	projects := res.Payload["projects"].([]any)
	require.Len(t, projects, 1)
	assert.Equal(t, json.Number("40"), projects[0].(map[string]any)["budget"])
}

// contactStore is a minimal stand-in for the contacts endpoints.
type contactStore struct {
	mu       sync.Mutex
	contacts map[string]map[string]any
}

func (s *contactStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{admin}/contacts.json", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contact map[string]any `json:"contact"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		id := strconv.Itoa(400000 + len(s.contacts))
		contact := map[string]any{
			"id":                id,
			"administration_id": r.PathValue("admin"),
			"version":           1700000000,
			"custom_fields":     []any{},
		}
		for k, v := range req.Contact {
			contact[k] = v
		}
		s.contacts[id] = contact
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(contact)
	})
	mux.HandleFunc("GET /{admin}/contacts/{file}", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(r.PathValue("file"), ".json")
		s.mu.Lock()
		contact, ok := s.contacts[id]
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error": "record not found"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(contact)
	})
	return mux
}

func TestContactRoundTrip(t *testing.T) {
	store := &contactStore{contacts: map[string]map[string]any{}}
	v := vendortest.New(t, store.handler())
	reg := newRegistry(t, v, testToken)

	faker := gofakeit.New(42)
	args := map[string]any{
		"administration_id": "123",
		"company_name":      faker.Company(),
		"firstname":         faker.FirstName(),
		"lastname":          faker.LastName(),
		"email":             faker.Email(),
		"phone":             faker.Phone(),
		"address1":          faker.Street(),
		"zipcode":           faker.Zip(),
		"city":              faker.City(),
		"country":           faker.CountryAbr(),
		"customer_id":       faker.UUID(),
	}

	created := reg.DispatchArgs(context.Background(), "moneybird_create_contact", args, nil)
	require.False(t, created.IsError(), "%v", created.Err)

	calls := v.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/123/contacts.json", calls[0].Path)
	assert.Equal(t, "application/json", calls[0].Header.Get("Content-Type"))
	assert.Equal(t, map[string]any{"contact": map[string]any{
		"company_name":           args["company_name"],
		"firstname":              args["firstname"],
		"lastname":               args["lastname"],
		"send_invoices_to_email": args["email"],
		"phone":                  args["phone"],
		"address1":               args["address1"],
		"zipcode":                args["zipcode"],
		"city":                   args["city"],
		"country":                args["country"],
		"customer_id":            args["customer_id"],
	}}, decodeBody(t, calls[0]))

	id, ok := created.Payload["id"].(string)
	require.True(t, ok, "created contact has an id")

	fetched := reg.DispatchArgs(context.Background(), "moneybird_get_contact", map[string]any{
		"administration_id": "123",
		"contact_id":        id,
	}, nil)
	require.False(t, fetched.IsError(), "%v", fetched.Err)
	if diff := cmp.Diff(created.Payload, fetched.Payload); diff != "" {
		t.Errorf("fetched contact differs from created (-created +fetched):\n%s", diff)
	}
	assert.Equal(t, "/123/contacts/"+id+".json", v.Calls()[1].Path)

	missing := reg.DispatchArgs(context.Background(), "moneybird_get_contact", map[string]any{
		"administration_id": "123",
		"contact_id":        "1",
	}, nil)
	require.True(t, missing.IsError())
	assert.Equal(t, mcp.KindNotFound, missing.Err.Kind)
	assert.Equal(t, "record not found", missing.Err.Message)
}

func TestCreateContactNeedsName(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusCreated, `{"id": "1"}`))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_create_contact", map[string]any{
		"administration_id": "123",
		"email":             "billing@example.com",
		"company_name":      "",
	}, nil)
	require.True(t, res.IsError())
	assert.Equal(t, mcp.KindInvalidArgument, res.Err.Kind)
	assert.Equal(t, "company_name", res.Err.Field)
	assert.Empty(t, v.Calls())

	res = reg.DispatchArgs(context.Background(), "moneybird_create_contact", map[string]any{
		"administration_id": "123",
		"lastname":          "Jansen",
	}, nil)
	require.False(t, res.IsError(), "%v", res.Err)
	assert.Len(t, v.Calls(), 1)
}

func TestCreateSalesInvoice(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusCreated, `{
		"id": "77", "contact_id": "42", "state": "draft",
		"details": [{"id": "1", "description": "Consulting", "price": "100.0", "amount": "3"}]
	}`))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_create_sales_invoice", map[string]any{
		"administration_id":   "123",
		"contact_id":          "42",
		"reference":           "PO-17",
		"prices_are_incl_tax": "false",
		"details": []any{
			map[string]any{"description": "Consulting", "price": 100, "amount": "3"},
		},
	}, nil)
	require.False(t, res.IsError(), "%v", res.Err)
	assert.Equal(t, "draft", res.Payload["state"])
	assert.Len(t, res.Payload["details"], 1, "invoice results are returned in full")

	calls := v.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/123/sales_invoices.json", calls[0].Path)
	assert.Equal(t, map[string]any{"sales_invoice": map[string]any{
		"contact_id":          "42",
		"reference":           "PO-17",
		"prices_are_incl_tax": false,
		"details_attributes": []any{
			map[string]any{"description": "Consulting", "price": float64(100), "amount": "3"},
		},
	}}, decodeBody(t, calls[0]))
}

func TestCreateSalesInvoiceDetails(t *testing.T) {
	tests := []struct {
		name    string
		details any
	}{
		{name: "empty", details: []any{}},
		{name: "not objects", details: []any{"Consulting"}},
		{name: "line without description", details: []any{map[string]any{"price": 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := vendortest.New(t, vendortest.Respond(http.StatusCreated, `{}`))
			reg := newRegistry(t, v, testToken)

			res := reg.DispatchArgs(context.Background(), "moneybird_create_sales_invoice", map[string]any{
				"administration_id": "123",
				"contact_id":        "42",
				"details":           tt.details,
			}, nil)
			require.True(t, res.IsError())
			assert.Equal(t, mcp.KindInvalidArgument, res.Err.Kind)
			assert.Equal(t, "details", res.Err.Field)
			assert.Empty(t, v.Calls())
		})
	}
}

func TestValidationErrorKeepsFieldErrors(t *testing.T) {
	v := vendortest.New(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error": {"contact_id": ["does not exist"]}, "symbolic": {"contact_id": "invalid"}}`)
	}))
	reg := newRegistry(t, v, testToken)

	res := reg.DispatchArgs(context.Background(), "moneybird_create_sales_invoice", map[string]any{
		"administration_id": "123",
		"contact_id":        "404",
		"details":           []any{map[string]any{"description": "Hosting", "price": "10"}},
	}, nil)
	require.True(t, res.IsError())
	assert.Equal(t, mcp.KindValidationError, res.Err.Kind)
	assert.JSONEq(t, `{"contact_id": ["does not exist"]}`, res.Err.Message)
	assert.JSONEq(t, `{"contact_id": "invalid"}`, res.Err.VendorCode)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Err.Status)
}

func TestCredentialPrecedence(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[]`))

	tests := []struct {
		name     string
		fallback string
		header   http.Header
		want     string
		kind     mcp.ErrorKind
	}{
		{
			name:     "environment",
			fallback: testToken,
			want:     "Bearer " + testToken,
		},
		{
			name:     "auth token header",
			fallback: testToken,
			header:   http.Header{auth.HeaderAuthToken: {"hdrtoken"}},
			want:     "Bearer hdrtoken",
		},
		{
			name:     "authorization header",
			fallback: testToken,
			header:   http.Header{"Authorization": {"Bearer oauthtoken"}},
			want:     "Bearer oauthtoken",
		},
		{
			name:     "basic authorization",
			fallback: testToken,
			header:   http.Header{"Authorization": {"Basic dXNlcjpwYXNz"}},
			kind:     mcp.KindMissingCredential,
		},
		{
			name: "nothing",
			kind: mcp.KindMissingCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t, v, tt.fallback)
			before := len(v.Calls())

			res := reg.DispatchArgs(context.Background(), "moneybird_list_administrations", nil, tt.header)
			if tt.kind != "" {
				require.True(t, res.IsError())
				assert.Equal(t, tt.kind, res.Err.Kind)
				assert.Len(t, v.Calls(), before)
				return
			}
			require.False(t, res.IsError(), "%v", res.Err)
			calls := v.Calls()
			require.Len(t, calls, before+1)
			assert.Equal(t, tt.want, calls[before].Header.Get("Authorization"))
		})
	}
}

func TestReadOnlyToolsOnlyRead(t *testing.T) {
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[]`))
	reg := newRegistry(t, v, testToken)

	invoked := 0
	for tool := range reg.List() {
		if !tool.ReadOnly {
			continue
		}
		args := map[string]any{}
		for _, p := range tool.Params {
			if p.Required {
				args[p.Name] = "123"
			}
		}
		before := len(v.Calls())
		res := reg.DispatchArgs(context.Background(), tool.Name, args, nil)
		require.False(t, res.IsError(), "%s: %v", tool.Name, res.Err)
		assert.Len(t, v.Calls(), before+1, tool.Name)
		invoked++
	}

	assert.Equal(t, 9, invoked)
	for _, method := range v.Methods() {
		assert.Equal(t, http.MethodGet, method)
	}
}

func TestServiceBuild(t *testing.T) {
	t.Setenv(EnvAPIToken, testToken)
	v := vendortest.New(t, vendortest.Respond(http.StatusOK, `[{"id": "123", "name": "Acme BV"}]`))

	cfg := config.DefaultConfig()
	cfg.BaseURL = v.URL
	cfg.ReadOnly = true
	require.NoError(t, cfg.Validate())

	svc := Service()
	server, err := svc.Build(context.Background(), cfg, nil, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, 9, server.Registry().Len())
	_, ok := server.Registry().Lookup("moneybird_create_contact")
	assert.False(t, ok, "write tools are hidden in read-only mode")

	res := server.Registry().DispatchArgs(context.Background(), "moneybird_list_administrations", nil, nil)
	require.False(t, res.IsError(), "%v", res.Err)
	assert.Equal(t, 1, res.Payload["count"])
	assert.Equal(t, "Bearer "+testToken, v.Calls()[0].Header.Get("Authorization"))
}
