// Package moneybird exposes the Moneybird accounting API as MCP tools.
package moneybird

import (
	"context"
	_ "embed"

	"github.com/loopwork-ai/saasmcp/auth"
	"github.com/loopwork-ai/saasmcp/catalog"
	"github.com/loopwork-ai/saasmcp/internal"
	"github.com/loopwork-ai/saasmcp/internal/cli"
	"github.com/loopwork-ai/saasmcp/mcp"
	"github.com/loopwork-ai/saasmcp/restapi"
)

//go:embed openapi.yaml
var openAPI []byte

const (
	Name = "moneybird-mcp"

	EnvAPIToken = "MONEYBIRD_API_TOKEN"
	EnvPort     = "MONEYBIRD_MCP_SERVER_PORT"
)

const instructions = `Tools for the Moneybird administrations reachable with the request credential.
Always call moneybird_list_administrations first and pass the chosen id as administration_id to every other tool.
Creating contacts and invoices is never retried; check results before repeating a call.`

// ErrorFormat locates the message in Moneybird error bodies, where "error"
// is either a sentence or an object of per-field messages.
var ErrorFormat = restapi.ErrorFormat{
	Message: []string{"error", "message"},
	Code:    []string{"symbolic"},
}

// Catalog returns the Moneybird operations.
func Catalog() (*catalog.Catalog, error) {
	return catalog.Load(openAPI)
}

// NewResolver reads the fallback token from the environment.
func NewResolver(ctx context.Context) (auth.Resolver, error) {
	token, err := internal.LookupSecret(ctx, EnvAPIToken)
	if err != nil {
		return nil, err
	}
	return auth.BearerResolver{Fallback: token}, nil
}

// Service describes the Moneybird server.
func Service() cli.Service {
	return cli.Service{
		Name:  Name,
		Short: "MCP server for the Moneybird accounting API",
		Long: `moneybird-mcp exposes Moneybird contacts, invoices, products, projects and time entries as MCP tools.

Credentials come from the X-Auth-Token header or an Authorization: Bearer header on
each request. Without either, ` + EnvAPIToken + ` is used; it may be a 1Password
reference (op://vault/item/field).`,
		PortEnv:      EnvPort,
		Instructions: instructions,
		Catalog:      Catalog,
		Hooks:        Hooks(),
		ErrorFormat:  ErrorFormat,
		Resolver:     NewResolver,
	}
}

// Hooks returns the local checks of the Moneybird tools.
func Hooks() map[string]restapi.Hooks {
	return map[string]restapi.Hooks{
		"moneybird_create_contact": {
			Check: checkContactName,
		},
		"moneybird_create_sales_invoice": {
			Check: checkInvoiceDetails,
		},
	}
}

func checkContactName(args mcp.Arguments) error {
	if args.String("company_name") == "" && args.String("firstname") == "" && args.String("lastname") == "" {
		return mcp.InvalidArgument("company_name", "a contact needs a company_name or a firstname or lastname")
	}
	return nil
}

func checkInvoiceDetails(args mcp.Arguments) error {
	details, _ := args["details"].(mcp.Array)
	if len(details) == 0 {
		return mcp.InvalidArgument("details", "an invoice needs at least one detail line")
	}
	for _, d := range details {
		line, ok := d.(mcp.Object)
		if !ok {
			return mcp.InvalidArgument("details", "each detail line must be an object")
		}
		if _, ok := line["description"]; !ok {
			return mcp.InvalidArgument("details", "each detail line needs a description")
		}
	}
	return nil
}
