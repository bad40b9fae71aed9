// Package twilio exposes the Twilio REST API as MCP tools.
package twilio

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"unicode/utf8"

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
	Name = "twilio-mcp"

	EnvAccountSID = "TWILIO_ACCOUNT_SID"
	EnvAuthToken  = "TWILIO_AUTH_TOKEN"
	EnvPort       = "TWILIO_MCP_SERVER_PORT"

	// MaxBodyLength is the longest message body Twilio accepts, in characters.
	MaxBodyLength = 1600
	// MaxMediaURLs is the most media attachments one MMS can carry.
	MaxMediaURLs = 10
)

const instructions = `Tools for the Twilio account identified by the request credential.
Phone numbers are always E.164: a leading "+", the country code and the national number, digits only.
Sending messages, placing calls and buying or releasing numbers cost money and are never retried; check results before repeating a call.`

// ErrorFormat locates the message and code in Twilio error bodies.
var ErrorFormat = restapi.ErrorFormat{
	Message: []string{"message"},
	Code:    []string{"code"},
}

var e164 = regexp.MustCompile(`^\+[0-9]{1,15}$`)

// Catalog returns the Twilio operations.
func Catalog() (*catalog.Catalog, error) {
	return catalog.Load(openAPI)
}

// NewResolver reads the fallback account from the environment.
func NewResolver(ctx context.Context) (auth.Resolver, error) {
	sid, err := internal.LookupSecret(ctx, EnvAccountSID)
	if err != nil {
		return nil, err
	}
	token, err := internal.LookupSecret(ctx, EnvAuthToken)
	if err != nil {
		return nil, err
	}
	return auth.BasicResolver{Fallback: auth.BasicFallback{Username: sid, Secret: token}}, nil
}

// Service describes the Twilio server.
func Service() cli.Service {
	return cli.Service{
		Name:  Name,
		Short: "MCP server for the Twilio messaging and voice API",
		Long: `twilio-mcp exposes Twilio messaging, voice, phone number and usage operations as MCP tools.

Credentials come from the X-Auth-Token header ("<AccountSid>:<AuthToken>") or an
Authorization: Basic header on each request. Without either, ` + EnvAccountSID + ` and
` + EnvAuthToken + ` are used. Both values may be 1Password references (op://vault/item/field).`,
		PortEnv:      EnvPort,
		Instructions: instructions,
		Catalog:      Catalog,
		Hooks:        Hooks(),
		ErrorFormat:  ErrorFormat,
		Resolver:     NewResolver,
	}
}

// Hooks returns the local checks and result adjustments of the Twilio tools.
func Hooks() map[string]restapi.Hooks {
	return map[string]restapi.Hooks{
		"twilio_send_sms": {
			Check: all(phoneNumbers("to", "from_"), checkBody),
		},
		"twilio_send_mms": {
			Check: all(phoneNumbers("to", "from_"), checkBody, checkMedia),
		},
		"twilio_get_messages": {
			Check: phoneNumbers("to", "from_"),
		},
		"twilio_make_call": {
			Check: all(phoneNumbers("to", "from_"), checkCallInstructions),
		},
		"twilio_get_calls": {
			Check: phoneNumbers("to", "from_"),
		},
		"twilio_purchase_phone_number": {
			Check: phoneNumbers("phone_number"),
		},
		"twilio_update_phone_number": {
			Check: atLeastOne("friendly_name", "voice_url", "sms_url", "status_callback"),
		},
		"twilio_release_phone_number": {
			Finish: func(payload map[string]any, args mcp.Arguments) map[string]any {
				payload["message"] = fmt.Sprintf("Phone number %s released", args.String("phone_number_sid"))
				return payload
			},
		},
		"twilio_get_usage_records": {
			Finish: summarizeUsage,
		},
	}
}

func all(checks ...restapi.Check) restapi.Check {
	return func(args mcp.Arguments) error {
		for _, check := range checks {
			if err := check(args); err != nil {
				return err
			}
		}
		return nil
	}
}

// ValidPhoneNumber reports whether s is an E.164 number.
func ValidPhoneNumber(s string) bool {
	return e164.MatchString(s)
}

// phoneNumbers checks the named arguments that are present.
func phoneNumbers(names ...string) restapi.Check {
	return func(args mcp.Arguments) error {
		for _, name := range names {
			if !args.Has(name) {
				continue
			}
			if v := args.String(name); !ValidPhoneNumber(v) {
				return mcp.ValidationError(name, "%q is not an E.164 phone number (expected + followed by up to 15 digits, e.g. +15551234567)", v)
			}
		}
		return nil
	}
}

func checkBody(args mcp.Arguments) error {
	if n := utf8.RuneCountInString(args.String("body")); n > MaxBodyLength {
		return mcp.ValidationError("body", "message body is %d characters, the limit is %d", n, MaxBodyLength)
	}
	return nil
}

func checkMedia(args mcp.Arguments) error {
	media := args.Strings("media_url")
	if args.String("body") == "" && len(media) == 0 {
		return mcp.InvalidArgument("media_url", "an MMS needs a body or at least one media_url")
	}
	if len(media) > MaxMediaURLs {
		return mcp.ValidationError("media_url", "%d media URLs given, the limit is %d", len(media), MaxMediaURLs)
	}
	return nil
}

func checkCallInstructions(args mcp.Arguments) error {
	hasURL, hasTwiML := args.Has("url"), args.Has("twiml")
	switch {
	case hasURL && hasTwiML:
		return mcp.InvalidArgument("twiml", "give either url or twiml, not both")
	case !hasURL && !hasTwiML:
		return mcp.InvalidArgument("url", "one of url or twiml is required")
	}
	return nil
}

func atLeastOne(names ...string) restapi.Check {
	return func(args mcp.Arguments) error {
		for _, name := range names {
			if args.Has(name) {
				return nil
			}
		}
		return mcp.InvalidArgument(names[0], "at least one of %v must be given", names)
	}
}

// summarizeUsage totals the usage and price of the returned page.
func summarizeUsage(payload map[string]any, args mcp.Arguments) map[string]any {
	records, _ := payload["usage_records"].([]any)

	var totalUsage, totalPrice float64
	currency := ""
	for _, r := range records {
		record, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := number(record["usage"]); ok {
			totalUsage += v
		}
		if v, ok := number(record["price"]); ok {
			totalPrice += v
		}
		if unit, ok := record["price_unit"].(string); ok && unit != "" && currency == "" {
			currency = unit
		}
	}
	if currency == "" {
		currency = "USD"
	}

	payload["summary"] = map[string]any{
		"total_usage": totalUsage,
		"total_price": math.Round(totalPrice*1e4) / 1e4,
		"currency":    currency,
		"granularity": args.String("granularity"),
	}
	return payload
}

func number(v any) (float64, bool) {
	var s string
	switch v := v.(type) {
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	case float64:
		return v, true
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
