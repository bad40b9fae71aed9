// Package auth resolves the credentials used to call a vendor API.
//
// A credential supplied with the request always wins. The configured
// fallback is used only when the request carries no credential at all,
// and the two sources are never mixed.
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMissingCredential is returned when no usable credential is available.
var ErrMissingCredential = errors.New("missing credential")

const (
	// HeaderAuthToken carries the vendor secret on a request.
	HeaderAuthToken = "X-Auth-Token"
	// HeaderAccountSID optionally carries the account identifier that
	// pairs with HeaderAuthToken.
	HeaderAccountSID = "X-Account-Sid"
)

// Source records where a credential came from.
type Source string

const (
	SourceHeader      Source = "request-header"
	SourceEnvironment Source = "environment-fallback"
)

// Credential is the resolved secret material for a single call.
type Credential struct {
	// Username is the account identifier for Basic auth. Empty for bearer tokens.
	Username string
	Secret   string
	Source   Source
}

// String never includes the secret.
func (c Credential) String() string {
	if c.Username != "" {
		return c.Username + ":***(" + string(c.Source) + ")"
	}
	return "***(" + string(c.Source) + ")"
}

// Apply sets the Authorization header on req.
func (c Credential) Apply(req *http.Request) {
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Secret)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)
}

// Resolver produces the credential for a call from its request header.
type Resolver interface {
	Resolve(header http.Header) (Credential, error)
}

// BasicFallback is the account identifier and secret used when a request
// carries no credential.
type BasicFallback struct {
	Username string
	Secret   string
}

// ResolveBasic resolves an account identifier and secret pair.
//
// Accepted request forms are "X-Auth-Token: <sid>:<token>", the pair
// "X-Account-Sid: <sid>" plus "X-Auth-Token: <token>", and
// "Authorization: Basic ...". A request that supplies only one half of the
// pair is rejected rather than completed from the fallback.
func ResolveBasic(header http.Header, fallback BasicFallback) (Credential, error) {
	username, secret, present, err := basicFromHeader(header)
	if err != nil {
		return Credential{}, err
	}
	if present {
		return Credential{Username: username, Secret: secret, Source: SourceHeader}, nil
	}

	if fallback.Username == "" && fallback.Secret == "" {
		return Credential{}, errors.Wrap(ErrMissingCredential, "no credential in request and no fallback configured")
	}
	if fallback.Username == "" || fallback.Secret == "" {
		return Credential{}, errors.Wrap(ErrMissingCredential, "fallback credential needs both account identifier and secret")
	}
	return Credential{Username: fallback.Username, Secret: fallback.Secret, Source: SourceEnvironment}, nil
}

// ResolveBearer resolves a single bearer token from "X-Auth-Token" or
// "Authorization: Bearer ...", falling back to the configured token.
func ResolveBearer(header http.Header, fallback string) (Credential, error) {
	if token := strings.TrimSpace(header.Get(HeaderAuthToken)); token != "" {
		return Credential{Secret: token, Source: SourceHeader}, nil
	}
	if v := strings.TrimSpace(header.Get("Authorization")); v != "" {
		scheme, token, _ := strings.Cut(v, " ")
		token = strings.TrimSpace(token)
		if !strings.EqualFold(scheme, "Bearer") || token == "" {
			return Credential{}, errors.Wrap(ErrMissingCredential, "authorization header must use the Bearer scheme")
		}
		return Credential{Secret: token, Source: SourceHeader}, nil
	}

	if fallback == "" {
		return Credential{}, errors.Wrap(ErrMissingCredential, "no credential in request and no fallback configured")
	}
	return Credential{Secret: fallback, Source: SourceEnvironment}, nil
}

func basicFromHeader(header http.Header) (username, secret string, present bool, err error) {
	token := strings.TrimSpace(header.Get(HeaderAuthToken))
	sid := strings.TrimSpace(header.Get(HeaderAccountSID))

	switch {
	case token != "" && sid != "":
		return sid, token, true, nil
	case token != "":
		u, s, ok := strings.Cut(token, ":")
		if !ok || u == "" || s == "" {
			return "", "", true, errors.Wrapf(ErrMissingCredential, "%s must be <account-sid>:<auth-token> or paired with %s", HeaderAuthToken, HeaderAccountSID)
		}
		return u, s, true, nil
	case sid != "":
		return "", "", true, errors.Wrapf(ErrMissingCredential, "%s given without %s", HeaderAccountSID, HeaderAuthToken)
	}

	v := strings.TrimSpace(header.Get("Authorization"))
	if v == "" {
		return "", "", false, nil
	}
	scheme, encoded, _ := strings.Cut(v, " ")
	if !strings.EqualFold(scheme, "Basic") {
		return "", "", true, errors.Wrap(ErrMissingCredential, "authorization header must use the Basic scheme")
	}
	decoded, decodeErr := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if decodeErr != nil {
		return "", "", true, errors.Wrap(ErrMissingCredential, "authorization header is not valid base64")
	}
	u, s, ok := strings.Cut(string(decoded), ":")
	if !ok || u == "" || s == "" {
		return "", "", true, errors.Wrap(ErrMissingCredential, "authorization header needs both account identifier and secret")
	}
	return u, s, true, nil
}

// BasicResolver resolves Basic credentials with a fixed fallback.
type BasicResolver struct {
	Fallback BasicFallback
}

func (r BasicResolver) Resolve(header http.Header) (Credential, error) {
	return ResolveBasic(header, r.Fallback)
}

// BearerResolver resolves bearer tokens with a fixed fallback.
type BearerResolver struct {
	Fallback string
}

func (r BearerResolver) Resolve(header http.Header) (Credential, error) {
	return ResolveBearer(header, r.Fallback)
}
