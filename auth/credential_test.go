package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestResolveBasic(t *testing.T) {
	env := BasicFallback{Username: "ACenv", Secret: "envtoken"}
	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("ACbasic:basictoken"))

	tests := []struct {
		name     string
		header   http.Header
		fallback BasicFallback
		want     Credential
		wantErr  bool
	}{
		{
			name:     "combined token header wins over environment",
			header:   header("x-auth-token", "AChdr:hdrtoken"),
			fallback: env,
			want:     Credential{Username: "AChdr", Secret: "hdrtoken", Source: SourceHeader},
		},
		{
			name:     "separate sid and token headers",
			header:   header("x-account-sid", "ACpair", "x-auth-token", "pairtoken"),
			fallback: env,
			want:     Credential{Username: "ACpair", Secret: "pairtoken", Source: SourceHeader},
		},
		{
			name:     "authorization basic header",
			header:   header("Authorization", basic),
			fallback: env,
			want:     Credential{Username: "ACbasic", Secret: "basictoken", Source: SourceHeader},
		},
		{
			name:     "no header uses environment",
			header:   http.Header{},
			fallback: env,
			want:     Credential{Username: "ACenv", Secret: "envtoken", Source: SourceEnvironment},
		},
		{
			name:     "nil header uses environment",
			header:   nil,
			fallback: env,
			want:     Credential{Username: "ACenv", Secret: "envtoken", Source: SourceEnvironment},
		},
		{
			name:     "token without sid is not completed from environment",
			header:   header("x-auth-token", "hdrtoken"),
			fallback: env,
			wantErr:  true,
		},
		{
			name:     "sid without token is not completed from environment",
			header:   header("x-account-sid", "AChdr"),
			fallback: env,
			wantErr:  true,
		},
		{
			name:     "bearer scheme rejected",
			header:   header("Authorization", "Bearer abc"),
			fallback: env,
			wantErr:  true,
		},
		{
			name:     "partial environment",
			header:   http.Header{},
			fallback: BasicFallback{Username: "ACenv"},
			wantErr:  true,
		},
		{
			name:    "nothing configured",
			header:  http.Header{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBasic(tt.header, tt.fallback)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMissingCredential))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveBearer(t *testing.T) {
	tests := []struct {
		name     string
		header   http.Header
		fallback string
		want     Credential
		wantErr  bool
	}{
		{
			name:     "token header wins",
			header:   header("x-auth-token", "hdr"),
			fallback: "env",
			want:     Credential{Secret: "hdr", Source: SourceHeader},
		},
		{
			name:     "authorization bearer header",
			header:   header("Authorization", "Bearer abc123"),
			fallback: "env",
			want:     Credential{Secret: "abc123", Source: SourceHeader},
		},
		{
			name:     "environment fallback",
			header:   http.Header{},
			fallback: "env",
			want:     Credential{Secret: "env", Source: SourceEnvironment},
		},
		{
			name:     "whitespace token treated as absent",
			header:   header("x-auth-token", "   "),
			fallback: "env",
			want:     Credential{Secret: "env", Source: SourceEnvironment},
		},
		{
			name:     "basic scheme rejected",
			header:   header("Authorization", "Basic Zm9vOmJhcg=="),
			fallback: "env",
			wantErr:  true,
		},
		{
			name:    "nothing configured",
			header:  http.Header{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBearer(tt.header, tt.fallback)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMissingCredential))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialApply(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
	Credential{Username: "AC1", Secret: "tok"}.Apply(req)
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "AC1", user)
	assert.Equal(t, "tok", pass)

	req = httptest.NewRequest(http.MethodGet, "https://example.com", nil)
	Credential{Secret: "tok"}.Apply(req)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}

func TestCredentialStringRedactsSecret(t *testing.T) {
	c := Credential{Username: "AC1", Secret: "supersecret", Source: SourceHeader}
	assert.NotContains(t, c.String(), "supersecret")
	assert.Contains(t, c.String(), "AC1")
}

func TestResolvers(t *testing.T) {
	var r Resolver = BasicResolver{Fallback: BasicFallback{Username: "AC", Secret: "s"}}
	c, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, SourceEnvironment, c.Source)

	r = BearerResolver{Fallback: "tok"}
	c, err = r.Resolve(header("x-auth-token", "hdr"))
	require.NoError(t, err)
	assert.Equal(t, "hdr", c.Secret)
	assert.Equal(t, SourceHeader, c.Source)
}
