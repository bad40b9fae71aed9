package internal

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// CommandContext allows overriding command creation in tests.
	CommandContext = exec.CommandContext
	// LookPath allows overriding the executable lookup in tests.
	LookPath = exec.LookPath
	// Getenv allows overriding environment lookup in tests.
	Getenv = os.Getenv
)

const secretReferencePrefix = "op://"

// ResolveSecretReference resolves a 1Password secret reference
// (op://vault/item/field) with the op CLI. Other values are returned as is.
// The boolean reports whether value was a secret reference.
func ResolveSecretReference(ctx context.Context, value string) (string, bool, error) {
	if !strings.HasPrefix(value, secretReferencePrefix) {
		return value, false, nil
	}

	parts := strings.Split(strings.TrimPrefix(value, secretReferencePrefix), "/")
	if len(parts) < 3 {
		return "", true, errors.Newf("malformed secret reference %q: want op://vault/item/field", value)
	}
	for _, p := range parts {
		if p == "" {
			return "", true, errors.Newf("malformed secret reference %q: empty segment", value)
		}
	}

	if _, err := LookPath("op"); err != nil {
		return "", true, errors.Wrap(err, "1Password CLI (op) not found in PATH")
	}

	cmd := CommandContext(ctx, "op", "read", value)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", true, errors.Newf("failed to read secret from 1Password: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", true, errors.Wrap(err, "failed to read secret from 1Password")
	}

	return strings.TrimSpace(string(output)), true, nil
}

// LookupSecret reads an environment variable and resolves it if it holds a
// secret reference. An unset variable yields "".
func LookupSecret(ctx context.Context, name string) (string, error) {
	value := strings.TrimSpace(Getenv(name))
	if value == "" {
		return "", nil
	}
	resolved, _, err := ResolveSecretReference(ctx, value)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", name)
	}
	return resolved, nil
}
