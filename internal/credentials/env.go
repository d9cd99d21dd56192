package credentials

import (
	"context"
	"os"
	"strings"

	"auraly/internal/ports"
)

// EnvOverride reads the credential from an environment variable when it is
// set, and falls back to the wrapped store otherwise. Writes always go to the
// wrapped store.
type EnvOverride struct {
	Store  ports.CredentialStore
	Key    string
	Lookup func(string) (string, bool)
}

func (e EnvOverride) Get(ctx context.Context) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if e.Key != "" {
		if value, ok := lookup(e.Key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	return e.Store.Get(ctx)
}

func (e EnvOverride) Set(ctx context.Context, credential string) error {
	return e.Store.Set(ctx, credential)
}

func (e EnvOverride) Clear(ctx context.Context) error {
	return e.Store.Clear(ctx)
}

// Mask hides all but the last four characters of a credential.
func Mask(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 4 {
		return strings.Repeat("*", len(credential))
	}
	return strings.Repeat("*", len(credential)-4) + credential[len(credential)-4:]
}
