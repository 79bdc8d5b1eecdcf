package security

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultSecretEnvVar is the environment variable the fallback provider reads.
const DefaultSecretEnvVar = "CRMSEC_JWT_SECRET"

// SecretProvider supplies the JWT signing secret. The core never looks the
// secret up itself; a provider is injected once at startup so deployments can
// swap the environment fallback for an external secrets manager.
type SecretProvider interface {
	Secret() ([]byte, error)
}

// EnvSecretProvider reads the signing secret from an environment variable.
type EnvSecretProvider struct {
	envVar string

	once   sync.Once
	secret []byte
	err    error
}

// NewEnvSecretProvider constructs a provider reading the given variable,
// falling back to DefaultSecretEnvVar when empty.
func NewEnvSecretProvider(envVar string) *EnvSecretProvider {
	trimmed := strings.TrimSpace(envVar)
	if trimmed == "" {
		trimmed = DefaultSecretEnvVar
	}
	return &EnvSecretProvider{envVar: trimmed}
}

// Secret resolves the secret once and caches it for the process lifetime.
func (p *EnvSecretProvider) Secret() ([]byte, error) {
	p.once.Do(func() {
		value := strings.TrimSpace(os.Getenv(p.envVar))
		if value == "" {
			p.err = fmt.Errorf("secret env var %s is empty", p.envVar)
			return
		}
		p.secret = []byte(value)
	})
	return p.secret, p.err
}

// StaticSecretProvider returns a fixed secret. Intended for tests.
type StaticSecretProvider []byte

// Secret returns the fixed secret.
func (p StaticSecretProvider) Secret() ([]byte, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("static secret is empty")
	}
	return []byte(p), nil
}
