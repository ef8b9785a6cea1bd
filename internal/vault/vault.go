// Package vault resolves provider API keys from the OS keychain, with
// environment-variable and file fallbacks for headless machines.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// service is the keychain service name all screenman secrets live under.
const service = "screenman"

// knownProviders are the provider ids List checks for stored keys.
var knownProviders = []string{"eodhd"}

// Vault reads and writes provider API keys.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores key for provider in the OS keychain.
func (v *Vault) Set(provider, key string) error {
	return keyring.Set(service, provider, key)
}

// Delete removes provider's key from the OS keychain.
func (v *Vault) Delete(provider string) error {
	return keyring.Delete(service, provider)
}

// Get returns the key for provider, preferring the OS keychain and falling
// back to the SCREENMAN_KEY_<PROVIDER> environment variable.
func (v *Vault) Get(provider string) (string, error) {
	if secret, err := keyring.Get(service, provider); err == nil && secret != "" {
		return secret, nil
	}
	if val := os.Getenv(envName(provider)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("no key for provider %q: not in keychain and %s not set", provider, envName(provider))
}

// List reports which known providers currently have a key available from
// either source.
func (v *Vault) List() ([]string, error) {
	var providers []string
	for _, p := range knownProviders {
		if _, err := v.Get(p); err == nil {
			providers = append(providers, p)
		}
	}
	return providers, nil
}

// ResolveKeyRef dereferences a key reference from the config file. Four
// forms are accepted:
//
//	keyring://screenman/<provider>
//	keychain:screenman/<provider>   (older config files)
//	env:VARIABLE_NAME
//	file:///path/to/key
func (v *Vault) ResolveKeyRef(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "keyring://"):
		provider, err := providerFromPath(strings.TrimPrefix(ref, "keyring://"))
		if err != nil {
			return "", fmt.Errorf("key reference %q: %w", ref, err)
		}
		return v.Get(provider)

	case strings.HasPrefix(ref, "keychain:"):
		provider, err := providerFromPath(strings.TrimPrefix(ref, "keychain:"))
		if err != nil {
			return "", fmt.Errorf("key reference %q: %w", ref, err)
		}
		return v.Get(provider)

	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		if val := os.Getenv(name); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("key reference %q: environment variable %s is not set", ref, name)

	case strings.HasPrefix(ref, "file://"):
		path := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("key reference %q: %w", ref, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key reference %q: key file is empty", ref)
		}
		return key, nil
	}

	return "", fmt.Errorf("unsupported key reference %q (want keyring://%s/<provider>, keychain:%s/<provider>, env:NAME, or file:///path)", ref, service, service)
}

// providerFromPath validates a "<service>/<provider>" keychain path and
// returns the provider part.
func providerFromPath(path string) (string, error) {
	svc, provider, ok := strings.Cut(path, "/")
	if !ok || svc != service || provider == "" {
		return "", fmt.Errorf("want %s/<provider>, got %q", service, path)
	}
	return provider, nil
}

// envName returns the environment variable consulted for a provider's key
// when the keychain has none.
func envName(provider string) string {
	return "SCREENMAN_KEY_" + strings.ToUpper(provider)
}
