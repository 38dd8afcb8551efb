// Package credentials resolves the service key and endpoint from explicit
// values or a configuration source.
package credentials

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

const (
	EnvKey      = "DOCINTEL_KEY"
	EnvEndpoint = "DOCINTEL_ENDPOINT"
)

// Source looks up named configuration values.
type Source interface {
	Lookup(name string) (string, bool)
}

// Store is an explicit configuration object shared by reference between
// components of one process. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStore() *Store {
	return &Store{values: map[string]string{}}
}

func (s *Store) Lookup(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *Store) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
}

type envSource struct{}

func (envSource) Lookup(name string) (string, bool) { return os.LookupEnv(name) }

// Env reads real process environment variables. Use it only at the process
// boundary; components should receive a Store.
func Env() Source { return envSource{} }

// SeedFromEnv copies the credential variables present in the environment
// into store.
func SeedFromEnv(store *Store) {
	for _, name := range []string{EnvKey, EnvEndpoint} {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			store.Set(name, strings.TrimSpace(v))
		}
	}
}

// Chain returns the first non-empty value across sources.
type Chain []Source

func (c Chain) Lookup(name string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// Resolve returns validated credentials in key mode. Explicit values win
// over src.
func Resolve(key, endpoint string, src Source) (domain.Credentials, error) {
	return ResolveMode(domain.AuthKey, key, endpoint, src)
}

// ResolveMode is Resolve with an explicit auth mode. In entra mode the key
// is optional.
func ResolveMode(mode domain.AuthMode, key, endpoint string, src Source) (domain.Credentials, error) {
	key = pick(key, EnvKey, src)
	endpoint = pick(endpoint, EnvEndpoint, src)

	if mode == "" {
		mode = domain.AuthKey
	}
	if mode != domain.AuthKey && mode != domain.AuthEntra {
		return domain.Credentials{}, domain.InvalidInputf("auth mode %q", mode)
	}
	if key == "" && mode == domain.AuthKey {
		return domain.Credentials{}, fmt.Errorf("%w: key (set --key or %s)", domain.ErrMissingCredential, EnvKey)
	}
	if endpoint == "" {
		return domain.Credentials{}, fmt.Errorf("%w: endpoint (set --endpoint or %s)", domain.ErrMissingCredential, EnvEndpoint)
	}
	normalized, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return domain.Credentials{}, err
	}
	return domain.Credentials{Key: key, Endpoint: normalized, AuthMode: mode}, nil
}

// NormalizeEndpoint checks that raw is an absolute http(s) URL and returns it
// with exactly one trailing slash.
func NormalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidEndpoint, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q must be an absolute http(s) url", domain.ErrInvalidEndpoint, raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: %q must not carry a query or fragment", domain.ErrInvalidEndpoint, raw)
	}
	return strings.TrimRight(raw, "/") + "/", nil
}

// Initialize writes creds into store for later reuse by the same process.
// Repeated calls are idempotent and the last write wins.
func Initialize(store *Store, creds domain.Credentials) {
	if creds.Key != "" {
		store.Set(EnvKey, creds.Key)
	} else {
		store.Delete(EnvKey)
	}
	store.Set(EnvEndpoint, creds.Endpoint)
}

// Mask hides all but the edges of a secret.
func Mask(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func pick(explicit, name string, src Source) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if src == nil {
		return ""
	}
	if v, ok := src.Lookup(name); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
