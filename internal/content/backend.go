package content

import (
	"context"
	"time"
)

// Backend generates text for a prompt. Implementations should honour ctx;
// the pipeline abandons calls that outlive timeout either way.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// TierKind tags where a backend sits in the fallback chain.
type TierKind int

const (
	// TierNamed is a backend chosen by name in configuration.
	TierNamed TierKind = iota
	// TierHTTP is a directly configured OpenAI-compatible endpoint.
	TierHTTP
	// TierDefault is the host's default backend.
	TierDefault
)

func (k TierKind) String() string {
	switch k {
	case TierNamed:
		return "named"
	case TierHTTP:
		return "http"
	case TierDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Tier is one entry of the fallback chain.
type Tier struct {
	Kind    TierKind
	Backend Backend
}

// Registry is a read-only set of backends addressable by name.
type Registry struct {
	byName map[string]Backend
}

// NewRegistry indexes backends by Name. Nil backends are ignored; later
// duplicates win.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{byName: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if b != nil {
			r.byName[b.Name()] = b
		}
	}
	return r
}

// Lookup returns the backend registered as name.
func (r *Registry) Lookup(name string) (Backend, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	b, ok := r.byName[name]
	return b, ok
}

// Tiers assembles the chain in priority order: the backend named by named,
// then httpBackend, then the backend named by defaultName. Missing entries
// are skipped; a backend appears at most once.
func (r *Registry) Tiers(named string, httpBackend Backend, defaultName string) []Tier {
	var tiers []Tier
	seen := map[Backend]bool{}
	add := func(kind TierKind, b Backend) {
		if b == nil || seen[b] {
			return
		}
		seen[b] = true
		tiers = append(tiers, Tier{Kind: kind, Backend: b})
	}
	if b, ok := r.Lookup(named); ok {
		add(TierNamed, b)
	}
	add(TierHTTP, httpBackend)
	if b, ok := r.Lookup(defaultName); ok {
		add(TierDefault, b)
	}
	return tiers
}
