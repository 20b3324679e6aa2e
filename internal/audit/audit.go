// Package audit evaluates the active accessibility services against
// caller-supplied allow and deny lists.
//
// The two checks are deliberately asymmetric: the allow-list check
// requires an exact full-identifier match for every active service,
// while the deny-list check matches loosely on the package-name portion
// with wildcard support. Strict allow, loose deny.
package audit

import (
	"fmt"
	"strings"

	"sentryd/internal/platform"
	"sentryd/internal/wildcard"
)

// Engine audits the accessibility-service registry.
type Engine struct {
	registry platform.AccessibilityRegistry
}

// New creates an Engine over the given registry.
func New(registry platform.AccessibilityRegistry) *Engine {
	return &Engine{registry: registry}
}

// ActiveServices enumerates the currently enabled accessibility
// services in registry order. A registry failure is surfaced, never
// flattened into an empty result.
func (e *Engine) ActiveServices() ([]string, error) {
	services, err := e.registry.EnabledServices()
	if err != nil {
		return nil, fmt.Errorf("enumerate accessibility services: %w", err)
	}
	return services, nil
}

// AllAllowed reports whether every active service identifier equals
// some entry in patterns exactly. Wildcards are not expanded here; the
// allow-list is an exact-match check. An empty active-service list is
// vacuously allowed.
func (e *Engine) AllAllowed(patterns []string) (bool, error) {
	services, err := e.ActiveServices()
	if err != nil {
		return false, err
	}

	for _, id := range services {
		if !containsExact(patterns, id) {
			return false, nil
		}
	}
	return true, nil
}

// AnyDenied reports whether the package-name portion of any active
// service identifier matches any entry in patterns, by trailing
// wildcard or exact equality. Returns on the first match.
func (e *Engine) AnyDenied(patterns []string) (bool, error) {
	services, err := e.ActiveServices()
	if err != nil {
		return false, err
	}

	for _, id := range services {
		pkg := PackageName(id)
		if wildcard.MatchAny(pkg, patterns) {
			return true, nil
		}
	}
	return false, nil
}

// PackageName extracts the package portion of a service identifier of
// the form "<package>/<component>". A bare package name is returned
// unchanged.
func PackageName(id string) string {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}

func containsExact(patterns []string, id string) bool {
	for _, p := range patterns {
		if p == id {
			return true
		}
	}
	return false
}
