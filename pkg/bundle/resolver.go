package bundle

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// MaxDependencyDepth bounds the walk along a bundle dependency chain.
const MaxDependencyDepth = 64

var (
	// ErrBundleNotFound is returned when no bundle defines a required type.
	ErrBundleNotFound = errors.New("bundle not found")

	// ErrAmbiguousBundle is returned when several bundles define the
	// implementation type and none matches the declared coordinate.
	ErrAmbiguousBundle = errors.New("ambiguous bundle")

	// ErrDependencyCycle is returned when a dependency chain does not terminate.
	ErrDependencyCycle = errors.New("bundle dependency cycle")
)

// Resolver decides whether a service implementation satisfies a service API.
type Resolver struct {
	source Source
	logger zerolog.Logger
}

// NewResolver creates a resolver over the given bundle source.
func NewResolver(source Source, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source: source,
		logger: logger.With().Str("component", "bundle-resolver").Logger(),
	}
}

// IsCompatible reports whether implType, declared by the bundle implCoord,
// implements api.
//
// The implementation bundle's dependency chain is walked first; reaching the
// bundle that defines the API proves compatibility. Otherwise the method sets
// of both types are compared.
func (r *Resolver) IsCompatible(api ServiceAPI, implType string, implCoord Coordinate) (bool, error) {
	if api.IsAny() {
		return true, nil
	}

	apiBundle, err := r.apiBundle(api)
	if err != nil {
		return false, err
	}
	implBundle, err := r.implementationBundle(implType, implCoord)
	if err != nil {
		return false, err
	}

	if implBundle.Coordinate == apiBundle.Coordinate {
		return true, nil
	}

	found, err := r.dependsOn(implBundle, apiBundle.Coordinate)
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}

	r.logger.Debug().
		Str("api", api.Type).
		Str("api_bundle", apiBundle.Coordinate.String()).
		Str("implementation", implType).
		Str("implementation_bundle", implBundle.Coordinate.String()).
		Msg("Bundle dependency chain does not include API bundle, comparing method signatures")

	apiInfo, ok := apiBundle.Type(api.Type)
	if !ok {
		return false, nil
	}
	implInfo, ok := implBundle.Type(implType)
	if !ok {
		return false, nil
	}
	return implInfo.Implements(apiInfo), nil
}

// DependencyChain returns the coordinates reachable from b through declared
// dependencies, nearest first.
func (r *Resolver) DependencyChain(b *Bundle) ([]Coordinate, error) {
	var chain []Coordinate
	err := r.walk(b, func(c Coordinate) bool {
		chain = append(chain, c)
		return false
	})
	return chain, err
}

func (r *Resolver) dependsOn(b *Bundle, target Coordinate) (bool, error) {
	found := false
	err := r.walk(b, func(c Coordinate) bool {
		found = c == target
		return found
	})
	return found, err
}

// walk visits each ancestor coordinate until visit returns true, the chain
// ends, or an ancestor cannot be located.
func (r *Resolver) walk(b *Bundle, visit func(Coordinate) bool) error {
	seen := map[Coordinate]bool{b.Coordinate: true}
	dep := b.Dependency
	for depth := 0; dep != nil; depth++ {
		if depth >= MaxDependencyDepth {
			return fmt.Errorf("%w: chain from %s exceeds %d levels", ErrDependencyCycle, b.Coordinate, MaxDependencyDepth)
		}
		if seen[*dep] {
			return fmt.Errorf("%w: %s is reachable from itself", ErrDependencyCycle, *dep)
		}
		seen[*dep] = true

		if visit(*dep) {
			return nil
		}
		parent, ok := r.source.Bundle(*dep)
		if !ok {
			return nil
		}
		dep = parent.Dependency
	}
	return nil
}

func (r *Resolver) apiBundle(api ServiceAPI) (*Bundle, error) {
	if !api.Bundle.IsZero() {
		if b, ok := r.source.Bundle(api.Bundle); ok {
			return b, nil
		}
	}
	candidates := r.source.Bundles(api.Type)
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: no bundle defines service API %s", ErrBundleNotFound, api)
	case 1:
		return candidates[0], nil
	default:
		if api.Bundle.IsZero() {
			// highest version wins when the API does not pin a bundle
			return candidates[0], nil
		}
		return nil, fmt.Errorf("%w: service API %s is defined by %d bundles", ErrAmbiguousBundle, api, len(candidates))
	}
}

func (r *Resolver) implementationBundle(implType string, coord Coordinate) (*Bundle, error) {
	if b, ok := r.source.Bundle(coord); ok && b.Defines(implType) {
		return b, nil
	}
	candidates := r.source.Bundles(implType)
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: no bundle defines implementation %s", ErrBundleNotFound, implType)
	case 1:
		return candidates[0], nil
	default:
		return nil, fmt.Errorf("%w: implementation %s is defined by %d bundles and none matches %s",
			ErrAmbiguousBundle, implType, len(candidates), coord)
	}
}
