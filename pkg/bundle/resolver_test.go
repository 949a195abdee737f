package bundle

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

type httpService interface {
	Get(url string) (string, error)
}

type standardHTTPService struct{}

func (s *standardHTTPService) Get(url string) (string, error) { return url, nil }
func (s *standardHTTPService) Close() error                   { return nil }

type brokenHTTPService struct{}

func (s *brokenHTTPService) Get(url string, retries int) (string, error) { return url, nil }

var (
	apiCoord  = Coordinate{Group: "org.example", Artifact: "service-api", Version: "1.0.0"}
	libCoord  = Coordinate{Group: "org.example", Artifact: "service-lib", Version: "1.0.0"}
	implCoord = Coordinate{Group: "org.example", Artifact: "http-impl", Version: "2.1.0"}
	api       = ServiceAPI{Type: "HttpService", Bundle: apiCoord}
)

func newTestRegistry(t *testing.T, bundles ...*Bundle) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, b := range bundles {
		if err := r.Add(b); err != nil {
			t.Fatalf("Add(%s) error = %v", b.Coordinate, err)
		}
	}
	return r
}

func apiBundle() *Bundle {
	return &Bundle{
		Coordinate: apiCoord,
		Types: map[string]TypeInfo{
			"HttpService": TypeInfoOf(reflect.TypeOf((*httpService)(nil)).Elem()),
		},
	}
}

func TestResolver_AnyServiceAlwaysCompatible(t *testing.T) {
	r := NewResolver(NewRegistry(), zerolog.Nop())
	ok, err := r.IsCompatible(ServiceAPI{Type: AnyServiceType}, "Whatever", Coordinate{})
	if err != nil || !ok {
		t.Fatalf("IsCompatible() = %v, %v; want true, nil", ok, err)
	}
}

func TestResolver_DependencyChainFastPath(t *testing.T) {
	dep := libCoord
	apiDep := apiCoord
	reg := newTestRegistry(t,
		apiBundle(),
		&Bundle{Coordinate: libCoord, Dependency: &apiDep, Types: map[string]TypeInfo{}},
		&Bundle{
			Coordinate: implCoord,
			Dependency: &dep,
			// deliberately no method info: only the chain can prove compatibility
			Types: map[string]TypeInfo{"StandardHttpService": {Name: "StandardHttpService"}},
		},
	)

	r := NewResolver(reg, zerolog.Nop())
	ok, err := r.IsCompatible(api, "StandardHttpService", implCoord)
	if err != nil || !ok {
		t.Fatalf("IsCompatible() = %v, %v; want true, nil", ok, err)
	}

	chain, err := r.DependencyChain(reg.bundles[implCoord])
	if err != nil {
		t.Fatalf("DependencyChain() error = %v", err)
	}
	if !reflect.DeepEqual(chain, []Coordinate{libCoord, apiCoord}) {
		t.Fatalf("DependencyChain() = %v", chain)
	}
}

func TestResolver_SignatureFallback(t *testing.T) {
	otherAPI := Coordinate{Group: "org.example", Artifact: "service-api", Version: "0.9.0"}
	reg := newTestRegistry(t,
		apiBundle(),
		&Bundle{
			Coordinate: implCoord,
			Dependency: &otherAPI,
			Types: map[string]TypeInfo{
				"StandardHttpService": TypeInfoOf(reflect.TypeOf(standardHTTPService{})),
				"BrokenHttpService":   TypeInfoOf(reflect.TypeOf(&brokenHTTPService{})),
			},
		},
	)
	r := NewResolver(reg, zerolog.Nop())

	ok, err := r.IsCompatible(api, "StandardHttpService", implCoord)
	if err != nil || !ok {
		t.Fatalf("standard: IsCompatible() = %v, %v; want true, nil", ok, err)
	}

	ok, err = r.IsCompatible(api, "BrokenHttpService", implCoord)
	if err != nil || ok {
		t.Fatalf("broken: IsCompatible() = %v, %v; want false, nil", ok, err)
	}
}

func TestResolver_AmbiguousImplementationBundle(t *testing.T) {
	impl := TypeInfoOf(reflect.TypeOf(standardHTTPService{}))
	reg := newTestRegistry(t,
		apiBundle(),
		&Bundle{Coordinate: Coordinate{Group: "a", Artifact: "impl", Version: "1.0.0"}, Types: map[string]TypeInfo{"Impl": impl}},
		&Bundle{Coordinate: Coordinate{Group: "b", Artifact: "impl", Version: "1.0.0"}, Types: map[string]TypeInfo{"Impl": impl}},
	)
	r := NewResolver(reg, zerolog.Nop())

	_, err := r.IsCompatible(api, "Impl", Coordinate{Group: "c", Artifact: "impl", Version: "1.0.0"})
	if !errors.Is(err, ErrAmbiguousBundle) {
		t.Fatalf("expected ErrAmbiguousBundle, got %v", err)
	}

	// a direct coordinate match resolves the ambiguity
	ok, err := r.IsCompatible(api, "Impl", Coordinate{Group: "a", Artifact: "impl", Version: "1.0.0"})
	if err != nil || !ok {
		t.Fatalf("IsCompatible() = %v, %v; want true, nil", ok, err)
	}
}

func TestResolver_DependencyCycleIsReported(t *testing.T) {
	a := Coordinate{Group: "x", Artifact: "a", Version: "1.0.0"}
	b := Coordinate{Group: "x", Artifact: "b", Version: "1.0.0"}
	aDep, bDep := b, a
	reg := newTestRegistry(t,
		apiBundle(),
		&Bundle{Coordinate: a, Dependency: &aDep, Types: map[string]TypeInfo{"Impl": {Name: "Impl"}}},
		&Bundle{Coordinate: b, Dependency: &bDep, Types: map[string]TypeInfo{}},
	)
	r := NewResolver(reg, zerolog.Nop())

	_, err := r.IsCompatible(api, "Impl", a)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestResolver_MissingAPIBundle(t *testing.T) {
	r := NewResolver(NewRegistry(), zerolog.Nop())
	_, err := r.IsCompatible(api, "Impl", implCoord)
	if !errors.Is(err, ErrBundleNotFound) {
		t.Fatalf("expected ErrBundleNotFound, got %v", err)
	}
}

func TestRegistry_BundlesOrderedByVersion(t *testing.T) {
	types := map[string]TypeInfo{"T": {Name: "T"}}
	reg := newTestRegistry(t,
		&Bundle{Coordinate: Coordinate{Group: "g", Artifact: "a", Version: "1.2.0"}, Types: types},
		&Bundle{Coordinate: Coordinate{Group: "g", Artifact: "a", Version: "1.10.0"}, Types: types},
		&Bundle{Coordinate: Coordinate{Group: "g", Artifact: "a", Version: "1.9.3"}, Types: types},
	)

	got := reg.Bundles("T")
	want := []string{"1.10.0", "1.9.3", "1.2.0"}
	for i, b := range got {
		if b.Coordinate.Version != want[i] {
			t.Fatalf("Bundles()[%d] = %s, want %s", i, b.Coordinate.Version, want[i])
		}
	}
}

func TestRegistry_AddRejectsInvalidBundles(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add(&Bundle{Coordinate: Coordinate{Group: "g", Artifact: "a", Version: "not-a-version"}}); err == nil {
		t.Fatal("expected error for invalid version")
	}
	self := Coordinate{Group: "g", Artifact: "a", Version: "1.0.0"}
	if err := reg.Add(&Bundle{Coordinate: self, Dependency: &self}); err == nil {
		t.Fatal("expected error for self dependency")
	}
	if err := reg.Add(&Bundle{Coordinate: self}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := reg.Add(&Bundle{Coordinate: self}); err == nil {
		t.Fatal("expected error for duplicate bundle")
	}
}

func TestTypeInfoOf_SkipsReceiver(t *testing.T) {
	info := TypeInfoOf(reflect.TypeOf(standardHTTPService{}))
	if info.Name != "standardHTTPService" || info.Interface {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(info.Methods) != 2 {
		t.Fatalf("expected 2 methods, got %+v", info.Methods)
	}
	get := info.Methods[1]
	if get.Name != "Get" || !reflect.DeepEqual(get.Params, []string{"string"}) ||
		!reflect.DeepEqual(get.Results, []string{"string", "error"}) {
		t.Fatalf("unexpected Get signature %+v", get)
	}
}
