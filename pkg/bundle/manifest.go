package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of a bundle.
type Manifest struct {
	Coordinate `yaml:",inline"`

	// Dependency is the optional parent bundle.
	Dependency *Coordinate `yaml:"dependency,omitempty"`

	// Archive is the path of the bundle archive, relative to the manifest.
	Archive string `yaml:"archive,omitempty"`

	// Checksum is the hex encoded SHA-256 of the archive.
	Checksum string `yaml:"checksum,omitempty" validate:"omitempty,hexadecimal,len=64"`

	// Types are the types the bundle defines.
	Types []TypeInfo `yaml:"types" validate:"required,min=1,dive"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-"`

	// Verified reports whether the archive checksum has been verified.
	Verified bool `yaml:"-"`
}

// ManifestLoader loads and validates bundle manifests.
type ManifestLoader struct {
	// BaseDir is the base directory for resolving relative archive paths.
	BaseDir string

	validate *validator.Validate
}

// NewManifestLoader creates a new manifest loader.
func NewManifestLoader(baseDir string) *ManifestLoader {
	return &ManifestLoader{
		BaseDir:  baseDir,
		validate: validator.New(),
	}
}

// LoadFromFile loads a manifest from a YAML file and verifies the archive
// checksum when both are present.
func (l *ManifestLoader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := l.parse(data)
	if err != nil {
		return nil, err
	}
	m.Path = path

	if m.Archive != "" && m.Checksum != "" {
		archive, err := os.ReadFile(l.archivePath(m))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle archive: %w", err)
		}
		if err := m.VerifyChecksum(archive); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// LoadFromBytes loads a manifest from raw bytes. If archive is non-nil its
// checksum is verified against the manifest.
func (l *ManifestLoader) LoadFromBytes(data []byte, archive []byte) (*Manifest, error) {
	m, err := l.parse(data)
	if err != nil {
		return nil, err
	}
	if archive != nil && m.Checksum != "" {
		if err := m.VerifyChecksum(archive); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (l *ManifestLoader) parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := l.validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if _, err := m.Coordinate.SemVer(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Types))
	for _, t := range m.Types {
		if seen[t.Name] {
			return nil, fmt.Errorf("invalid manifest: type %s declared twice", t.Name)
		}
		seen[t.Name] = true
	}
	return &m, nil
}

func (l *ManifestLoader) archivePath(m *Manifest) string {
	if filepath.IsAbs(m.Archive) {
		return m.Archive
	}
	if m.Path != "" {
		return filepath.Join(filepath.Dir(m.Path), m.Archive)
	}
	return filepath.Join(l.BaseDir, m.Archive)
}

// VerifyChecksum verifies the archive checksum against the manifest.
func (m *Manifest) VerifyChecksum(archive []byte) error {
	if m.Checksum == "" {
		return fmt.Errorf("no checksum in manifest")
	}

	hash := sha256.Sum256(archive)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Checksum {
		return fmt.Errorf("bundle archive checksum mismatch: expected %s, got %s", m.Checksum, computed)
	}

	m.Verified = true
	return nil
}

// Bundle converts the manifest into a registrable bundle.
func (m *Manifest) Bundle() *Bundle {
	b := &Bundle{
		Coordinate: m.Coordinate,
		Types:      make(map[string]TypeInfo, len(m.Types)),
	}
	if m.Dependency != nil {
		dep := *m.Dependency
		b.Dependency = &dep
	}
	for _, t := range m.Types {
		b.Types[t.Name] = t
	}
	return b
}

// ScanDirectory loads every */bundle.yaml below dir into the registry.
// Manifests that fail to load are returned as errors keyed by path; loading
// continues with the remaining manifests.
func (l *ManifestLoader) ScanDirectory(dir string, registry *Registry) (map[string]error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	failures := make(map[string]error)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "bundle.yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := l.LoadFromFile(path)
		if err != nil {
			failures[path] = err
			continue
		}
		if err := registry.Add(m.Bundle()); err != nil {
			failures[path] = err
		}
	}
	return failures, nil
}
