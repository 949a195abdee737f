package classpath

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolver_Expand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lib", "b.jar"), "b")
	writeFile(t, filepath.Join(dir, "lib", "a.jar"), "a")
	writeFile(t, filepath.Join(dir, "lib", "nested", "c.jar"), "c")
	writeFile(t, filepath.Join(dir, "single.jar"), "single")

	r := NewResolver(dir, nil, zerolog.Nop())
	entries, err := r.Expand([]string{"lib", "single.jar", "lib/a.jar", "missing.jar"})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	want := []string{
		filepath.Join(dir, "lib", "a.jar"),
		filepath.Join(dir, "lib", "b.jar"),
		filepath.Join(dir, "missing.jar"),
		filepath.Join(dir, "single.jar"),
	}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("Expand() paths = %v, want %v", paths, want)
	}
	if !entries[2].Missing || entries[0].Missing {
		t.Errorf("unexpected missing flags: %+v", entries)
	}
}

func TestResolver_Fingerprint(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "a.jar")
	writeFile(t, jar, "v1")

	r := NewResolver(dir, nil, zerolog.Nop())
	first, err := r.Fingerprint([]string{"a.jar"})
	if err != nil {
		t.Fatal(err)
	}
	again, err := r.Fingerprint([]string{jar})
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Error("relative and absolute resources must fingerprint identically")
	}

	writeFile(t, jar, "version two")
	changed, err := r.Fingerprint([]string{"a.jar"})
	if err != nil {
		t.Fatal(err)
	}
	if changed == first {
		t.Error("fingerprint must change when the file changes")
	}

	missing, err := r.Fingerprint([]string{"b.jar"})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "b.jar"), "b")
	appeared, err := r.Fingerprint([]string{"b.jar"})
	if err != nil {
		t.Fatal(err)
	}
	if missing == appeared {
		t.Error("fingerprint must change when a missing resource appears")
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(jar, future, future); err != nil {
		t.Fatal(err)
	}
	touched, err := r.Fingerprint([]string{"a.jar"})
	if err != nil {
		t.Fatal(err)
	}
	if touched == changed {
		t.Error("fingerprint must change with the modification time")
	}
}

func TestResolver_Reload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jar"), "a")

	var got []string
	r := NewResolver(dir, func(ctx context.Context, files []string) error {
		got = files
		return nil
	}, zerolog.Nop())

	if err := r.Reload(context.Background(), []string{"a.jar", "gone.jar"}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{filepath.Join(dir, "a.jar")}) {
		t.Errorf("reloaded files = %v", got)
	}

	failing := NewResolver(dir, func(context.Context, []string) error {
		return errors.New("boom")
	}, zerolog.Nop())
	if err := failing.Reload(context.Background(), []string{"a.jar"}); err == nil {
		t.Error("expected reload error")
	}
}
