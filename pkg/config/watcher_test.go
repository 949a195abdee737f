package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/parameter"
)

func writeParams(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func paramValue(ctx *parameter.Context, name string) string {
	p, ok := ctx.Parameter(name)
	if !ok {
		return "<undefined>"
	}
	if p.Value == nil {
		return "<unset>"
	}
	return *p.Value
}

func TestLoadParameterFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    int
	}{
		{name: "valid", content: "parameters:\n  - {name: host, value: a}\n  - {name: token, sensitive: true}\n", want: 2},
		{name: "empty", content: "parameters: []\n"},
		{name: "unnamed", content: "parameters:\n  - {value: a}\n", wantErr: true},
		{name: "duplicate", content: "parameters:\n  - {name: a}\n  - {name: a}\n", wantErr: true},
		{name: "malformed", content: "parameters: {", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writeParams(t, path, tt.content)
			params, err := LoadParameterFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadParameterFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(params) != tt.want {
				t.Errorf("LoadParameterFile() = %d parameters, want %d", len(params), tt.want)
			}
		})
	}
}

func TestParameterWatcher_Sync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	inline := []parameter.Parameter{
		{Name: "host", Value: parameter.StringPtr("localhost")},
		{Name: "port", Value: parameter.StringPtr("8080")},
	}
	params := parameter.NewContext("ctx-1", "default", inline)
	w := NewParameterWatcher(path, params, inline, zerolog.Nop())

	var notified int
	params.Subscribe(func(map[string]parameter.Update) { notified++ })

	writeParams(t, path, "parameters:\n  - {name: host, value: api.example.com}\n  - {name: region, value: eu}\n")
	updates, err := w.Sync()
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(updates) != 2 || notified != 1 {
		t.Errorf("Sync() = %v with %d notifications, want host and region", updates, notified)
	}
	if got := paramValue(params, "host"); got != "api.example.com" {
		t.Errorf("host = %s, file must override inline parameters", got)
	}
	if got := paramValue(params, "port"); got != "8080" {
		t.Errorf("port = %s, inline parameters must survive", got)
	}

	// unchanged file
	if updates, err := w.Sync(); err != nil || len(updates) != 0 {
		t.Errorf("Sync() = %v, %v, want no updates", updates, err)
	}

	writeParams(t, path, "parameters:\n  - {name: host, value: api.example.com}\n")
	updates, err = w.Sync()
	if err != nil {
		t.Fatal(err)
	}
	if u, ok := updates["region"]; !ok || !u.Defined || u.Previous == nil || *u.Previous != "eu" {
		t.Errorf("region update = %+v", updates["region"])
	}
	if got := paramValue(params, "region"); got != "<undefined>" {
		t.Errorf("region = %s, want removed", got)
	}

	writeParams(t, path, "parameters: {")
	version := params.Version()
	if _, err := w.Sync(); err == nil {
		t.Error("Sync() should fail on a malformed file")
	}
	if params.Version() != version {
		t.Error("a failed sync must leave the context untouched")
	}
}

func TestParameterWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	writeParams(t, path, "parameters:\n  - {name: host, value: a}\n")

	params := parameter.NewContext("ctx-1", "default", []parameter.Parameter{{Name: "host", Value: parameter.StringPtr("a")}})
	w := NewParameterWatcher(path, params, nil, zerolog.Nop())
	w.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// rewrite until the watcher has registered and picked the change up
	deadline := time.Now().Add(5 * time.Second)
	for paramValue(params, "host") != "b" {
		if time.Now().After(deadline) {
			t.Fatal("parameter file change was not applied")
		}
		writeParams(t, path, "parameters:\n  - {name: host, value: b}\n")
		time.Sleep(50 * time.Millisecond)
	}

	writeParams(t, filepath.Join(dir, "other.yaml"), "parameters: {")
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
