package codegen

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func newFs(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		if err := afero.WriteFile(fs, filepath.Join("/proj", f), []byte("module X exposing (..)"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func TestGenerate(t *testing.T) {
	fs := newFs(t,
		"src/Page/Index.elm",
		"src/Page/Blog.elm",
		"src/Page/Blog/Slug_.elm",
		"src/Page/notes.txt",
	)
	g := New(Options{ProjectDir: "/proj", Fs: fs, Logger: zerolog.Nop()})

	changed, err := g.Run(context.Background(), "/")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !changed {
		t.Error("first run should write the manifest")
	}

	data, err := afero.ReadFile(fs, filepath.Join("/proj", ManifestFile))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}

	var patterns []string
	for _, e := range m.Routes {
		patterns = append(patterns, e.Variant+"="+e.Pattern)
	}
	want := "Blog=/blog,Blog__Slug_=/blog/:slug,Index=/"
	if got := strings.Join(patterns, ","); got != want {
		t.Errorf("routes = %s, want %s", got, want)
	}
	if m.Routes[1].Params[0].Name != "slug" {
		t.Errorf("params = %+v", m.Routes[1].Params)
	}
}

func TestGenerate_Unchanged(t *testing.T) {
	fs := newFs(t, "src/Page/Index.elm")
	g := New(Options{ProjectDir: "/proj", Fs: fs, Logger: zerolog.Nop()})
	ctx := context.Background()

	if _, err := g.Run(ctx, "/"); err != nil {
		t.Fatal(err)
	}
	changed, err := g.Run(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("second run with identical routes should not rewrite")
	}

	changed, err = g.Run(ctx, "/docs/")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("base path change should rewrite")
	}
}

func TestGenerate_InvalidModule(t *testing.T) {
	fs := newFs(t, "src/Page/lowercase.elm")
	g := New(Options{ProjectDir: "/proj", Fs: fs, Logger: zerolog.Nop()})

	err := g.Generate(context.Background(), "/")
	if err == nil {
		t.Fatal("expected error for invalid module name")
	}
	if !strings.Contains(err.Error(), "lowercase.elm") {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestGenerate_NoPages(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := New(Options{ProjectDir: "/proj", Fs: fs, Logger: zerolog.Nop()})

	if err := g.Generate(context.Background(), "/"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, err := afero.ReadFile(fs, filepath.Join("/proj", ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"routes": []`) {
		t.Errorf("manifest = %s", data)
	}
}
