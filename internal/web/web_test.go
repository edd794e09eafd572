package web

import (
	"bytes"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/logging"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/storage"
)

func TestIndexListsPackages(t *testing.T) {
	cfg, store, a := newFixtures(t)
	manifest := &storage.Manifest{
		Name:        "left-pad",
		Description: "pads strings",
		DistTags:    map[string]string{"latest": "1.0.0"},
		Versions:    map[string]*storage.Version{"1.0.0": {Name: "left-pad", Version: "1.0.0"}},
	}
	if err := store.SavePackage(t.Context(), "left-pad", manifest); err != nil {
		t.Fatalf("save: %v", err)
	}

	p := pipeline.New(fiber.Config{})
	Register(p.Scope(pipeline.PositionCore, "web"), cfg, a, store, logging.Discard())
	app := build(t, p)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, want := range []string{"<title>Test Registry</title>", "left-pad", "pads strings", "http://example.com/"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("index missing %q:\n%s", want, string(body))
		}
	}

	resp, err = app.Test(httptest.NewRequest("GET", FaviconPath, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	icon, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(icon, []byte("\x89PNG")) || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("favicon not served as png")
	}
}

func TestDisabledIndex(t *testing.T) {
	p := pipeline.New(fiber.Config{})
	RegisterDisabled(p.Scope(pipeline.PositionCore, "web"))
	app := build(t, p)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusNotFound || string(body) != httperr.MsgWebDisabled {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, string(body))
	}
}

func build(t *testing.T, p *pipeline.Pipeline) *fiber.App {
	t.Helper()
	p.Recover("plain", func(c fiber.Ctx, err error) error {
		return c.Status(httperr.StatusCode(err)).SendString(httperr.PublicMessage(err))
	})
	app, err := p.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return app
}

func newFixtures(t *testing.T) (*config.Config, *storage.Local, *auth.Auth) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Global:   config.GlobalConfig{StoragePath: filepath.Join(dir, "storage"), Secret: "s"},
		Web:      config.WebConfig{Enable: true, Title: "Test Registry"},
		Auth:     config.AuthConfig{HtpasswdFile: filepath.Join(dir, "htpasswd")},
		Packages: config.DefaultPackageAccess(),
	}
	store, err := storage.NewLocal(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	if err := store.Init(t.Context(), cfg, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	a, err := auth.New(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	return cfg, store, a
}
