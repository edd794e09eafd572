package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/logging"
	"github.com/any-hub/any-registry/internal/pipeline"
)

func TestBenignAbortSkipsReporter(t *testing.T) {
	var reporter *Reporter
	app := buildApp(t, func(p *pipeline.Pipeline) {
		p.Scope(pipeline.PositionCore, "api").Get("/pkg", func(c fiber.Ctx) error {
			reporter, _ = ReporterFrom(c)
			c.Status(fiber.StatusNotModified)
			return fmt.Errorf("write body: %w", syscall.ECONNABORTED)
		})
	})

	resp := doRequest(t, app, http.MethodGet, "/pkg")
	if resp.StatusCode != fiber.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
	if reporter == nil {
		t.Fatalf("reporter should be installed before core stages")
	}
	if reporter.Reported() {
		t.Fatalf("benign abort must not be reported")
	}
}

func TestAbortOnRegularResponseIsReported(t *testing.T) {
	app := buildApp(t, func(p *pipeline.Pipeline) {
		p.Scope(pipeline.PositionCore, "api").Get("/pkg", func(fiber.Ctx) error {
			return ErrConnAborted
		})
	})

	resp := doRequest(t, app, http.MethodGet, "/pkg")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != httperr.MsgInternal {
		t.Fatalf("internal errors must be masked, got %q", msg)
	}
}

func TestEarlyFailureInstallsReporterInline(t *testing.T) {
	p := pipeline.New(fiber.Config{})
	logger := logging.Discard()
	p.Scope(pipeline.PositionBuiltin, "core").Named("gate").Use(func(fiber.Ctx) error {
		return httperr.TooManyRequests()
	})
	p.Scope(pipeline.PositionBuiltin, "core").Named("reporter").Use(InstallReporter(logger))
	p.Recover("recovery", Recovery(logger))
	p.Recover("final", Final(logger))
	app, err := p.Build()
	if err != nil {
		t.Fatalf("build error: %v", err)
	}

	resp := doRequest(t, app, http.MethodGet, "/anything")
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != httperr.MsgTooManyRequests {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestNonErrorPanicReachesFinal(t *testing.T) {
	app := buildApp(t, func(p *pipeline.Pipeline) {
		p.Scope(pipeline.PositionCore, "api").Get("/legacy", func(c fiber.Ctx) error {
			c.Status(fiber.StatusAccepted)
			panic("queued")
		})
	})

	resp := doRequest(t, app, http.MethodGet, "/legacy")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusAccepted || string(body) != "queued" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, string(body))
	}
}

func TestReporterReportsOnce(t *testing.T) {
	app := buildApp(t, func(p *pipeline.Pipeline) {
		p.Scope(pipeline.PositionCore, "api").Get("/twice", func(c fiber.Ctx) error {
			reporter, _ := ReporterFrom(c)
			if err := reporter.Report(c, httperr.Forbidden("first")); err != nil {
				return err
			}
			return httperr.Conflict("second")
		})
	})

	resp := doRequest(t, app, http.MethodGet, "/twice")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected first report to win, got %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp); msg != "first" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestCatchAllIsStable(t *testing.T) {
	app := buildApp(t, nil)

	for i := 0; i < 2; i++ {
		resp := doRequest(t, app, http.MethodGet, "/does/not/exist")
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("attempt %d: expected 404, got %d", i, resp.StatusCode)
		}
		if msg := decodeError(t, resp); msg != httperr.MsgNotFound {
			t.Fatalf("attempt %d: unexpected message %q", i, msg)
		}
		if resp.Header.Get(fiber.HeaderXRequestID) == "" {
			t.Fatalf("attempt %d: missing request id", i)
		}
	}
}

func TestFaviconRewriteAndPoweredBy(t *testing.T) {
	app := buildApp(t, func(p *pipeline.Pipeline) {
		p.Scope(pipeline.PositionCore, "web").Get("/-/static/favicon.png", func(c fiber.Ctx) error {
			return c.SendString("png")
		})
	})

	resp := doRequest(t, app, http.MethodGet, "/favicon.ico")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "png" {
		t.Fatalf("favicon should be rewritten, got %d %q", resp.StatusCode, string(body))
	}
	if resp.Header.Get(fiber.HeaderXPoweredBy) != "any-registry/test" {
		t.Fatalf("missing identification header")
	}
}

func TestWrappedAbortOnNotModifiedIsBenign(t *testing.T) {
	app := buildApp(t, func(p *pipeline.Pipeline) {
		p.Scope(pipeline.PositionCore, "api").Get("/pkg", func(c fiber.Ctx) error {
			c.Status(fiber.StatusNotModified)
			return fmt.Errorf("stream tarball: %w", ErrConnAborted)
		})
		p.Scope(pipeline.PositionCore, "api").Get("/other", func(c fiber.Ctx) error {
			c.Status(fiber.StatusNotModified)
			return errors.New("disk on fire")
		})
	})

	if resp := doRequest(t, app, http.MethodGet, "/pkg"); resp.StatusCode != fiber.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
	if resp := doRequest(t, app, http.MethodGet, "/other"); resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("unrelated error on 304 must be reported, got %d", resp.StatusCode)
	}
}

func buildApp(t *testing.T, core func(p *pipeline.Pipeline)) *fiber.App {
	t.Helper()
	logger := logging.Discard()
	p := pipeline.New(fiber.Config{})
	builtin := p.Scope(pipeline.PositionBuiltin, "core")
	builtin.Named("log").Use(RequestLog(logger))
	builtin.Named("reporter").Use(InstallReporter(logger))
	builtin.Named("powered-by").Use(PoweredBy("any-registry/test"))
	builtin.Named("favicon").Use(FaviconRewrite("/-/static/favicon.png"))
	if core != nil {
		core(p)
	}
	p.Scope(pipeline.PositionCatchAll, "core").Use(NotFound())
	p.Recover("recovery", Recovery(logger))
	p.Recover("final", Final(logger))

	app, err := p.Build()
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, target string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error
}
