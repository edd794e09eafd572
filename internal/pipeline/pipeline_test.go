package pipeline

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestStagesRunInRegistrationOrder(t *testing.T) {
	p := New(fiber.Config{})
	var trace []string
	record := func(name string) fiber.Handler {
		return func(c fiber.Ctx) error {
			trace = append(trace, name)
			return c.Next()
		}
	}

	p.Scope(PositionBuiltin, "core").Named("cors").Use(record("cors"))
	p.Scope(PositionBuiltin, "core").Named("log").Use(record("log"))
	p.Scope(PositionPlugin, "alpha").Use(record("alpha"))
	p.Scope(PositionPlugin, "beta").Use(record("beta"))
	p.Scope(PositionCore, "api").Get("/ok", func(c fiber.Ctx) error {
		trace = append(trace, "api")
		return c.SendString("ok")
	})

	app, err := p.Build()
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := strings.Join(trace, ","); got != "cors,log,alpha,beta,api" {
		t.Fatalf("unexpected order: %s", got)
	}

	if plugins := p.Plugins(); len(plugins) != 2 || plugins[0] != "alpha" || plugins[1] != "beta" {
		t.Fatalf("unexpected plugin owners: %v", plugins)
	}
	stages := p.StagesAt(PositionBuiltin)
	if len(stages) != 2 || stages[1].Rank != 1 || stages[1].Name != "log" {
		t.Fatalf("unexpected builtin stages: %+v", stages)
	}
}

func TestOutOfOrderRegistrationFailsBuild(t *testing.T) {
	p := New(fiber.Config{})
	noop := func(c fiber.Ctx) error { return c.Next() }

	p.Scope(PositionCore, "api").Use(noop)
	p.Scope(PositionBuiltin, "late").Use(noop)

	if _, err := p.Build(); !errors.Is(err, ErrOrder) {
		t.Fatalf("expected ErrOrder, got %v", err)
	}
	if len(p.Stages()) != 1 {
		t.Fatalf("rejected stage must not be recorded")
	}
}

func TestBuildOnlyOnce(t *testing.T) {
	p := New(fiber.Config{})
	p.Scope(PositionBuiltin, "core").Use(func(c fiber.Ctx) error { return c.Next() })
	if _, err := p.Build(); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	if _, err := p.Build(); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}

func TestErrorStagesChainUntilHandled(t *testing.T) {
	p := New(fiber.Config{})
	var seen []string
	p.Scope(PositionCatchAll, "core").Use(func(fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	p.Recover("first", func(_ fiber.Ctx, err error) error {
		seen = append(seen, "first")
		return err
	})
	p.Recover("second", func(c fiber.Ctx, err error) error {
		seen = append(seen, "second")
		return c.Status(fiber.StatusTeapot).SendString(err.Error())
	})
	p.Recover("third", func(fiber.Ctx, error) error {
		seen = append(seen, "third")
		return nil
	})

	app, err := p.Build()
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/anything", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusTeapot || string(body) != "short and stout" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, string(body))
	}
	if strings.Join(seen, ",") != "first,second" {
		t.Fatalf("chain should stop once handled, got %v", seen)
	}
}

func TestPanicsBecomeErrors(t *testing.T) {
	p := New(fiber.Config{})
	var captured error
	p.Scope(PositionCore, "api").Get("/boom", func(fiber.Ctx) error {
		panic("kaboom")
	})
	p.Recover("capture", func(c fiber.Ctx, err error) error {
		captured = err
		return c.SendStatus(fiber.StatusInternalServerError)
	})

	app, err := p.Build()
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var nonErr *NonError
	if !errors.As(captured, &nonErr) || nonErr.Value != "kaboom" {
		t.Fatalf("expected NonError carrying panic value, got %v", captured)
	}
}

func TestStageWithoutHandlerIsRejected(t *testing.T) {
	p := New(fiber.Config{})
	p.Scope(PositionPlugin, "broken").Use(nil)
	if _, err := p.Build(); err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("expected missing handler error, got %v", err)
	}
}
