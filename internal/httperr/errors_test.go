package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestStatusCodeResolvesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound(MsgNoSuchPackage))
	if got := StatusCode(err); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
	if got := StatusCode(fiber.NewError(fiber.StatusConflict, "dup")); got != http.StatusConflict {
		t.Fatalf("expected 409 for fiber error, got %d", got)
	}
	if got := StatusCode(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("plain errors should map to 500, got %d", got)
	}
}

func TestPublicMessageMasksInternalErrors(t *testing.T) {
	if msg := PublicMessage(errors.New("disk exploded at /var/lib")); msg != MsgInternal {
		t.Fatalf("internal error text must not leak, got %q", msg)
	}
	if msg := PublicMessage(NotFound(MsgWebDisabled)); msg != MsgWebDisabled {
		t.Fatalf("unexpected message %q", msg)
	}
	wrapped := Internal(errors.New("secret"))
	if msg := PublicMessage(wrapped); msg != MsgInternal {
		t.Fatalf("Internal should render generic text, got %q", msg)
	}
	if !errors.Is(wrapped, wrapped.Err) {
		t.Fatalf("Internal should unwrap to its cause")
	}
}
