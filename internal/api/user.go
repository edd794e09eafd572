package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/httperr"
)

func (h *handler) ping(c fiber.Ctx) error {
	return c.JSON(fiber.Map{})
}

func (h *handler) whoami(c fiber.Ctx) error {
	user := auth.RemoteUser(c)
	if !user.Authenticated() {
		return httperr.Unauthorized(httperr.MsgUnauthorized)
	}
	return c.JSON(fiber.Map{"username": user.Name})
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// login 处理 `npm login`/`npm adduser`：已存在用户校验密码，否则尝试注册。
func (h *handler) login(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().Body(&req); err != nil {
		return httperr.Wrap(fiber.StatusBadRequest, httperr.MsgBadUsername, err)
	}
	if req.Name == "" || req.Password == "" {
		return httperr.BadRequest(httperr.MsgBadUsername)
	}

	user, err := h.auth.Authenticate(req.Name, req.Password)
	message := fmt.Sprintf("you are authenticated as '%s'", req.Name)
	if err != nil {
		user, err = h.auth.AddUser(req.Name, req.Password)
		switch {
		case err == nil:
			message = fmt.Sprintf("user '%s' created", req.Name)
		case errors.Is(err, auth.ErrUserExists):
			return httperr.Wrap(fiber.StatusUnauthorized, httperr.MsgBadCredentials, err)
		case errors.Is(err, auth.ErrRegistrationDisabled):
			return httperr.Wrap(fiber.StatusConflict, httperr.MsgRegistrationOff, err)
		case errors.Is(err, auth.ErrMaxUsersReached):
			return httperr.Wrap(fiber.StatusConflict, "maximum amount of users reached", err)
		case errors.Is(err, auth.ErrBadCredentials):
			return httperr.Wrap(fiber.StatusBadRequest, httperr.MsgBadUsername, err)
		default:
			return httperr.Internal(err)
		}
	}

	token, err := h.auth.IssueToken(user)
	if err != nil {
		return httperr.Internal(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": message, "token": token})
}
