package pipeline

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
)

// Position 表示 stage 所在的分段，数值越小越先执行。
type Position int

const (
	PositionBuiltin Position = iota
	PositionPlugin
	PositionCore
	PositionCatchAll
	PositionRecovery
)

func (p Position) String() string {
	switch p {
	case PositionBuiltin:
		return "builtin"
	case PositionPlugin:
		return "plugin"
	case PositionCore:
		return "core"
	case PositionCatchAll:
		return "catch-all"
	case PositionRecovery:
		return "recovery"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// MethodAll matches every HTTP method on a path.
const MethodAll = "*"

// Stage is one unit of the request pipeline. A stage with an empty Method is a
// middleware that sees every request below Path.
type Stage struct {
	Name     string
	Owner    string
	Position Position
	Rank     int
	Method   string
	Path     string

	Handler      fiber.Handler
	ErrorHandler fiber.ErrorHandler
}

// Route 返回便于日志与诊断输出的简短描述。
func (s Stage) Route() string {
	switch {
	case s.ErrorHandler != nil:
		return "error"
	case s.Method == "" && s.Path == "":
		return "use"
	case s.Method == "":
		return "use " + s.Path
	default:
		return s.Method + " " + s.Path
	}
}

// NonError carries a panic value that does not implement error through the
// recovery stages.
type NonError struct {
	Value any
}

func (e *NonError) Error() string {
	return fmt.Sprintf("non-error value: %v", e.Value)
}

func fromPanic(value any) error {
	if err, ok := value.(error); ok {
		return err
	}
	return &NonError{Value: value}
}

func guard(h fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fromPanic(r)
			}
		}()
		return h(c)
	}
}
