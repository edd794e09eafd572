package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
)

// ErrOrder 标记 stage 注册顺序违反 Position 约束。
var ErrOrder = errors.New("pipeline: stage registered out of order")

// ErrSealed 表示 Build 之后仍尝试注册 stage。
var ErrSealed = errors.New("pipeline: already built")

// Pipeline collects stages in registration order.
type Pipeline struct {
	config fiber.Config

	mu         sync.Mutex
	stages     []Stage
	current    Position
	ranks      map[Position]int
	violations []error
	built      bool
}

// New 创建空 pipeline，cfg 作为 Build 时 fiber.New 的基础配置（ErrorHandler 会被覆盖）。
func New(cfg fiber.Config) *Pipeline {
	return &Pipeline{
		config: cfg,
		ranks:  make(map[Position]int),
	}
}

// Scope returns a Router that appends stages at pos on behalf of owner.
func (p *Pipeline) Scope(pos Position, owner string) Router {
	return &scopedRouter{pipeline: p, position: pos, owner: owner}
}

// Recover appends an error stage. Error stages run in order once a regular
// stage fails; returning nil ends the chain.
func (p *Pipeline) Recover(name string, h fiber.ErrorHandler) {
	p.add(Stage{
		Name:         name,
		Owner:        "core",
		Position:     PositionRecovery,
		ErrorHandler: h,
	})
}

func (p *Pipeline) add(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.built {
		p.violations = append(p.violations, fmt.Errorf("%w: %s %q", ErrSealed, stage.Owner, stage.Name))
		return
	}
	if stage.Position < p.current {
		p.violations = append(p.violations, fmt.Errorf("%w: %s stage %q from %s after %s stages",
			ErrOrder, stage.Position, stage.Name, stage.Owner, p.current))
		return
	}
	if stage.Handler == nil && stage.ErrorHandler == nil {
		p.violations = append(p.violations, fmt.Errorf("pipeline: stage %q from %s has no handler", stage.Name, stage.Owner))
		return
	}

	p.current = stage.Position
	stage.Rank = p.ranks[stage.Position]
	p.ranks[stage.Position]++
	p.stages = append(p.stages, stage)
}

// Stages returns a snapshot of every registered stage in execution order.
func (p *Pipeline) Stages() []Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Stage(nil), p.stages...)
}

// StagesAt 返回指定分段内的 stage。
func (p *Pipeline) StagesAt(pos Position) []Stage {
	var out []Stage
	for _, stage := range p.Stages() {
		if stage.Position == pos {
			out = append(out, stage)
		}
	}
	return out
}

// Plugins 返回贡献过 plugin 分段 stage 的插件名，按首次注册顺序去重。
func (p *Pipeline) Plugins() []string {
	seen := make(map[string]struct{})
	var owners []string
	for _, stage := range p.StagesAt(PositionPlugin) {
		if _, ok := seen[stage.Owner]; ok {
			continue
		}
		seen[stage.Owner] = struct{}{}
		owners = append(owners, stage.Owner)
	}
	return owners
}

// Build compiles the stages into a Fiber application. It fails when any
// registration was rejected and can only succeed once.
func (p *Pipeline) Build() (*fiber.App, error) {
	p.mu.Lock()
	if p.built {
		p.mu.Unlock()
		return nil, ErrSealed
	}
	if len(p.violations) > 0 {
		err := errors.Join(p.violations...)
		p.mu.Unlock()
		return nil, err
	}
	p.built = true
	stages := append([]Stage(nil), p.stages...)
	p.mu.Unlock()

	var recovery []fiber.ErrorHandler
	for _, stage := range stages {
		if stage.ErrorHandler != nil {
			recovery = append(recovery, stage.ErrorHandler)
		}
	}

	cfg := p.config
	cfg.ErrorHandler = chainErrorHandlers(recovery)
	app := fiber.New(cfg)

	for _, stage := range stages {
		if stage.Handler == nil {
			continue
		}
		handler := guard(stage.Handler)
		switch stage.Method {
		case "":
			if stage.Path == "" {
				app.Use(handler)
			} else {
				app.Use(stage.Path, handler)
			}
		case MethodAll:
			app.All(stage.Path, handler)
		default:
			app.Add([]string{stage.Method}, stage.Path, handler)
		}
	}
	return app, nil
}

// chainErrorHandlers 依次调用错误 stage，前一个返回的 error 作为下一个的输入。
func chainErrorHandlers(handlers []fiber.ErrorHandler) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		for _, h := range handlers {
			if err == nil {
				return nil
			}
			err = callErrorHandler(h, c, err)
		}
		if err != nil {
			return fiber.DefaultErrorHandler(c, err)
		}
		return nil
	}
}

func callErrorHandler(h fiber.ErrorHandler, c fiber.Ctx, in error) (out error) {
	defer func() {
		if r := recover(); r != nil {
			out = fromPanic(r)
		}
	}()
	return h(c, in)
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodGet
	}
	return method
}
