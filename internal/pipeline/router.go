package pipeline

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
)

// Router is the registration surface handed to the core API, the web UI and
// middleware plugins. Every call appends exactly one stage.
type Router interface {
	Use(handler fiber.Handler) Router
	Get(path string, handler fiber.Handler) Router
	Head(path string, handler fiber.Handler) Router
	Post(path string, handler fiber.Handler) Router
	Put(path string, handler fiber.Handler) Router
	Delete(path string, handler fiber.Handler) Router
	Patch(path string, handler fiber.Handler) Router
	All(path string, handler fiber.Handler) Router
	Add(method, path string, handler fiber.Handler) Router

	// Named 为下一次注册的 stage 指定名称，便于诊断。
	Named(name string) Router
}

type scopedRouter struct {
	pipeline *Pipeline
	position Position
	owner    string
	name     string
}

func (r *scopedRouter) Named(name string) Router {
	return &scopedRouter{pipeline: r.pipeline, position: r.position, owner: r.owner, name: name}
}

func (r *scopedRouter) Use(handler fiber.Handler) Router {
	r.pipeline.add(r.stage("", "", handler))
	return r
}

func (r *scopedRouter) Get(path string, handler fiber.Handler) Router {
	return r.Add(http.MethodGet, path, handler)
}

func (r *scopedRouter) Head(path string, handler fiber.Handler) Router {
	return r.Add(http.MethodHead, path, handler)
}

func (r *scopedRouter) Post(path string, handler fiber.Handler) Router {
	return r.Add(http.MethodPost, path, handler)
}

func (r *scopedRouter) Put(path string, handler fiber.Handler) Router {
	return r.Add(http.MethodPut, path, handler)
}

func (r *scopedRouter) Delete(path string, handler fiber.Handler) Router {
	return r.Add(http.MethodDelete, path, handler)
}

func (r *scopedRouter) Patch(path string, handler fiber.Handler) Router {
	return r.Add(http.MethodPatch, path, handler)
}

func (r *scopedRouter) All(path string, handler fiber.Handler) Router {
	r.pipeline.add(r.stage(MethodAll, path, handler))
	return r
}

func (r *scopedRouter) Add(method, path string, handler fiber.Handler) Router {
	r.pipeline.add(r.stage(normalizeMethod(method), path, handler))
	return r
}

func (r *scopedRouter) stage(method, path string, handler fiber.Handler) Stage {
	name := r.name
	if name == "" {
		name = r.owner
	}
	return Stage{
		Name:     name,
		Owner:    r.owner,
		Position: r.position,
		Method:   method,
		Path:     path,
		Handler:  handler,
	}
}
