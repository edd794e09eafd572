package server

import (
	"os"
	"runtime"

	"github.com/gofiber/fiber/v3"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/pipeline"
	"github.com/any-hub/any-registry/internal/version"
)

type stagePayload struct {
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	Position string `json:"position"`
	Rank     int    `json:"rank"`
	Route    string `json:"route"`
}

// registerDebug 仅在 Debug 打开时挂载，输出进程与插件诊断信息。
func registerDebug(router pipeline.Router, p *pipeline.Pipeline, d deps) {
	router.Named("debug").Get("/-/_debug", func(c fiber.Ctx) error {
		executable, _ := os.Executable()
		payload := fiber.Map{
			"pid":        os.Getpid(),
			"main":       executable,
			"conf":       d.cfg.ConfigPath,
			"version":    version.Full(),
			"goroutines": runtime.NumGoroutine(),
		}
		if proc, err := process.NewProcessWithContext(c.Context(), int32(os.Getpid())); err == nil {
			if mem, err := proc.MemoryInfoWithContext(c.Context()); err == nil {
				payload["mem"] = fiber.Map{"rss": mem.RSS, "vms": mem.VMS}
			}
		}
		return c.JSON(payload)
	})

	router.Named("debug").Get("/-/_debug/plugins", func(c fiber.Ctx) error {
		middlewares := make([]string, len(d.middlewares))
		for i, m := range d.middlewares {
			middlewares[i] = m.name
		}
		stages := p.Stages()
		encoded := make([]stagePayload, 0, len(stages))
		for _, s := range stages {
			encoded = append(encoded, stagePayload{
				Name:     s.Name,
				Owner:    s.Owner,
				Position: s.Position.String(),
				Rank:     s.Rank,
				Route:    s.Route(),
			})
		}
		return c.JSON(fiber.Map{
			"filters":     config.PluginNames(d.cfg.Filters),
			"middlewares": middlewares,
			"registered":  d.registry.Names(),
			"stages":      encoded,
		})
	})
}
