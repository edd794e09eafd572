package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/httperr"
)

const defaultSearchSize = 20

type searchObject struct {
	Package     searchPackage `json:"package"`
	Score       searchScore   `json:"score"`
	SearchScore float64       `json:"searchScore"`
}

type searchPackage struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

type searchScore struct {
	Final  float64            `json:"final"`
	Detail map[string]float64 `json:"detail"`
}

// search 实现 /-/v1/search，仅返回当前用户可读的本地包。
func (h *handler) search(c fiber.Ctx) error {
	size := queryInt(c, "size", defaultSearchSize)
	from := queryInt(c, "from", 0)

	results, err := h.store.Search(c.Context(), c.Query("text"))
	if err != nil {
		return httperr.Internal(err)
	}

	user := auth.RemoteUser(c)
	objects := make([]searchObject, 0, len(results))
	for _, r := range results {
		if !h.auth.CanAccess(user, r.Name) {
			continue
		}
		objects = append(objects, searchObject{
			Package: searchPackage{Name: r.Name, Version: r.Version, Description: r.Description},
			Score: searchScore{
				Final:  1,
				Detail: map[string]float64{"quality": 1, "popularity": 1, "maintenance": 1},
			},
			SearchScore: 1,
		})
	}

	total := len(objects)
	if from > total {
		from = total
	}
	end := from + size
	if end > total {
		end = total
	}
	return c.JSON(fiber.Map{
		"objects": objects[from:end],
		"total":   total,
		"time":    time.Now().UTC().Format(time.RFC1123),
	})
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
