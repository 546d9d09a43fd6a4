package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Dependency is a backend the API needs to serve jobs.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

type SystemHandler struct {
	deps []Dependency
}

func NewSystemHandler(deps ...Dependency) *SystemHandler {
	return &SystemHandler{deps: deps}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz pings every dependency in parallel and reports ready only when
// all of them answer.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	errs := make([]error, len(h.deps))
	var wg sync.WaitGroup
	for i, d := range h.deps {
		wg.Add(1)
		go func(i int, d Dependency) {
			defer wg.Done()
			errs[i] = d.Ping(ctx)
		}(i, d)
	}
	wg.Wait()

	code, state := http.StatusOK, "ready"
	checks := make(map[string]string, len(h.deps))
	for i, d := range h.deps {
		checks[d.Name] = "ok"
		if errs[i] != nil {
			checks[d.Name] = errs[i].Error()
			code, state = http.StatusServiceUnavailable, "not ready"
		}
	}
	c.JSON(code, gin.H{"status": state, "checks": checks})
}
