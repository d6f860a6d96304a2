package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/pkg/dto"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger func(ctx context.Context) error

type SystemHandler struct {
	checks map[string]Pinger
	status dto.StatusResponse
}

// NewSystemHandler builds health endpoints. checks maps a dependency name
// to its probe; status is reported as-is by Status.
func NewSystemHandler(checks map[string]Pinger, status dto.StatusResponse) *SystemHandler {
	return &SystemHandler{checks: checks, status: status}
}

// StatusFor describes a running pipeline mode.
func StatusFor(mode models.ValidationMode, backend string, threshold float64) dto.StatusResponse {
	return dto.StatusResponse{
		FaceRecognitionAvailable: mode == models.ModeFace,
		Mode:                     string(mode),
		ServiceAvailable:         true,
		Backend:                  backend,
		SimilarityThreshold:      threshold,
	}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// Status reports which validation mode is active.
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status)
}
