package server

import (
	"context"
	"net/http"
	"time"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
)

// ModelName is the speech model the service wraps.
const ModelName = "xtts-v2"

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

const healthCheckTimeout = 3 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	Model         string       `json:"model"`
	Runtime       string       `json:"runtime"`
	RuntimeError  string       `json:"runtime_error,omitempty"`
	LLMModel      string       `json:"llm_model"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Memory        *MemoryStats `json:"memory,omitempty"`
}

// MemoryStats summarizes host memory.
type MemoryStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	runtime := s.synthesizer.Runtime()
	response := HealthResponse{
		Status:        StatusHealthy,
		Model:         ModelName,
		Runtime:       runtime.Name(),
		LLMModel:      s.chat.Model(),
		UptimeSeconds: time.Since(s.started).Round(time.Second).Seconds(),
	}

	if checker, ok := runtime.(core.HealthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			response.Status = StatusDegraded
			response.RuntimeError = err.Error()
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		response.Memory = &MemoryStats{
			TotalBytes:     vm.Total,
			AvailableBytes: vm.Available,
			UsedPercent:    vm.UsedPercent,
		}
	}

	c.JSON(http.StatusOK, response)
}
