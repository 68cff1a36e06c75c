package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/screenglow/internal/api/models"
)

// StatsInterval is how often the stats stream pushes pipeline counters.
var StatsInterval = time.Second

func (s *Server) registerStatsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "stats-stream",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "Pipeline Stats Stream",
		Description: "Pipeline counters pushed once per interval",
		Tags:        []string{"status"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"pipeline-stats": models.PipelineData{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		ticker := time.NewTicker(StatsInterval)
		defer ticker.Stop()

		for {
			if err := send.Data(s.options.Status.Status().Pipeline); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}
