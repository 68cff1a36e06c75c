package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/screenglow/internal/events"
)

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Pipeline state changes, capture failures, transport errors and layout reloads",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"pipeline-state-changed": events.PipelineStateChangedEvent{},
		"capture-failed":         events.CaptureFailedEvent{},
		"transport-error":        events.TransportErrorEvent{},
		"geometry-changed":       events.GeometryChangedEvent{},
		"layout-reloaded":        events.LayoutReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.PipelineStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CaptureFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TransportErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.GeometryChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.LayoutReloadedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// New clients start from the current state.
		current := s.options.Status.Status().Pipeline
		if err := send.Data(events.PipelineStateChangedEvent{
			To:        current.State,
			Error:     current.LastError,
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
