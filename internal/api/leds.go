package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/screenglow/internal/api/models"
	"github.com/smazurov/screenglow/internal/led"
)

func (s *Server) registerLEDRoutes() {
	if s.options.LEDController == nil {
		s.logger.Debug("LED controller not available, skipping LED routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-led",
		Method:      http.MethodGet,
		Path:        "/api/led",
		Summary:     "Get Status LED",
		Description: "Name of the status LED driven by the pipeline state",
		Tags:        []string{"leds"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.LEDResponse, error) {
		return &models.LEDResponse{Body: models.LEDData{Name: s.options.LEDController.Name()}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-led",
		Method:      http.MethodPut,
		Path:        "/api/led",
		Summary:     "Set Status LED",
		Description: "Show a pattern on the status LED. The next pipeline state change overrides it.",
		Tags:        []string{"leds"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LEDRequest) (*struct{}, error) {
		if err := s.options.LEDController.Set(led.Pattern(input.Body.Pattern)); err != nil {
			return nil, huma.Error400BadRequest("Failed to set LED", err)
		}
		return &struct{}{}, nil
	})

	s.logger.Info("LED routes registered", "led", s.options.LEDController.Name())
}
