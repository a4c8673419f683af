// Package rideapi is the API session for the ride lifecycle of a single room:
// requesting a ride, moving the stage machine forward, reading the current
// state, and submitting dispatch screenshots for analysis.
package rideapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/example/taxipool/internal/config"
	"github.com/example/taxipool/internal/models"
	"github.com/example/taxipool/internal/normalize"
	"github.com/example/taxipool/internal/observability"
	"github.com/example/taxipool/internal/roomapi"
	"github.com/example/taxipool/internal/transport"
)

// ScreenshotPayload is the outbound body for dispatch screenshot analysis.
type ScreenshotPayload struct {
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

// DispatchOutcome is the composite result of a screenshot analysis call.
// Sub-results are independent: a hold failure or an unparseable ride state
// does not void the analysis itself.
type DispatchOutcome struct {
	Analysis  *models.DispatchAnalysis
	Message   string
	RideState *models.RideState
	Hold      *models.HoldResult
	HoldError string
}

// Session issues ride lifecycle calls through the shared transport.
type Session struct {
	client *transport.Client
	cfg    config.ClientConfig
}

func NewSession(client *transport.Client, cfg config.ClientConfig) *Session {
	return &Session{client: client, cfg: cfg}
}

func (s *Session) ensureRoom(roomID string) error {
	if roomID == "" {
		return roomapi.ErrRoomIDRequired
	}
	if s.client.BaseURL == "" {
		return roomapi.ErrNotConfigured
	}
	return nil
}

// RequestRide submits a ride request for the room. The response parse is
// best-effort: a request the backend accepted never fails on response shape.
func (s *Session) RequestRide(ctx context.Context, roomID string, payload models.RideRequestPayload) (models.RideRequestResponse, error) {
	if err := s.ensureRoom(roomID); err != nil {
		return models.RideRequestResponse{}, err
	}
	res, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   transport.BuildRoomURL(s.cfg.RideRequestTemplate, roomID),
		Route:  s.cfg.RideRequestTemplate,
		Body:   payload,
	})
	if err != nil {
		return models.RideRequestResponse{}, transport.Wrap(err, "호출 요청을 저장하지 못했어요.")
	}
	return normalize.RideRequestResponse(res), nil
}

// UpdateRideStage advances the room's ride to the given stage and returns the
// state the backend echoes back. The echoed state must carry a recognizable
// stage; otherwise the update is reported as failed even though the request
// reached the backend.
func (s *Session) UpdateRideStage(ctx context.Context, roomID string, stage models.RideStage) (models.RideState, error) {
	if err := s.ensureRoom(roomID); err != nil {
		return models.RideState{}, err
	}
	res, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   transport.BuildRoomURL(s.cfg.RideStageTemplate, roomID),
		Route:  s.cfg.RideStageTemplate,
		Body:   map[string]any{"stage": string(stage)},
	})
	if err != nil {
		return models.RideState{}, transport.Wrap(err, "배차 단계를 갱신하지 못했어요.")
	}
	state, err := normalize.RideState(res)
	if err != nil {
		return models.RideState{}, fmt.Errorf("배차 단계를 갱신하지 못했어요: %w", err)
	}
	observability.StageTransitionsTotal.WithLabelValues(string(state.Stage)).Inc()
	return state, nil
}

// FetchRideState reads the room's current ride state.
func (s *Session) FetchRideState(ctx context.Context, roomID string) (models.RideState, error) {
	if err := s.ensureRoom(roomID); err != nil {
		return models.RideState{}, err
	}
	res, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   transport.BuildRoomURL(s.cfg.RideStateTemplate, roomID),
		Route:  s.cfg.RideStateTemplate,
	})
	if err != nil {
		return models.RideState{}, transport.Wrap(err, "배차 상태를 불러오지 못했어요.")
	}
	state, err := normalize.RideState(res)
	if err != nil {
		return models.RideState{}, fmt.Errorf("배차 상태를 불러오지 못했어요: %w", err)
	}
	return state, nil
}

// AnalyzeDispatchScreenshot uploads a dispatch confirmation screenshot and
// returns whatever the backend could extract. Only the transport call itself
// can fail; malformed sub-sections of the response degrade to nil fields.
func (s *Session) AnalyzeDispatchScreenshot(ctx context.Context, roomID string, payload ScreenshotPayload) (DispatchOutcome, error) {
	if err := s.ensureRoom(roomID); err != nil {
		return DispatchOutcome{}, err
	}
	res, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   transport.BuildRoomURL(s.cfg.DispatchInfoTemplate, roomID),
		Route:  s.cfg.DispatchInfoTemplate,
		Body:   payload,
	})
	if err != nil {
		return DispatchOutcome{}, transport.Wrap(err, "배차 정보를 분석하지 못했어요.")
	}
	rec := normalize.AsRecord(res)
	if rec == nil {
		return DispatchOutcome{}, nil
	}
	outcome := DispatchOutcome{
		Analysis: normalize.DispatchAnalysis(rec["analysis"]),
	}
	if msg, ok := rec["message"].(string); ok {
		outcome.Message = msg
	}
	if state, err := normalize.RideState(rec["rideState"]); err == nil {
		outcome.RideState = &state
	}
	outcome.Hold = holdResult(rec["hold"], rec["holdResult"])
	if holdErr, ok := rec["holdError"].(string); ok {
		outcome.HoldError = holdErr
	}
	return outcome, nil
}

func holdResult(candidates ...any) *models.HoldResult {
	for _, candidate := range candidates {
		rec := normalize.AsRecord(candidate)
		if rec == nil {
			continue
		}
		out := &models.HoldResult{}
		if v, ok := rec["perHead"].(float64); ok {
			out.PerHead = int64(v)
		}
		if v, ok := rec["collectedFrom"].(float64); ok {
			out.CollectedFrom = int(v)
		}
		return out
	}
	return nil
}
