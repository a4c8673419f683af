// Package roomapi is the API session for room listing, creation, detail and
// membership moves. Responses of any shape pass through internal/normalize
// before reaching callers.
package roomapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/example/taxipool/internal/config"
	"github.com/example/taxipool/internal/models"
	"github.com/example/taxipool/internal/normalize"
	"github.com/example/taxipool/internal/transport"
)

var (
	ErrNotConfigured  = errors.New("API_BASE_URL 환경 변수가 설정되어 있지 않아요.")
	ErrRoomIDRequired = errors.New("방 ID가 필요해요.")
)

// LocationPayload is the outbound location shape for room creation.
type LocationPayload struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat,omitempty"`
	Lng   float64 `json:"lng,omitempty"`
}

// CreateRoomPayload is the outbound body for creating a room.
type CreateRoomPayload struct {
	Title         string          `json:"title"`
	Departure     LocationPayload `json:"departure"`
	Arrival       LocationPayload `json:"arrival"`
	DepartureTime string          `json:"departureTime,omitempty"`
	Priority      string          `json:"priority,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Capacity      int             `json:"capacity,omitempty"`
	Seats         int             `json:"seats,omitempty"`
	Fare          float64         `json:"fare,omitempty"`
}

// Session issues room API calls through the shared transport.
type Session struct {
	client *transport.Client
	cfg    config.ClientConfig
}

func NewSession(client *transport.Client, cfg config.ClientConfig) *Session {
	return &Session{client: client, cfg: cfg}
}

func (s *Session) ensureConfigured() error {
	if s.client.BaseURL == "" {
		return ErrNotConfigured
	}
	return nil
}

// FetchAvailableRooms lists open rooms, optionally filtered by query params.
func (s *Session) FetchAvailableRooms(ctx context.Context, params map[string]string) ([]models.RoomPreview, error) {
	if err := s.ensureConfigured(); err != nil {
		return nil, err
	}
	payload, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   withQuery(s.cfg.RoomsPath, params),
		Route:  s.cfg.RoomsPath,
	})
	if err != nil {
		return nil, transport.Wrap(err, "방 목록을 불러오지 못했어요.")
	}
	items := normalize.UnwrapRooms(payload)
	rooms := make([]models.RoomPreview, 0, len(items))
	for _, item := range items {
		rooms = append(rooms, normalize.RoomPreview(item))
	}
	return rooms, nil
}

// FetchMyRooms lists the rooms the given user belongs to, normalized into
// membership entries ready for store reconciliation.
func (s *Session) FetchMyRooms(ctx context.Context, userID string) ([]models.JoinedRoomEntry, error) {
	if err := s.ensureConfigured(); err != nil {
		return nil, err
	}
	params := map[string]string{"mine": "true"}
	if userID != "" {
		params["creatorId"] = userID
	}
	payload, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   withQuery(s.cfg.MyRoomsPath, params),
		Route:  s.cfg.MyRoomsPath,
	})
	if err != nil {
		return nil, transport.Wrap(err, "내 방 목록을 불러오지 못했어요.")
	}
	items := normalize.UnwrapRooms(payload)
	entries := make([]models.JoinedRoomEntry, 0, len(items))
	for i, item := range items {
		entries = append(entries, normalize.JoinedRoom(item, i))
	}
	return entries, nil
}

// CreateRoom creates a room and returns its canonical preview.
func (s *Session) CreateRoom(ctx context.Context, payload CreateRoomPayload) (models.RoomPreview, error) {
	if err := s.ensureConfigured(); err != nil {
		return models.RoomPreview{}, err
	}
	res, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   s.cfg.RoomsPath,
		Route:  s.cfg.RoomsPath,
		Body:   payload,
	})
	if err != nil {
		return models.RoomPreview{}, transport.Wrap(err, "방을 만들지 못했어요.")
	}
	return normalize.RoomPreview(normalize.UnwrapRoom(res)), nil
}

// FetchRoomDetail returns the room plus its participant list.
func (s *Session) FetchRoomDetail(ctx context.Context, roomID string) (models.RoomDetail, error) {
	if roomID == "" {
		return models.RoomDetail{}, ErrRoomIDRequired
	}
	if err := s.ensureConfigured(); err != nil {
		return models.RoomDetail{}, err
	}
	payload, err := s.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   transport.BuildRoomURL(s.cfg.RoomDetailPath, roomID),
		Route:  s.cfg.RoomDetailPath,
	})
	if err != nil {
		return models.RoomDetail{}, transport.Wrap(err, "방 정보를 불러오지 못했어요.")
	}
	return normalize.RoomDetail(payload, roomID), nil
}

// JoinRoom registers the current user in the room, optionally with a seat.
// The HTTP method is part of the configurable backend contract.
func (s *Session) JoinRoom(ctx context.Context, roomID string, seatNumber *int) error {
	if roomID == "" {
		return ErrRoomIDRequired
	}
	if err := s.ensureConfigured(); err != nil {
		return err
	}
	var body any
	if s.cfg.JoinMethod != http.MethodDelete {
		payload := map[string]any{"roomId": roomID}
		if seatNumber != nil {
			payload["seatNumber"] = *seatNumber
		}
		body = payload
	}
	_, err := s.client.Do(ctx, transport.Request{
		Method: s.cfg.JoinMethod,
		Path:   transport.BuildRoomURL(s.cfg.JoinTemplate, roomID),
		Route:  s.cfg.JoinTemplate,
		Body:   body,
	})
	if err != nil {
		return transport.Wrap(err, "방에 참여하지 못했어요.")
	}
	return nil
}

// LeaveRoom removes the current user from the room.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrRoomIDRequired
	}
	if err := s.ensureConfigured(); err != nil {
		return err
	}
	_, err := s.client.Do(ctx, transport.Request{
		Method: s.cfg.LeaveMethod,
		Path:   transport.BuildRoomURL(s.cfg.LeaveTemplate, roomID),
		Route:  s.cfg.LeaveTemplate,
	})
	if err != nil {
		return transport.Wrap(err, "방에서 나가지 못했어요.")
	}
	return nil
}

func withQuery(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}
