package mockapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxipool/internal/auth"
	"github.com/example/taxipool/internal/config"
	"github.com/example/taxipool/internal/kv"
	"github.com/example/taxipool/internal/models"
	"github.com/example/taxipool/internal/rideapi"
	"github.com/example/taxipool/internal/roomapi"
	"github.com/example/taxipool/internal/settlement"
	"github.com/example/taxipool/internal/transport"
)

type clientStack struct {
	client *transport.Client
	vault  *auth.Vault
	rooms  *roomapi.Session
	rides  *rideapi.Session
}

func newStack(t *testing.T) (*clientStack, *Server) {
	t.Helper()
	server := NewServer(NewState(0), settlement.NewService(settlement.NewOfflineGateway(), nil), nil)
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	cfg := config.ClientConfig{
		RoomsPath:            "/api/rooms",
		MyRoomsPath:          "/api/rooms",
		RoomDetailPath:       "/api/rooms",
		JoinTemplate:         "/api/rooms/:id/join",
		JoinMethod:           http.MethodPost,
		LeaveTemplate:        "/api/rooms/:id/leave",
		LeaveMethod:          http.MethodPost,
		RideRequestTemplate:  "/api/rooms/:id/ride/request",
		RideStageTemplate:    "/api/rooms/:id/ride/stage",
		RideStateTemplate:    "/api/rooms/:id/ride-state",
		DispatchInfoTemplate: "/api/rooms/:id/ride/dispatch-info",
		RefreshPath:          "/auth/refresh",
		RequestTimeout:       3 * time.Second,
	}
	vault := auth.NewVault(kv.NewMemoryStore())
	client := transport.NewClient(srv.URL, cfg.RefreshPath, cfg.RequestTimeout, vault, nil)
	return &clientStack{
		client: client,
		vault:  vault,
		rooms:  roomapi.NewSession(client, cfg),
		rides:  rideapi.NewSession(client, cfg),
	}, server
}

func login(t *testing.T, stack *clientStack, id, password string) {
	t.Helper()
	ctx := context.Background()
	res, err := stack.client.Post(ctx, "/auth/login", map[string]string{"id": id, "password": password})
	require.NoError(t, err)
	record, ok := res.(map[string]any)
	require.True(t, ok)
	require.NoError(t, stack.vault.SetTokens(ctx,
		record["accessToken"].(string), record["refreshToken"].(string)))
}

func TestSeedCatalogue(t *testing.T) {
	stack, _ := newStack(t)

	rooms, err := stack.rooms.FetchAvailableRooms(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, "room-101", rooms[0].ID)
	assert.Equal(t, "강남 → 인천공항 야간 합승", rooms[0].Title)
	assert.Equal(t, models.StatusRecruiting, rooms[0].Status)
	assert.Equal(t, 4, rooms[0].Capacity)
	assert.Equal(t, 2, rooms[0].Filled)
}

func TestLoginJoinAndMyRooms(t *testing.T) {
	stack, _ := newStack(t)
	ctx := context.Background()
	login(t, stack, "test1", "1111")

	seat := 2
	require.NoError(t, stack.rooms.JoinRoom(ctx, "room-103", &seat))

	detail, err := stack.rooms.FetchRoomDetail(ctx, "room-103")
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Room.Filled, "seed had 1 rider, the join adds one")
	require.Len(t, detail.Participants, 1, "seed fill is synthetic; only real joins are listed")
	assert.Equal(t, "test1", detail.Participants[0].ID)

	mine, err := stack.rooms.FetchMyRooms(ctx, "test1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "room-103", mine[0].RoomID)
	require.NotNil(t, mine[0].SeatNumber)
	assert.Equal(t, 2, *mine[0].SeatNumber)
}

func TestCreateRoomAutoJoinsCreator(t *testing.T) {
	stack, _ := newStack(t)
	ctx := context.Background()
	login(t, stack, "kim", "1234")

	room, err := stack.rooms.CreateRoom(ctx, roomapi.CreateRoomPayload{
		Title:     "잠실 → 김포공항",
		Departure: roomapi.LocationPayload{Label: "잠실역", Lat: 37.5133, Lng: 127.1001},
		Arrival:   roomapi.LocationPayload{Label: "김포공항", Lat: 37.5586, Lng: 126.7944},
		Capacity:  3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, "잠실 → 김포공항", room.Title)
	assert.Greater(t, room.Fare, 4800.0, "fare is estimated from the route when omitted")

	detail, err := stack.rooms.FetchRoomDetail(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, detail.Participants, 1)
	assert.Equal(t, "kim", detail.Participants[0].ID)
	assert.Equal(t, "creator", detail.Participants[0].Role)

	rooms, err := stack.rooms.FetchAvailableRooms(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, room.ID, rooms[0].ID, "new rooms list first")
}

func TestFullRideLifecycle(t *testing.T) {
	stack, _ := newStack(t)
	ctx := context.Background()
	login(t, stack, "test1", "1111")
	require.NoError(t, stack.rooms.JoinRoom(ctx, "room-101", nil))

	res, err := stack.rides.RequestRide(ctx, "room-101", models.RideRequestPayload{
		Pickup:  models.RoomLocation{Label: "강남역 5번 출구"},
		Dropoff: models.RoomLocation{Label: "인천국제공항 T1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, models.StageDispatching, res.Stage)

	outcome, err := stack.rides.AnalyzeDispatchScreenshot(ctx, "room-101", rideapi.ScreenshotPayload{
		ImageBase64: "c2NyZWVuc2hvdA==",
		MimeType:    "image/png",
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Analysis)
	assert.NotEmpty(t, outcome.Analysis.DriverName)
	require.NotNil(t, outcome.RideState)
	assert.Equal(t, models.StageAccepted, outcome.RideState.Stage)
	require.NotNil(t, outcome.Hold, "fare hold collects from the joined rider")
	assert.Equal(t, 1, outcome.Hold.CollectedFrom)
	assert.Equal(t, int64(48000), outcome.Hold.PerHead)

	state, err := stack.rides.UpdateRideStage(ctx, "room-101", models.StageOnboard)
	require.NoError(t, err)
	assert.Equal(t, models.StageOnboard, state.Stage)

	state, err = stack.rides.FetchRideState(ctx, "room-101")
	require.NoError(t, err)
	assert.Equal(t, models.StageOnboard, state.Stage)
	assert.Equal(t, outcome.Analysis.DriverName, state.DriverName)

	_, err = stack.rides.UpdateRideStage(ctx, "room-101", models.StageCompleted)
	require.NoError(t, err)

	rooms, err := stack.rooms.FetchAvailableRooms(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, rooms[0].Status)
}

func TestStaleTokenTriggersRefreshFlow(t *testing.T) {
	stack, _ := newStack(t)
	ctx := context.Background()
	login(t, stack, "test1", "1111")

	// Simulate an expired access token while keeping the refresh token.
	refresh, err := stack.vault.RefreshToken(ctx)
	require.NoError(t, err)
	require.NoError(t, stack.vault.SetTokens(ctx, "at-stale", refresh))

	rooms, err := stack.rooms.FetchAvailableRooms(ctx, nil)
	require.NoError(t, err, "the 401 should be absorbed by one refresh and retry")
	assert.Len(t, rooms, 3)

	rotated, err := stack.vault.AccessToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "at-stale", rotated)
}

func TestLeaveRequiresMembership(t *testing.T) {
	stack, _ := newStack(t)
	ctx := context.Background()
	login(t, stack, "kim", "1234")

	err := stack.rooms.LeaveRoom(ctx, "room-102")
	require.Error(t, err)
	assert.Equal(t, "참여 중인 방이 아니에요.", err.Error())

	require.NoError(t, stack.rooms.JoinRoom(ctx, "room-102", nil))
	require.NoError(t, stack.rooms.LeaveRoom(ctx, "room-102"))
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	stack, _ := newStack(t)
	ctx := context.Background()
	login(t, stack, "test1", "1111")

	refresh, err := stack.vault.RefreshToken(ctx)
	require.NoError(t, err)

	_, err = stack.client.Post(ctx, "/auth/refresh", map[string]string{"refreshToken": refresh})
	require.NoError(t, err)

	res, err := stack.client.Post(ctx, "/auth/refresh", map[string]string{"refreshToken": refresh})
	require.Error(t, err, "a consumed refresh token must be rejected, got %v", res)
}

func TestUnknownRoomIs404(t *testing.T) {
	stack, _ := newStack(t)

	_, err := stack.rooms.FetchRoomDetail(context.Background(), "room-999")
	require.Error(t, err)
	assert.Equal(t, "방을 찾을 수 없어요.", err.Error())
}
