// Package mockapi is a self-contained backend implementing the room and ride
// API contract, used for local development of the sync agent.
package mockapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxipool/internal/models"
	"github.com/example/taxipool/internal/settlement"
)

type mockUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"-"`
	Gender   string `json:"gender,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type Server struct {
	state  *State
	settle *settlement.Service
	logger *slog.Logger
	mux    *mux.Router
	hub    *hub

	authMu        sync.Mutex
	users         map[string]mockUser
	accessTokens  map[string]string
	refreshTokens map[string]string
}

func NewServer(state *State, settle *settlement.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:  state,
		settle: settle,
		logger: logger,
		mux:    mux.NewRouter(),
		hub:    newHub(logger),
		users: map[string]mockUser{
			"test1": {ID: "test1", Name: "테스트1", Password: "1111", Gender: "male", Phone: "010-0000-0000"},
			"kim":   {ID: "kim", Name: "김고고", Password: "1234", Gender: "female", Phone: "010-1111-2222"},
		},
		accessTokens:  map[string]string{},
		refreshTokens: map[string]string{},
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh).Methods("POST")
	s.mux.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")

	s.mux.HandleFunc("/api/rooms", s.handleListRooms).Methods("GET")
	s.mux.HandleFunc("/api/rooms", s.handleCreateRoom).Methods("POST")
	s.mux.HandleFunc("/api/rooms/{id}", s.handleRoomDetail).Methods("GET")
	s.mux.HandleFunc("/api/rooms/{id}/join", s.handleJoin).Methods("POST")
	s.mux.HandleFunc("/api/rooms/{id}/leave", s.handleLeave).Methods("POST")
	s.mux.HandleFunc("/api/rooms/{id}/ride/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/rooms/{id}/ride/stage", s.handleRideStage).Methods("POST")
	s.mux.HandleFunc("/api/rooms/{id}/ride-state", s.handleRideState).Methods("GET")
	s.mux.HandleFunc("/api/rooms/{id}/ride/dispatch-info", s.handleDispatchInfo).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.hub.handleWS)
}

// identify resolves the bearer token to a user. A missing token means a guest
// session; a token the server does not know is a 401 so clients exercise
// their refresh path.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (mockUser, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return mockUser{ID: "guest", Name: "게스트"}, true
	}
	token := strings.TrimPrefix(header, "Bearer ")
	s.authMu.Lock()
	userID, ok := s.accessTokens[token]
	user := s.users[userID]
	s.authMu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "만료된 토큰이에요")
		return mockUser{}, false
	}
	return user, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "요청 형식이 올바르지 않아요.")
		return
	}
	s.authMu.Lock()
	defer s.authMu.Unlock()
	user, ok := s.users[strings.TrimSpace(body.ID)]
	if !ok {
		writeError(w, http.StatusNotFound, "등록되지 않은 아이디예요.")
		return
	}
	if user.Password != body.Password {
		writeError(w, http.StatusUnauthorized, "비밀번호가 일치하지 않아요.")
		return
	}
	access, refresh := s.mintLocked(user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         user,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Gender   string `json:"gender"`
		Phone    string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "요청 형식이 올바르지 않아요.")
		return
	}
	id := strings.TrimSpace(body.ID)
	if id == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "아이디와 비밀번호를 입력해 주세요.")
		return
	}
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if _, exists := s.users[id]; exists {
		writeError(w, http.StatusConflict, "이미 사용 중인 아이디예요.")
		return
	}
	user := mockUser{ID: id, Name: body.Name, Password: body.Password, Gender: body.Gender, Phone: body.Phone}
	if user.Name == "" {
		user.Name = id
	}
	s.users[id] = user
	access, refresh := s.mintLocked(id)
	writeJSON(w, http.StatusCreated, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "갱신 토큰이 필요해요.")
		return
	}
	s.authMu.Lock()
	defer s.authMu.Unlock()
	userID, ok := s.refreshTokens[body.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "다시 로그인해 주세요.")
		return
	}
	delete(s.refreshTokens, body.RefreshToken)
	access, refresh := s.mintLocked(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	header := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.authMu.Lock()
	delete(s.accessTokens, header)
	s.authMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// mintLocked issues a fresh token pair; the caller holds authMu.
func (s *Server) mintLocked(userID string) (access, refresh string) {
	access = "at-" + newToken()
	refresh = "rt-" + newToken()
	s.accessTokens[access] = userID
	s.refreshTokens[refresh] = userID
	return access, refresh
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identify(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if query.Get("mine") == "true" {
		userID := query.Get("creatorId")
		if userID == "" {
			userID = user.ID
		}
		writeJSON(w, http.StatusOK, map[string]any{"rooms": s.state.RoomsFor(userID)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.state.ListRooms()})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		Title     string `json:"title"`
		Departure struct {
			Label string  `json:"label"`
			Lat   float64 `json:"lat"`
			Lng   float64 `json:"lng"`
		} `json:"departure"`
		Arrival struct {
			Label string  `json:"label"`
			Lat   float64 `json:"lat"`
			Lng   float64 `json:"lng"`
		} `json:"arrival"`
		DepartureTime string   `json:"departureTime"`
		Tags          []string `json:"tags"`
		Capacity      int      `json:"capacity"`
		Fare          float64  `json:"fare"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "요청 형식이 올바르지 않아요.")
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		writeError(w, http.StatusBadRequest, "방 제목을 입력해 주세요.")
		return
	}
	room := s.state.CreateRoom(models.RoomPreview{
		Title: body.Title,
		Departure: models.RoomLocation{
			Label:    body.Departure.Label,
			Position: models.GeoPoint{Lat: body.Departure.Lat, Lng: body.Departure.Lng},
		},
		Arrival: models.RoomLocation{
			Label:    body.Arrival.Label,
			Position: models.GeoPoint{Lat: body.Arrival.Lat, Lng: body.Arrival.Lng},
		},
		Time:     body.DepartureTime,
		Tags:     body.Tags,
		Capacity: body.Capacity,
		Fare:     body.Fare,
	}, user.ID)
	if _, err := s.state.Join(room.ID, user.ID, user.Name, nil); err == nil {
		room, _, _ = s.state.Detail(room.ID)
	}
	s.hub.broadcast("room_created", room.ID, nil)
	writeJSON(w, http.StatusCreated, map[string]any{"room": room})
}

func (s *Server) handleRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	room, participants, ok := s.state.Detail(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, errRoomNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room, "participants": participants})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identify(w, r)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	var body struct {
		SeatNumber *int `json:"seatNumber"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	room, err := s.state.Join(roomID, user.ID, user.Name, body.SeatNumber)
	if err != nil {
		status := http.StatusNotFound
		if err == errRoomFull {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	s.hub.broadcast("room_updated", roomID, map[string]any{"room": room})
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identify(w, r)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	room, err := s.state.Leave(roomID, user.ID)
	if err != nil {
		status := http.StatusNotFound
		if err == errNotAMember {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	s.hub.broadcast("room_updated", roomID, map[string]any{"room": room})
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	var payload models.RideRequestPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)
	state, err := s.state.RequestRide(roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.hub.broadcast("stage_changed", roomID, map[string]any{"stage": string(state.Stage)})
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId": state.RequestID,
		"stage":     string(state.Stage),
		"createdAt": state.UpdatedAt,
	})
}

func (s *Server) handleRideStage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	var body struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Stage == "" {
		writeError(w, http.StatusBadRequest, "단계 값이 필요해요.")
		return
	}
	state, err := s.state.SetStage(roomID, models.RideStage(body.Stage))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if state.Stage == models.StageCompleted {
		if err := s.settle.CaptureRoom(r.Context(), roomID); err != nil {
			s.logger.Warn("capture on completion failed", "room_id", roomID, "error", err)
		}
	}
	if state.Stage == models.StageCancelled {
		if err := s.settle.ReleaseRoom(r.Context(), roomID); err != nil {
			s.logger.Warn("release on cancel failed", "room_id", roomID, "error", err)
		}
	}
	s.hub.broadcast("stage_changed", roomID, map[string]any{"stage": string(state.Stage)})
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRideState(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	state, err := s.state.RideState(roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDispatchInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	var body struct {
		ImageBase64 string `json:"imageBase64"`
		FileName    string `json:"fileName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, "스크린샷 이미지가 필요해요.")
		return
	}

	analysis := synthesizeAnalysis(body.ImageBase64)
	state, err := s.state.AssignDriver(roomID, analysis)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	response := map[string]any{
		"analysis":  analysis,
		"message":   "배차가 확정되었어요.",
		"rideState": state,
	}
	participants, fare, err := s.state.Participants(roomID)
	if err == nil && len(participants) > 0 && fare > 0 {
		if hold, holdErr := s.settle.HoldFare(r.Context(), roomID, fare, participants); holdErr != nil {
			response["holdError"] = "요금 선결제에 실패했어요."
			s.logger.Warn("hold failed", "room_id", roomID, "error", holdErr)
		} else {
			response["hold"] = hold
		}
	}

	s.hub.broadcast("stage_changed", roomID, map[string]any{"stage": string(state.Stage)})
	writeJSON(w, http.StatusOK, response)
}

// synthesizeAnalysis derives a stable fake dispatch result from the upload so
// repeated submissions of the same screenshot agree.
func synthesizeAnalysis(imageBase64 string) models.DispatchAnalysis {
	drivers := []models.DispatchAnalysis{
		{DriverName: "박기사", CarNumber: "12가3456", CarModel: "쏘나타"},
		{DriverName: "이기사", CarNumber: "34나5678", CarModel: "그랜저"},
		{DriverName: "최기사", CarNumber: "56다7890", CarModel: "K5"},
	}
	var sum int
	for _, c := range imageBase64 {
		sum += int(c)
	}
	analysis := drivers[sum%len(drivers)]
	eta := float64(3 + sum%7)
	analysis.EtaMinutes = &eta
	analysis.Summary = analysis.DriverName + " 기사님이 배차되었어요."
	return analysis
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Shutdown closes every websocket subscriber.
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.closeAll()
}
