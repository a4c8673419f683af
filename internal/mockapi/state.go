package mockapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/taxipool/internal/geo"
	"github.com/example/taxipool/internal/models"
)

func hasPosition(loc models.RoomLocation) bool {
	return loc.Position.Lat != 0 || loc.Position.Lng != 0
}

// seedRooms is the fixture catalogue served before any room is created.
func seedRooms() []models.RoomPreview {
	return []models.RoomPreview{
		{
			ID:    "room-101",
			Title: "강남 → 인천공항 야간 합승",
			Departure: models.RoomLocation{
				Label:    "강남역 5번 출구",
				Position: models.GeoPoint{Lat: 37.498095, Lng: 127.02761},
			},
			Arrival: models.RoomLocation{
				Label:    "인천국제공항 T1",
				Position: models.GeoPoint{Lat: 37.4602, Lng: 126.4407},
			},
			Time:     "오늘 23:30 출발",
			Seats:    2,
			Capacity: 4,
			Filled:   2,
			Tags:     []string{"공항", "야간"},
			Status:   models.StatusRecruiting,
			Fare:     48000,
		},
		{
			ID:    "room-102",
			Title: "홍대입구 → 서현역 출근",
			Departure: models.RoomLocation{
				Label:    "홍대입구역 9번 출구",
				Position: models.GeoPoint{Lat: 37.5575, Lng: 126.9242},
			},
			Arrival: models.RoomLocation{
				Label:    "서현역 AK플라자",
				Position: models.GeoPoint{Lat: 37.3851, Lng: 127.1238},
			},
			Time:     "내일 07:10 출발",
			Seats:    1,
			Capacity: 4,
			Filled:   3,
			Tags:     []string{"출근", "아침"},
			Status:   models.StatusRecruiting,
			Fare:     32000,
		},
		{
			ID:    "room-103",
			Title: "여의도 → 판교 퇴근길",
			Departure: models.RoomLocation{
				Label:    "여의도역 5번 출구",
				Position: models.GeoPoint{Lat: 37.5219, Lng: 126.9241},
			},
			Arrival: models.RoomLocation{
				Label:    "판교역 2번 출구",
				Position: models.GeoPoint{Lat: 37.3948, Lng: 127.1109},
			},
			Time:     "오늘 20:00 출발",
			Seats:    3,
			Capacity: 4,
			Filled:   1,
			Tags:     []string{"직장인", "조용한분"},
			Status:   models.StatusRecruiting,
			Fare:     27000,
		},
	}
}

type member struct {
	userID   string
	name     string
	seat     *int
	joinedAt time.Time
}

type roomState struct {
	room      models.RoomPreview
	creatorID string
	members   []member
	ride      *models.RideState
}

// State is the in-memory backend state behind the mock API.
type State struct {
	mu    sync.Mutex
	rooms map[string]*roomState
	order []string
}

func NewState(seatCount int) *State {
	s := &State{rooms: map[string]*roomState{}}
	for _, room := range seedRooms() {
		if seatCount > 0 {
			room.Capacity = seatCount
		}
		s.rooms[room.ID] = &roomState{room: room}
		s.order = append(s.order, room.ID)
	}
	return s
}

func (s *State) ListRooms() []models.RoomPreview {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RoomPreview, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id].room.Clone())
	}
	return out
}

// RoomsFor lists the rooms the user has joined or created, most recent join
// first, each annotated with the user's seat.
func (s *State) RoomsFor(userID string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	type hit struct {
		entry map[string]any
		at    time.Time
	}
	var hits []hit
	for _, id := range s.order {
		rs := s.rooms[id]
		for _, m := range rs.members {
			if m.userID != userID {
				continue
			}
			entry := map[string]any{
				"roomId":   id,
				"joinedAt": m.joinedAt.UTC().Format(time.RFC3339),
				"room":     rs.room.Clone(),
			}
			if m.seat != nil {
				entry["seatNumber"] = *m.seat
			}
			if rs.creatorID == userID {
				entry["role"] = "creator"
			}
			hits = append(hits, hit{entry: entry, at: m.joinedAt})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at.After(hits[j].at) })
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.entry)
	}
	return out
}

func (s *State) CreateRoom(room models.RoomPreview, creatorID string) models.RoomPreview {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = "room-" + newID()
	}
	if room.Capacity <= 0 {
		room.Capacity = 4
	}
	if room.Status == models.StatusUnknown {
		room.Status = models.StatusRecruiting
	}
	if room.Fare <= 0 && hasPosition(room.Departure) && hasPosition(room.Arrival) {
		room.Fare = geo.EstimateFare(room.Departure.Position, room.Arrival.Position)
	}
	room.Seats = room.Capacity - room.Filled
	s.rooms[room.ID] = &roomState{room: room, creatorID: creatorID}
	s.order = append([]string{room.ID}, s.order...)
	return room.Clone()
}

func (s *State) Detail(roomID string) (models.RoomPreview, []models.RoomParticipant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RoomPreview{}, nil, false
	}
	participants := make([]models.RoomParticipant, 0, len(rs.members))
	for _, m := range rs.members {
		p := models.RoomParticipant{
			ID:       m.userID,
			Name:     m.name,
			JoinedAt: m.joinedAt.UTC().Format(time.RFC3339),
		}
		if m.seat != nil {
			seat := *m.seat
			p.SeatNumber = &seat
		}
		if rs.creatorID == m.userID {
			p.Role = "creator"
		}
		participants = append(participants, p)
	}
	return rs.room.Clone(), participants, true
}

func (s *State) Join(roomID, userID, name string, seat *int) (models.RoomPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RoomPreview{}, errRoomNotFound
	}
	for i, m := range rs.members {
		if m.userID == userID {
			// rejoin just refreshes the seat
			rs.members[i].seat = seat
			return rs.room.Clone(), nil
		}
	}
	if rs.room.Filled >= rs.room.Capacity {
		return models.RoomPreview{}, errRoomFull
	}
	rs.members = append(rs.members, member{userID: userID, name: name, seat: seat, joinedAt: time.Now()})
	rs.room.Filled++
	rs.room.Seats = rs.room.Capacity - rs.room.Filled
	return rs.room.Clone(), nil
}

func (s *State) Leave(roomID, userID string) (models.RoomPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RoomPreview{}, errRoomNotFound
	}
	for i, m := range rs.members {
		if m.userID == userID {
			rs.members = append(rs.members[:i], rs.members[i+1:]...)
			if rs.room.Filled > 0 {
				rs.room.Filled--
			}
			rs.room.Seats = rs.room.Capacity - rs.room.Filled
			return rs.room.Clone(), nil
		}
	}
	return models.RoomPreview{}, errNotAMember
}

// RequestRide starts the dispatch machine for the room.
func (s *State) RequestRide(roomID string) (models.RideState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RideState{}, errRoomNotFound
	}
	state := models.RideState{
		RequestID: "req-" + newID(),
		Stage:     models.StageDispatching,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	rs.ride = &state
	rs.room.Status = models.StatusDispatching
	return state, nil
}

func (s *State) SetStage(roomID string, stage models.RideStage) (models.RideState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RideState{}, errRoomNotFound
	}
	if rs.ride == nil {
		rs.ride = &models.RideState{RequestID: "req-" + newID()}
	}
	rs.ride.Stage = stage
	rs.ride.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	rs.room.Status = statusForStage(stage, rs.room.Status)
	return *rs.ride, nil
}

func (s *State) RideState(roomID string) (models.RideState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RideState{}, errRoomNotFound
	}
	if rs.ride == nil {
		return models.RideState{Stage: models.StagePending}, nil
	}
	return *rs.ride, nil
}

// AssignDriver records the dispatch result on the room and its ride state.
func (s *State) AssignDriver(roomID string, analysis models.DispatchAnalysis) (models.RideState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return models.RideState{}, errRoomNotFound
	}
	if rs.ride == nil {
		rs.ride = &models.RideState{RequestID: "req-" + newID()}
	}
	rs.ride.Stage = models.StageAccepted
	rs.ride.DriverName = analysis.DriverName
	rs.ride.CarNumber = analysis.CarNumber
	rs.ride.CarModel = analysis.CarModel
	if analysis.EtaMinutes != nil {
		rs.ride.EtaMinutes = *analysis.EtaMinutes
	}
	rs.ride.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	rs.room.Status = models.StatusDriverAssigned
	rs.room.Taxi = &models.TaxiInfo{
		DriverName: analysis.DriverName,
		CarNumber:  analysis.CarNumber,
		CarModel:   analysis.CarModel,
	}
	return *rs.ride, nil
}

// Participants returns the current member list for settlement.
func (s *State) Participants(roomID string) ([]models.RoomParticipant, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return nil, 0, errRoomNotFound
	}
	out := make([]models.RoomParticipant, 0, len(rs.members))
	for _, m := range rs.members {
		out = append(out, models.RoomParticipant{ID: m.userID, Name: m.name})
	}
	return out, int64(rs.room.Fare), nil
}

func statusForStage(stage models.RideStage, current models.RoomStatus) models.RoomStatus {
	switch stage {
	case models.StageDispatching:
		return models.StatusDispatching
	case models.StageAccepted:
		return models.StatusDriverAssigned
	case models.StageApproaching:
		return models.StatusArriving
	case models.StageOnboard:
		return models.StatusAboard
	case models.StageCompleted:
		return models.StatusSuccess
	case models.StageCancelled:
		return models.StatusFailed
	default:
		return current
	}
}

var (
	errRoomNotFound = fmt.Errorf("방을 찾을 수 없어요.")
	errRoomFull     = fmt.Errorf("빈 자리가 없어요.")
	errNotAMember   = fmt.Errorf("참여 중인 방이 아니에요.")
)

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
