package normalize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/example/taxipool/internal/models"
)

func decode(t *testing.T, payload string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return v
}

func TestRoomPreviewAliasPriority(t *testing.T) {
	raw := decode(t, `{
		"id": "room-7",
		"name": "fallback name",
		"title": "공항 합승",
		"departureLabel": "강남역",
		"departure_lat": "37.49",
		"departureLng": 127.02,
		"capacity": 4,
		"remainingSeats": 1,
		"filled": 3,
		"status": "모집중",
		"tags": ["공항", "야간"]
	}`)
	room := RoomPreview(raw)
	if room.ID != "room-7" {
		t.Fatalf("id = %q", room.ID)
	}
	if room.Title != "공항 합승" {
		t.Errorf("title should prefer title over name, got %q", room.Title)
	}
	if room.Departure.Label != "강남역" {
		t.Errorf("departure label = %q", room.Departure.Label)
	}
	if room.Departure.Position.Lat != 37.49 {
		t.Errorf("departure lat should parse numeric string, got %v", room.Departure.Position.Lat)
	}
	if room.Departure.Position.Lng != 127.02 {
		t.Errorf("departure lng = %v", room.Departure.Position.Lng)
	}
	if room.Seats != 1 || room.Capacity != 4 || room.Filled != 3 {
		t.Errorf("seats/capacity/filled = %d/%d/%d", room.Seats, room.Capacity, room.Filled)
	}
	if room.Status != models.StatusRecruiting {
		t.Errorf("status = %q", room.Status)
	}
	if len(room.Tags) != 2 || room.Tags[0] != "공항" {
		t.Errorf("tags = %v", room.Tags)
	}
}

func TestRoomPreviewFallbacks(t *testing.T) {
	room := RoomPreview(map[string]any{})
	if room.ID == "" || !strings.HasPrefix(room.ID, "room-") {
		t.Errorf("generated id missing, got %q", room.ID)
	}
	if room.Title != "나의 택시 방" {
		t.Errorf("title fallback = %q", room.Title)
	}
	if room.Departure.Label != "출발지 미정" || room.Arrival.Label != "도착지 미정" {
		t.Errorf("location labels = %q / %q", room.Departure.Label, room.Arrival.Label)
	}
	if room.Departure.Position.Lat != 37.5665 {
		t.Errorf("default departure lat = %v", room.Departure.Position.Lat)
	}
	if room.Time != "시간 미정" {
		t.Errorf("time fallback = %q", room.Time)
	}
	if room.Capacity != 4 {
		t.Errorf("capacity fallback = %d", room.Capacity)
	}
	if room.Status != models.StatusUnknown {
		t.Errorf("status should be unknown, got %q", room.Status)
	}
	if room.Taxi != nil {
		t.Errorf("taxi should be absent")
	}
}

func TestRoomPreviewFilledClamp(t *testing.T) {
	cases := []struct {
		name           string
		payload        string
		filled, wanted int
	}{
		{"above capacity", `{"capacity": 4, "filled": 9}`, 9, 4},
		{"negative", `{"capacity": 4, "filled": -2}`, -2, 0},
		{"in range", `{"capacity": 4, "filled": 2}`, 2, 2},
	}
	for _, tc := range cases {
		room := RoomPreview(decode(t, tc.payload))
		if room.Filled != tc.wanted {
			t.Errorf("%s: filled = %d, want %d", tc.name, room.Filled, tc.wanted)
		}
		if room.Filled < 0 || room.Filled > room.Capacity {
			t.Errorf("%s: clamp violated: filled=%d capacity=%d", tc.name, room.Filled, room.Capacity)
		}
	}
}

func TestRoomPreviewNestedRoomAndTaxi(t *testing.T) {
	raw := decode(t, `{
		"roomId": "outer-1",
		"room": {
			"title": "퇴근길",
			"departure": {"label": "여의도역", "position": {"lat": 37.52, "lng": 126.92}},
			"taxi": {"plate": " 12가3456 ", "captain": "김기사"}
		}
	}`)
	room := RoomPreview(raw)
	if room.ID != "outer-1" {
		t.Errorf("outer roomId should win, got %q", room.ID)
	}
	if room.Departure.Position.Lat != 37.52 {
		t.Errorf("nested position lat = %v", room.Departure.Position.Lat)
	}
	if room.Taxi == nil {
		t.Fatal("taxi should be present")
	}
	if room.Taxi.CarNumber != "12가3456" {
		t.Errorf("plate should be trimmed, got %q", room.Taxi.CarNumber)
	}
	if room.Taxi.DriverName != "김기사" {
		t.Errorf("driver = %q", room.Taxi.DriverName)
	}
}

func TestRoomPreviewTagStringSplit(t *testing.T) {
	room := RoomPreview(decode(t, `{"tags": "#공항 #야간, 조용한분"}`))
	want := []string{"공항", "야간", "조용한분"}
	if len(room.Tags) != len(want) {
		t.Fatalf("tags = %v", room.Tags)
	}
	for i := range want {
		if room.Tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, room.Tags[i], want[i])
		}
	}
}

func TestMapStatusUnrecognized(t *testing.T) {
	for _, v := range []any{"warping", "", 42, nil, true} {
		if got := MapStatus(v); got != models.StatusUnknown {
			t.Errorf("MapStatus(%v) = %q, want unknown", v, got)
		}
	}
	if got := MapStatus(" Completed "); got != models.StatusSuccess {
		t.Errorf("trim/lower lookup failed: %q", got)
	}
}

func TestUnwrapRooms(t *testing.T) {
	payloads := []string{
		`[{"id":"a"}]`,
		`{"rooms":[{"id":"a"}]}`,
		`{"data":[{"id":"a"}]}`,
		`{"result":[{"id":"a"}]}`,
		`{"items":[{"id":"a"}]}`,
		`{"content":[{"id":"a"}]}`,
	}
	for _, p := range payloads {
		if got := UnwrapRooms(decode(t, p)); len(got) != 1 {
			t.Errorf("UnwrapRooms(%s) len = %d", p, len(got))
		}
	}
	if got := UnwrapRooms(decode(t, `{"other": true}`)); got != nil {
		t.Errorf("unexpected rooms from unrelated payload: %v", got)
	}
}

func TestJoinedRoomSeatAndTimestamp(t *testing.T) {
	entry := JoinedRoom(decode(t, `{
		"id": "room-5",
		"mySeatNumber": 3,
		"joinedAt": "2025-01-02T03:04:05Z"
	}`), 0)
	if entry.RoomID != "room-5" {
		t.Errorf("room id = %q", entry.RoomID)
	}
	if entry.SeatNumber == nil || *entry.SeatNumber != 3 {
		t.Errorf("seat = %v", entry.SeatNumber)
	}
	if entry.JoinedAt != "2025-01-02T03:04:05Z" {
		t.Errorf("joinedAt = %q", entry.JoinedAt)
	}

	noDate := JoinedRoom(decode(t, `{"id": "room-6"}`), 2)
	if noDate.JoinedAt == "" {
		t.Error("synthetic joinedAt missing")
	}
	if noDate.SeatNumber != nil {
		t.Errorf("seat should default to nil, got %v", noDate.SeatNumber)
	}
}

func TestRoomDetailParticipants(t *testing.T) {
	detail := RoomDetail(decode(t, `{
		"room": {"title": "출근길"},
		"members": [
			{"userId": 17, "nickname": "고고", "seat_no": "2"},
			{}
		]
	}`), "fallback-room")
	if detail.Room.ID != "fallback-room" {
		t.Errorf("fallback id = %q", detail.Room.ID)
	}
	if len(detail.Participants) != 2 {
		t.Fatalf("participants = %d", len(detail.Participants))
	}
	first := detail.Participants[0]
	if first.ID != "17" || first.Name != "고고" {
		t.Errorf("participant = %+v", first)
	}
	if first.SeatNumber == nil || *first.SeatNumber != 2 {
		t.Errorf("seat = %v", first.SeatNumber)
	}
	second := detail.Participants[1]
	if second.ID != "participant-1" || second.Name != "참여자 2" {
		t.Errorf("fallback participant = %+v", second)
	}
}
