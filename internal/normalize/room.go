package normalize

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/example/taxipool/internal/models"
)

// Fallback coordinates used when a payload carries no usable position:
// Seoul City Hall for departures, Incheon Airport T1 for arrivals.
var (
	defaultDeparture = models.GeoPoint{Lat: 37.5665, Lng: 126.978}
	defaultArrival   = models.GeoPoint{Lat: 37.4602, Lng: 126.4407}
)

const (
	fallbackTitle          = "나의 택시 방"
	fallbackDepartureLabel = "출발지 미정"
	fallbackArrivalLabel   = "도착지 미정"
	fallbackTimeLabel      = "시간 미정"
)

var statusDictionary = map[string]models.RoomStatus{
	"recruiting": models.StatusRecruiting,
	"recruit":    models.StatusRecruiting,
	"pending":    models.StatusRecruiting,
	"waiting":    models.StatusRecruiting,
	"open":       models.StatusRecruiting,
	"모집중":        models.StatusRecruiting,
	"대기":         models.StatusRecruiting,

	"requesting": models.StatusRequesting,
	"request":    models.StatusRequesting,
	"호출":         models.StatusRequesting,
	"call-ready": models.StatusRequesting,

	"matching":  models.StatusMatching,
	"search":    models.StatusMatching,
	"searching": models.StatusMatching,
	"match":     models.StatusMatching,
	"매칭중":       models.StatusMatching,

	"dispatching": models.StatusDispatching,
	"dispatch":    models.StatusDispatching,
	"assigned":    models.StatusDispatching,
	"full":        models.StatusDispatching,
	"배차중":         models.StatusDispatching,

	"driver_assigned": models.StatusDriverAssigned,
	"assigned_driver": models.StatusDriverAssigned,
	"accepted":        models.StatusDriverAssigned,
	"기사배정":            models.StatusDriverAssigned,

	"arriving": models.StatusArriving,
	"arrival":  models.StatusArriving,
	"enroute":  models.StatusArriving,
	"오는중":      models.StatusArriving,

	"aboard":  models.StatusAboard,
	"riding":  models.StatusAboard,
	"onboard": models.StatusAboard,
	"탑승":      models.StatusAboard,

	"success":   models.StatusSuccess,
	"successed": models.StatusSuccess,
	"done":      models.StatusSuccess,
	"completed": models.StatusSuccess,
	"완료":        models.StatusSuccess,
	"arrived":   models.StatusSuccess,
	"closed":    models.StatusSuccess,

	"failed":    models.StatusFailed,
	"fail":      models.StatusFailed,
	"canceled":  models.StatusFailed,
	"cancelled": models.StatusFailed,
	"취소":        models.StatusFailed,
}

// MapStatus resolves a raw status value to a canonical RoomStatus.
// Unrecognized values map to StatusUnknown, never an arbitrary passthrough.
func MapStatus(value any) models.RoomStatus {
	s, ok := value.(string)
	if !ok {
		return models.StatusUnknown
	}
	return statusDictionary[normalizeToken(s)]
}

func normalizeToken(s string) string {
	return lower(trim(s))
}

// RoomPreview builds the canonical room projection from any object-shaped
// input. It never fails and never mutates its input: every field degrades to a
// fallback, the status to StatusUnknown, and filled is clamped to
// [0, capacity].
func RoomPreview(raw any) models.RoomPreview {
	rec := AsRecord(raw)
	room := extractRoomObject(rec)

	id := pickStringOrNumber(get(rec, "roomId"), get(room, "id"), get(room, "roomId"))
	if id == "" {
		id = generatedRoomID()
	}
	title := pickStringOr(fallbackTitle,
		get(room, "title"), get(room, "name"), get(rec, "title"), get(rec, "name"))

	departure := normalizeLocation(room, "departure", fallbackDepartureLabel, defaultDeparture)
	arrival := normalizeLocation(room, "arrival", fallbackArrivalLabel, defaultArrival)

	timeLabel := formatTimeLabel(pickString(
		get(room, "time"), get(room, "departureTime"), get(room, "startTime"),
		get(rec, "departureTime")))

	seats := int(pickNumber(0,
		get(room, "seats"), get(room, "remainingSeats"), get(room, "remainSeats"),
		get(room, "availableSeats")))

	capacityCandidates := []any{
		get(room, "capacity"), get(room, "maxSeats"), get(room, "totalSeats"),
		get(rec, "capacity"),
	}
	if seats > 0 {
		derived := float64(seats) + pickNumber(0, get(room, "filled"), get(room, "occupiedSeats"))
		capacityCandidates = append(capacityCandidates, derived)
	}
	capacity := int(pickNumber(4, capacityCandidates...))

	filled := int(pickNumber(float64(capacity-seats),
		get(room, "filled"), get(room, "occupiedSeats"), get(room, "joinedCount"),
		get(room, "participants")))
	if filled < 0 {
		filled = 0
	}
	if filled > capacity {
		filled = capacity
	}

	status := MapStatus(firstNonNil(get(room, "status"), get(rec, "status"), get(rec, "state")))

	fare := 0.0
	if f := pickNumberPtr(get(room, "fare"), get(room, "estimatedFare")); f != nil {
		fare = *f
	}

	return models.RoomPreview{
		ID:        id,
		Title:     title,
		Departure: departure,
		Arrival:   arrival,
		Time:      timeLabel,
		Seats:     seats,
		Capacity:  capacity,
		Filled:    filled,
		Tags:      normalizeTags(room, rec),
		Status:    status,
		ETA:       pickString(get(room, "eta"), get(room, "estimate")),
		Fare:      fare,
		Taxi:      normalizeTaxi(firstNonNil(get(room, "taxi"), get(rec, "taxi"))),
	}
}

// JoinedRoom normalizes one element of a "my rooms" listing into a membership
// entry. Index orders synthetic join timestamps for payloads without one.
func JoinedRoom(raw any, index int) models.JoinedRoomEntry {
	rec := AsRecord(raw)
	room := RoomPreview(raw)
	nested := AsRecord(get(rec, "room"))

	joinedAt := pickDateString(
		get(rec, "joinedAt"), get(rec, "createdAt"), get(rec, "updatedAt"),
		get(rec, "roomJoinedAt"), get(nested, "joinedAt"))
	if joinedAt == "" {
		joinedAt = time.Now().Add(-time.Duration(index) * time.Second).UTC().Format(time.RFC3339)
	}

	return models.JoinedRoomEntry{
		RoomID:   room.ID,
		JoinedAt: joinedAt,
		SeatNumber: pickIntPtr(
			get(rec, "seatNumber"), get(rec, "mySeatNumber"), get(rec, "seat"),
			get(rec, "reservationSeat")),
		RoomSnapshot: room,
	}
}

// RoomDetail normalizes a detail payload into the room plus its participants.
// The room keeps fallbackID when the payload carries no id of its own.
func RoomDetail(payload any, fallbackID string) models.RoomDetail {
	container := AsRecord(payload)
	source := unwrapRoomRecord(container)
	if source == nil {
		source = Raw{}
	}
	if pickStringOrNumber(get(source, "id")) == "" {
		withID := make(Raw, len(source)+1)
		for k, v := range source {
			withID[k] = v
		}
		withID["id"] = fallbackID
		source = withID
	}
	room := RoomPreview(source)

	rawParticipants := extractParticipants(container)
	participants := make([]models.RoomParticipant, 0, len(rawParticipants))
	for i, p := range rawParticipants {
		participants = append(participants, Participant(p, i))
	}
	return models.RoomDetail{Room: room, Participants: participants}
}

// Participant normalizes one member record; index backs the fallback identity.
func Participant(raw any, index int) models.RoomParticipant {
	rec := AsRecord(raw)
	user := AsRecord(get(rec, "user"))
	profile := AsRecord(get(rec, "profile"))

	id := pickStringOrNumber(
		get(rec, "id"), get(rec, "userId"), get(rec, "memberId"), get(user, "id"))
	if id == "" {
		id = fmt.Sprintf("participant-%d", index)
	}
	name := pickString(
		get(rec, "name"), get(rec, "nickname"), get(user, "name"),
		get(user, "nickname"), get(profile, "name"))
	if name == "" {
		name = fmt.Sprintf("참여자 %d", index+1)
	}

	return models.RoomParticipant{
		ID:   id,
		Name: name,
		SeatNumber: pickIntPtr(
			get(rec, "seatNumber"), get(rec, "seat"), get(rec, "seat_no"),
			get(rec, "reservationSeat"), get(rec, "position")),
		Role:     pickString(get(rec, "role"), get(rec, "positionName"), get(rec, "type"), get(rec, "rank")),
		Status:   pickString(get(rec, "status"), get(rec, "state")),
		JoinedAt: pickDateString(get(rec, "joinedAt"), get(rec, "createdAt"), get(rec, "updatedAt")),
		Email:    pickString(get(rec, "email"), get(user, "email"), get(rec, "userEmail"), get(profile, "email")),
	}
}

// UnwrapRooms digs a room array out of common envelope shapes. A bare array
// passes through; anything else yields an empty slice.
func UnwrapRooms(payload any) []any {
	if arr, ok := payload.([]any); ok {
		return arr
	}
	container := AsRecord(payload)
	for _, key := range []string{"rooms", "data", "result", "items", "content"} {
		if arr, ok := get(container, key).([]any); ok {
			return arr
		}
	}
	return nil
}

// UnwrapRoom digs a single room object out of common envelope shapes.
func UnwrapRoom(payload any) Raw {
	container := AsRecord(payload)
	if container == nil {
		return Raw{}
	}
	if room := unwrapRoomRecord(container); room != nil {
		return room
	}
	return container
}

func unwrapRoomRecord(container Raw) Raw {
	if container == nil {
		return nil
	}
	if room := AsRecord(get(container, "room")); room != nil {
		return room
	}
	for _, key := range []string{"data", "result"} {
		inner := AsRecord(get(container, key))
		if inner == nil {
			continue
		}
		if room := AsRecord(get(inner, "room")); room != nil {
			return room
		}
		return inner
	}
	return container
}

func extractRoomObject(rec Raw) Raw {
	for _, key := range []string{"room", "roomSnapshot"} {
		if nested := AsRecord(get(rec, key)); nested != nil {
			return nested
		}
	}
	return rec
}

func extractParticipants(container Raw) []any {
	sources := []Raw{
		container,
		AsRecord(get(container, "room")),
		AsRecord(get(container, "data")),
		AsRecord(get(container, "result")),
		AsRecord(get(container, "detail")),
		AsRecord(get(container, "content")),
	}
	keys := []string{"participants", "members", "users", "entries", "memberList", "roomMembers"}
	for _, source := range sources {
		if source == nil {
			continue
		}
		for _, key := range keys {
			if arr, ok := source[key].([]any); ok {
				return arr
			}
		}
	}
	return nil
}

func normalizeLocation(room Raw, kind, fallbackLabel string, fallback models.GeoPoint) models.RoomLocation {
	source := AsRecord(get(room, kind))
	position := AsRecord(get(source, "position"))

	label := pickStringOr(fallbackLabel,
		get(source, "label"), get(source, "name"),
		get(room, kind+"Label"), get(room, kind+"Name"), get(room, kind+"Address"),
		get(room, kind))

	lat := pickNumber(fallback.Lat,
		get(source, "lat"), get(position, "lat"),
		get(room, kind+"Lat"), get(room, kind+"Latitude"), get(room, kind+"_lat"))
	lng := pickNumber(fallback.Lng,
		get(source, "lng"), get(position, "lng"),
		get(room, kind+"Lng"), get(room, kind+"Longitude"), get(room, kind+"_lng"))

	return models.RoomLocation{Label: label, Position: models.GeoPoint{Lat: lat, Lng: lng}}
}

func normalizeTags(room, rec Raw) []string {
	source := firstNonNil(get(room, "tags"), get(rec, "tags"))
	switch tags := source.(type) {
	case []any:
		out := make([]string, 0, len(tags))
		for _, tag := range tags {
			if s := pickStringOrNumber(tag); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if trim(tags) != "" {
			return splitTagString(tags)
		}
	}

	var extra []string
	for _, v := range []any{
		get(room, "priority"), get(room, "paymentMethod"),
		get(rec, "priority"), get(rec, "category"),
	} {
		if s, ok := v.(string); ok {
			if t := trim(s); t != "" {
				extra = append(extra, t)
			}
		}
	}
	if extra == nil {
		extra = []string{}
	}
	return extra
}

func splitTagString(s string) []string {
	out := []string{}
	token := make([]rune, 0, len(s))
	flush := func() {
		if t := trim(string(token)); t != "" {
			out = append(out, t)
		}
		token = token[:0]
	}
	for _, r := range s {
		if r == '#' || r == ',' {
			flush()
			continue
		}
		token = append(token, r)
	}
	flush()
	return out
}

func normalizeTaxi(raw any) *models.TaxiInfo {
	taxi := AsRecord(raw)
	if taxi == nil {
		return nil
	}
	info := models.TaxiInfo{
		CarNumber:  pickString(get(taxi, "carNumber"), get(taxi, "car_no"), get(taxi, "plate")),
		DriverName: pickString(get(taxi, "driverName"), get(taxi, "driver"), get(taxi, "captain")),
		CarModel:   pickString(get(taxi, "carModel"), get(taxi, "model")),
	}
	if info.CarNumber == "" && info.DriverName == "" && info.CarModel == "" {
		return nil
	}
	return &info
}

func formatTimeLabel(value string) string {
	if value == "" {
		return fallbackTimeLabel
	}
	if t, ok := parseTimestamp(value); ok {
		return fmt.Sprintf("%d월 %d일 %02d:%02d 출발", int(t.Month()), t.Day(), t.Hour(), t.Minute())
	}
	return value
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func generatedRoomID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("room-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
