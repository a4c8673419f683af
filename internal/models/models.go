package models

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RoomLocation is a labelled coordinate. Label and Position always carry a
// fallback value when the source payload omitted them.
type RoomLocation struct {
	Label    string   `json:"label"`
	Position GeoPoint `json:"position"`
}

// RoomStatus is the canonical room lifecycle status. Raw server values that do
// not map to one of these stay StatusUnknown rather than leaking through.
type RoomStatus string

const (
	StatusUnknown        RoomStatus = ""
	StatusRecruiting     RoomStatus = "recruiting"
	StatusRequesting     RoomStatus = "requesting"
	StatusMatching       RoomStatus = "matching"
	StatusDispatching    RoomStatus = "dispatching"
	StatusDriverAssigned RoomStatus = "driver_assigned"
	StatusArriving       RoomStatus = "arriving"
	StatusAboard         RoomStatus = "aboard"
	StatusSuccess        RoomStatus = "success"
	StatusFailed         RoomStatus = "failed"
)

// TaxiInfo is the assigned vehicle snapshot. Only present on a RoomPreview
// when at least one field is non-empty.
type TaxiInfo struct {
	CarNumber  string `json:"carNumber,omitempty"`
	DriverName string `json:"driverName,omitempty"`
	CarModel   string `json:"carModel,omitempty"`
}

// RoomPreview is the canonical projection of a room as shown in listings.
type RoomPreview struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Departure RoomLocation `json:"departure"`
	Arrival   RoomLocation `json:"arrival"`
	Time      string       `json:"time"`
	Seats     int          `json:"seats"`
	Capacity  int          `json:"capacity"`
	Filled    int          `json:"filled"`
	Tags      []string     `json:"tags"`
	Status    RoomStatus   `json:"status,omitempty"`
	ETA       string       `json:"eta,omitempty"`
	Fare      float64      `json:"fare,omitempty"`
	Taxi      *TaxiInfo    `json:"taxi,omitempty"`
}

// Clone returns a deep copy; Tags and Taxi are the only shared references.
func (r RoomPreview) Clone() RoomPreview {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	if r.Taxi != nil {
		taxi := *r.Taxi
		out.Taxi = &taxi
	}
	return out
}

// RideStage is the dispatch lifecycle position.
type RideStage string

const (
	StagePending     RideStage = "pending"
	StageDispatching RideStage = "dispatching"
	StageAccepted    RideStage = "accepted"
	StageApproaching RideStage = "approaching"
	StageOnboard     RideStage = "onboard"
	StageCompleted   RideStage = "completed"
	StageCancelled   RideStage = "cancelled"
)

// RideState is the live dispatch state of a room. Stage is always one of the
// RideStage constants; payloads without a recognizable stage never produce a
// RideState.
type RideState struct {
	RequestID  string    `json:"requestId,omitempty"`
	Stage      RideStage `json:"stage"`
	DriverName string    `json:"driverName,omitempty"`
	CarModel   string    `json:"carModel,omitempty"`
	CarNumber  string    `json:"carNumber,omitempty"`
	EtaMinutes float64   `json:"etaMinutes,omitempty"`
	UpdatedAt  string    `json:"updatedAt,omitempty"`
}

// RideRequestPayload is the body sent when requesting a taxi for a room.
type RideRequestPayload struct {
	Pickup         RoomLocation `json:"pickup"`
	Dropoff        RoomLocation `json:"dropoff"`
	Notes          string       `json:"notes,omitempty"`
	PassengerCount int          `json:"passengerCount,omitempty"`
}

// RideRequestResponse is the best-effort parse of a ride request response.
// Unlike RideState, Stage may be empty here.
type RideRequestResponse struct {
	RequestID string    `json:"requestId,omitempty"`
	Stage     RideStage `json:"stage,omitempty"`
	Deeplink  string    `json:"deeplink,omitempty"`
	CreatedAt string    `json:"createdAt,omitempty"`
}

// DispatchAnalysis is driver/vehicle identity extracted from a dispatch
// confirmation screenshot. String fields are trimmed; absent values are empty.
type DispatchAnalysis struct {
	DriverName string   `json:"driverName,omitempty"`
	CarNumber  string   `json:"carNumber,omitempty"`
	CarModel   string   `json:"carModel,omitempty"`
	EtaMinutes *float64 `json:"etaMinutes,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	RawText    string   `json:"rawText,omitempty"`
}

// HoldResult reports a successful settlement hold: the per-head amount and how
// many participants it was collected from.
type HoldResult struct {
	PerHead       int64 `json:"perHead"`
	CollectedFrom int   `json:"collectedFrom"`
}

// DispatchSnapshot is the per-room sidecar recorded after a dispatch
// screenshot was analyzed.
type DispatchSnapshot struct {
	Analysis    *DispatchAnalysis `json:"analysis"`
	Message     string            `json:"message,omitempty"`
	HoldResult  *HoldResult       `json:"holdResult,omitempty"`
	HoldError   string            `json:"holdError,omitempty"`
	CompletedAt string            `json:"completedAt,omitempty"`
}

func (d *DispatchSnapshot) Clone() *DispatchSnapshot {
	if d == nil {
		return nil
	}
	out := *d
	if d.Analysis != nil {
		a := *d.Analysis
		if d.Analysis.EtaMinutes != nil {
			eta := *d.Analysis.EtaMinutes
			a.EtaMinutes = &eta
		}
		out.Analysis = &a
	}
	if d.HoldResult != nil {
		h := *d.HoldResult
		out.HoldResult = &h
	}
	return &out
}

// ReceiptItem is a single line of a settlement receipt analysis.
type ReceiptItem struct {
	Label  string   `json:"label"`
	Amount *float64 `json:"amount"`
}

// ReceiptAnalysis is the parsed fare receipt used for settlement.
type ReceiptAnalysis struct {
	TotalAmount    *float64      `json:"totalAmount"`
	Currency       string        `json:"currency,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	Items          []ReceiptItem `json:"items,omitempty"`
	RawText        string        `json:"rawText,omitempty"`
	ModelLatencyMs float64       `json:"modelLatencyMs,omitempty"`
}

// SettlementSnapshot is the per-room sidecar recorded after settlement. A
// snapshot carrying a non-nil Analysis marks the ride as finished.
type SettlementSnapshot struct {
	Analysis    *ReceiptAnalysis `json:"analysis"`
	CompletedAt string           `json:"completedAt,omitempty"`
	FileName    string           `json:"fileName,omitempty"`
}

func (s *SettlementSnapshot) Clone() *SettlementSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Analysis != nil {
		a := *s.Analysis
		if s.Analysis.TotalAmount != nil {
			total := *s.Analysis.TotalAmount
			a.TotalAmount = &total
		}
		a.Items = append([]ReceiptItem(nil), s.Analysis.Items...)
		out.Analysis = &a
	}
	return &out
}

// JoinedRoomEntry is the membership record of one joined room.
type JoinedRoomEntry struct {
	RoomID             string              `json:"roomId"`
	JoinedAt           string              `json:"joinedAt"`
	SeatNumber         *int                `json:"seatNumber"`
	Role               string              `json:"role,omitempty"`
	RoomSnapshot       RoomPreview         `json:"roomSnapshot"`
	DispatchSnapshot   *DispatchSnapshot   `json:"dispatchSnapshot,omitempty"`
	SettlementSnapshot *SettlementSnapshot `json:"settlementSnapshot,omitempty"`
}

func (e JoinedRoomEntry) Clone() JoinedRoomEntry {
	out := e
	if e.SeatNumber != nil {
		seat := *e.SeatNumber
		out.SeatNumber = &seat
	}
	out.RoomSnapshot = e.RoomSnapshot.Clone()
	out.DispatchSnapshot = e.DispatchSnapshot.Clone()
	out.SettlementSnapshot = e.SettlementSnapshot.Clone()
	return out
}

// CompletedRoomEntry is the terminal history projection of a membership.
type CompletedRoomEntry struct {
	RoomID             string              `json:"roomId"`
	CompletedAt        string              `json:"completedAt"`
	RoomSnapshot       RoomPreview         `json:"roomSnapshot"`
	SettlementSnapshot *SettlementSnapshot `json:"settlementSnapshot"`
	DispatchSnapshot   *DispatchSnapshot   `json:"dispatchSnapshot,omitempty"`
}

func (e CompletedRoomEntry) Clone() CompletedRoomEntry {
	out := e
	out.RoomSnapshot = e.RoomSnapshot.Clone()
	out.SettlementSnapshot = e.SettlementSnapshot.Clone()
	out.DispatchSnapshot = e.DispatchSnapshot.Clone()
	return out
}

// RoomParticipant is one member of a room as returned by the detail endpoint.
type RoomParticipant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SeatNumber *int   `json:"seatNumber"`
	Role       string `json:"role,omitempty"`
	Status     string `json:"status,omitempty"`
	JoinedAt   string `json:"joinedAt,omitempty"`
	Email      string `json:"email,omitempty"`
}

// RoomDetail bundles a room with its participant list.
type RoomDetail struct {
	Room         RoomPreview       `json:"room"`
	Participants []RoomParticipant `json:"participants"`
}
