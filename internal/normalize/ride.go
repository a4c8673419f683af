package normalize

import (
	"errors"

	"github.com/example/taxipool/internal/models"
)

// Parse failures for ride-state payloads. Downstream UI cannot render an
// undefined stage, so these are hard errors rather than defaults.
var (
	ErrMalformedRideState = errors.New("ride state payload is not an object")
	ErrNoStage            = errors.New("no recognizable ride stage")
)

var stageDictionary = map[string]models.RideStage{
	"pending": models.StagePending,
	"waiting": models.StagePending,
	"request": models.StagePending,

	"dispatching": models.StageDispatching,
	"searching":   models.StageDispatching,
	"matching":    models.StageDispatching,

	"accepted": models.StageAccepted,
	"assigned": models.StageAccepted,

	"approaching": models.StageApproaching,
	"enroute":     models.StageApproaching,

	"onboard": models.StageOnboard,
	"riding":  models.StageOnboard,

	"completed": models.StageCompleted,
	"done":      models.StageCompleted,

	"cancelled": models.StageCancelled,
	"canceled":  models.StageCancelled,
	"failed":    models.StageCancelled,
}

// PickStage resolves a raw stage value against the closed stage dictionary.
func PickStage(value any) (models.RideStage, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	stage, ok := stageDictionary[normalizeToken(s)]
	return stage, ok
}

// RideState normalizes a ride-state payload. A payload without a recognized
// stage fails with ErrNoStage; callers must treat that as fatal for the call.
func RideState(raw any) (models.RideState, error) {
	rec := AsRecord(raw)
	if rec == nil {
		return models.RideState{}, ErrMalformedRideState
	}
	stage, ok := PickStage(rec["stage"])
	if !ok {
		return models.RideState{}, ErrNoStage
	}
	return models.RideState{
		RequestID:  pickStringOrNumber(rec["requestId"], rec["id"]),
		Stage:      stage,
		DriverName: pickString(rec["driverName"], rec["driver_name"], rec["captain"]),
		CarModel:   pickString(rec["carModel"], rec["model"]),
		CarNumber:  pickString(rec["carNumber"], rec["plate"], rec["car_no"]),
		EtaMinutes: pickNumber(0, rec["etaMinutes"], rec["eta"], rec["eta_minutes"]),
		UpdatedAt:  pickString(rec["updatedAt"], rec["updated_at"]),
	}, nil
}

// RideRequestResponse parses a ride request response best-effort. The stage is
// optional here; an unrecognized or missing stage stays empty.
func RideRequestResponse(raw any) models.RideRequestResponse {
	rec := AsRecord(raw)
	if rec == nil {
		return models.RideRequestResponse{}
	}
	stage, _ := PickStage(rec["stage"])
	deeplink := pickString(rec["deeplink"], rec["deepLink"])
	if deeplink == "" {
		deeplink = pickString(rec["url"], rec["appUrl"], rec["app_url"])
	}
	return models.RideRequestResponse{
		RequestID: pickStringOrNumber(rec["requestId"], rec["id"]),
		Stage:     stage,
		Deeplink:  deeplink,
		CreatedAt: pickString(rec["createdAt"], rec["created_at"]),
	}
}

// DispatchAnalysis extracts driver/vehicle identity from an analysis payload.
// Non-object input yields nil; every string field is trimmed with empty
// coerced to the zero value.
func DispatchAnalysis(raw any) *models.DispatchAnalysis {
	rec := AsRecord(raw)
	if rec == nil {
		return nil
	}
	return &models.DispatchAnalysis{
		DriverName: pickString(rec["driverName"], rec["driver_name"], rec["driver"], rec["captain"]),
		CarNumber:  pickString(rec["carNumber"], rec["car_no"], rec["plate"]),
		CarModel:   pickString(rec["carModel"], rec["model"]),
		EtaMinutes: pickNumberPtr(rec["etaMinutes"], rec["eta"], rec["eta_minutes"]),
		Summary:    pickString(rec["summary"], rec["description"]),
		RawText:    pickString(rec["rawText"], rec["raw_text"], rec["text"]),
	}
}

// ReceiptAnalysis parses a settlement receipt analysis. Non-object input
// yields nil.
func ReceiptAnalysis(raw any) *models.ReceiptAnalysis {
	rec := AsRecord(raw)
	if rec == nil {
		return nil
	}
	out := &models.ReceiptAnalysis{
		TotalAmount:    pickNumberPtr(rec["totalAmount"], rec["total_amount"], rec["total"], rec["amount"]),
		Currency:       pickString(rec["currency"]),
		Summary:        pickString(rec["summary"]),
		RawText:        pickString(rec["rawText"], rec["raw_text"]),
		ModelLatencyMs: pickNumber(0, rec["modelLatencyMs"], rec["model_latency_ms"]),
	}
	if items, ok := rec["items"].([]any); ok {
		for _, item := range items {
			itemRec := AsRecord(item)
			if itemRec == nil {
				continue
			}
			out.Items = append(out.Items, models.ReceiptItem{
				Label:  pickString(itemRec["label"], itemRec["name"]),
				Amount: pickNumberPtr(itemRec["amount"], itemRec["price"]),
			})
		}
	}
	return out
}
