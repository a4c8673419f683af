// Package agent reconciles the local membership store against the backend:
// it pulls the user's room list, follows each active room's ride stage, and
// feeds completions into telemetry and the archive.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/taxipool/internal/archive"
	"github.com/example/taxipool/internal/membership"
	"github.com/example/taxipool/internal/models"
	"github.com/example/taxipool/internal/telemetry"
)

// RoomLister is the slice of the room session the syncer needs.
type RoomLister interface {
	FetchMyRooms(ctx context.Context, userID string) ([]models.JoinedRoomEntry, error)
}

// RideReader is the slice of the ride session the syncer needs.
type RideReader interface {
	FetchRideState(ctx context.Context, roomID string) (models.RideState, error)
}

// Syncer drives one reconciliation pass at a time. It is not safe for
// concurrent SyncOnce calls; the agent loop serializes them.
type Syncer struct {
	store     *membership.Store
	rooms     RoomLister
	rides     RideReader
	publisher telemetry.Publisher
	archiver  archive.Archiver
	logger    *slog.Logger

	lastStage map[string]models.RideStage
	archived  map[string]bool
}

func NewSyncer(store *membership.Store, rooms RoomLister, rides RideReader, publisher telemetry.Publisher, archiver archive.Archiver, logger *slog.Logger) *Syncer {
	if publisher == nil {
		publisher = telemetry.NopPublisher{}
	}
	if archiver == nil {
		archiver = archive.NopArchiver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:     store,
		rooms:     rooms,
		rides:     rides,
		publisher: publisher,
		archiver:  archiver,
		logger:    logger,
		lastStage: map[string]models.RideStage{},
		archived:  map[string]bool{},
	}
}

// SyncOnce runs a full reconciliation pass. The room list is authoritative
// for membership; per-room ride state failures degrade to a warning so one
// bad room cannot stall the rest.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	userKey := s.store.UserKey()
	entries, err := s.rooms.FetchMyRooms(ctx, userKey)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceRooms(ctx, entries); err != nil {
		return err
	}
	s.publish(telemetry.Event{Type: telemetry.EventRoomsSynced, UserKey: userKey})

	for _, entry := range s.store.ActiveRooms() {
		if err := s.syncRide(ctx, entry); err != nil {
			s.logger.Warn("ride sync failed", "room_id", entry.RoomID, "error", err)
		}
	}

	s.archiveCompleted(ctx, userKey)
	return nil
}

func (s *Syncer) syncRide(ctx context.Context, entry models.JoinedRoomEntry) error {
	state, err := s.rides.FetchRideState(ctx, entry.RoomID)
	if err != nil {
		return err
	}

	if prev, ok := s.lastStage[entry.RoomID]; !ok || prev != state.Stage {
		s.lastStage[entry.RoomID] = state.Stage
		s.publish(telemetry.Event{
			Type:    telemetry.EventStageChanged,
			RoomID:  entry.RoomID,
			UserKey: s.store.UserKey(),
			Stage:   state.Stage,
		})
	}

	switch state.Stage {
	case models.StageAccepted, models.StageApproaching:
		if hasDriver(state) {
			snapshot := &models.DispatchSnapshot{
				Analysis: &models.DispatchAnalysis{
					DriverName: state.DriverName,
					CarNumber:  state.CarNumber,
					CarModel:   state.CarModel,
				},
			}
			if state.EtaMinutes > 0 {
				eta := state.EtaMinutes
				snapshot.Analysis.EtaMinutes = &eta
			}
			return s.store.SyncDispatchSnapshot(ctx, entry.RoomID, snapshot)
		}
	case models.StageOnboard:
		room := entry.RoomSnapshot.Clone()
		room.Status = models.StatusAboard
		return s.store.SyncRoomSnapshot(ctx, entry.RoomID, &room)
	case models.StageCompleted:
		completedAt := state.UpdatedAt
		if completedAt == "" {
			completedAt = time.Now().UTC().Format(time.RFC3339)
		}
		return s.store.CompleteRoom(ctx, entry.RoomID, completedAt)
	case models.StageCancelled:
		room := entry.RoomSnapshot.Clone()
		room.Status = models.StatusFailed
		return s.store.SyncRoomSnapshot(ctx, entry.RoomID, &room)
	}
	return nil
}

// archiveCompleted ships history entries not yet archived this session. The
// archive upsert is idempotent, so a crash between archive and bookkeeping
// only costs a repeated write.
func (s *Syncer) archiveCompleted(ctx context.Context, userKey string) {
	for _, entry := range s.store.CompletedRooms() {
		if s.archived[entry.RoomID] {
			continue
		}
		if err := s.archiver.ArchiveCompleted(ctx, userKey, entry); err != nil {
			s.logger.Warn("archive failed", "room_id", entry.RoomID, "error", err)
			continue
		}
		s.archived[entry.RoomID] = true
		s.publish(telemetry.Event{
			Type:    telemetry.EventRoomCompleted,
			RoomID:  entry.RoomID,
			UserKey: userKey,
			Status:  entry.RoomSnapshot.Status,
		})
	}
}

func (s *Syncer) publish(event telemetry.Event) {
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Warn("telemetry publish failed", "type", event.Type, "error", err)
	}
}

func hasDriver(state models.RideState) bool {
	return state.DriverName != "" || state.CarNumber != "" || state.CarModel != ""
}
