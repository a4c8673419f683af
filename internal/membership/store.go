// Package membership owns the per-user set of joined rooms and their ride
// history. The in-memory copy is authoritative during a session; every
// mutation rewrites the whole per-user bucket in the backing kv store before
// observers are notified, so no caller can see a torn intermediate state.
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/taxipool/internal/kv"
	"github.com/example/taxipool/internal/models"
	"github.com/example/taxipool/internal/observability"
)

const (
	membershipsKey = "gtx_room_memberships"
	historyKey     = "gtx_room_history"
)

type activeBucket map[string][]models.JoinedRoomEntry
type historyBucket map[string][]models.CompletedRoomEntry

// Store is the authoritative membership state for one identity partition.
// Construct with New and tear down with Flush; there is no package-level
// singleton.
type Store struct {
	mu        sync.Mutex
	kv        kv.Store
	userKey   string
	logger    *slog.Logger
	active    []models.JoinedRoomEntry
	activeID  string
	completed []models.CompletedRoomEntry
	listeners []func()
}

// New loads the buckets for userKey from the backing store.
func New(ctx context.Context, backing kv.Store, userKey string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: backing, userKey: userKey, logger: logger}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Subscribe registers fn to run after every committed state change.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// UserKey returns the identity partition this store is bound to.
func (s *Store) UserKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userKey
}

// SwitchUser swaps the visible partition to another identity, reloading its
// buckets. Other partitions are never mutated by the switch.
func (s *Store) SwitchUser(ctx context.Context, userKey string) error {
	s.mu.Lock()
	s.userKey = userKey
	err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("membership partition switched", "user", userKey)
	s.notify()
	return nil
}

// ActiveRooms returns the joined rooms, most recently joined first.
func (s *Store) ActiveRooms() []models.JoinedRoomEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.JoinedRoomEntry, len(s.active))
	for i, e := range s.active {
		out[i] = e.Clone()
	}
	return out
}

// CompletedRooms returns the history, most recently completed first.
func (s *Store) CompletedRooms() []models.CompletedRoomEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CompletedRoomEntry, len(s.completed))
	for i, e := range s.completed {
		out[i] = e.Clone()
	}
	return out
}

// ActiveRoomID returns the focused room id, or "" when none.
func (s *Store) ActiveRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveRoom returns the focused entry, or nil.
func (s *Store) ActiveRoom() *models.JoinedRoomEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.active {
		if e.RoomID == s.activeID {
			clone := e.Clone()
			return &clone
		}
	}
	return nil
}

// Join adds room to the active set and focuses it. Joining an already-joined
// room refreshes its snapshot and timestamp in place instead of duplicating;
// afterwards exactly one entry exists for the id.
func (s *Store) Join(ctx context.Context, room models.RoomPreview) error {
	s.mu.Lock()
	now := time.Now().UTC().Format(time.RFC3339)
	refreshed := false
	for i := range s.active {
		if s.active[i].RoomID == room.ID {
			s.active[i].JoinedAt = now
			s.active[i].RoomSnapshot = room.Clone()
			refreshed = true
			break
		}
	}
	if !refreshed {
		entry := models.JoinedRoomEntry{
			RoomID:       room.ID,
			JoinedAt:     now,
			SeatNumber:   nil,
			RoomSnapshot: room.Clone(),
		}
		s.active = append([]models.JoinedRoomEntry{entry}, s.active...)
		observability.RoomsJoinedTotal.Inc()
	}
	s.activeID = room.ID
	return s.commitActive(ctx)
}

// Leave removes the entry for roomID, moving focus to the newest remaining
// entry when the focused room was left.
func (s *Store) Leave(ctx context.Context, roomID string) error {
	s.mu.Lock()
	kept := s.active[:0]
	for _, e := range s.active {
		if e.RoomID != roomID {
			kept = append(kept, e)
		}
	}
	s.active = kept
	s.refocus()
	return s.commitActive(ctx)
}

// UpdateSeat sets the seat number for roomID. Unknown rooms are silently
// ignored: a stale seat update is not a caller bug.
func (s *Store) UpdateSeat(ctx context.Context, roomID string, seat *int) error {
	s.mu.Lock()
	for i := range s.active {
		if s.active[i].RoomID == roomID {
			s.active[i].SeatNumber = seat
			return s.commitActive(ctx)
		}
	}
	s.mu.Unlock()
	return nil
}

// SetActiveRoom focuses roomID when it is joined; otherwise a no-op.
func (s *Store) SetActiveRoom(roomID string) {
	s.mu.Lock()
	changed := false
	for _, e := range s.active {
		if e.RoomID == roomID {
			changed = s.activeID != roomID
			s.activeID = roomID
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// ReplaceRooms reconciles the active set with a server-supplied listing.
// Rooms already completed stay out of the active set, and dispatch/settlement
// sidecars missing from the incoming entries are preserved from the prior
// state by room id. Focus is re-resolved if the focused room disappeared.
func (s *Store) ReplaceRooms(ctx context.Context, entries []models.JoinedRoomEntry) error {
	if entries == nil {
		return nil
	}
	s.mu.Lock()
	prevDispatch := make(map[string]*models.DispatchSnapshot, len(s.active))
	prevSettlement := make(map[string]*models.SettlementSnapshot, len(s.active))
	for _, e := range s.active {
		prevDispatch[e.RoomID] = e.DispatchSnapshot
		prevSettlement[e.RoomID] = e.SettlementSnapshot
	}
	completedIDs := make(map[string]bool, len(s.completed))
	for _, e := range s.completed {
		completedIDs[e.RoomID] = true
	}

	next := make([]models.JoinedRoomEntry, 0, len(entries))
	for _, entry := range entries {
		if completedIDs[entry.RoomID] {
			continue
		}
		cloned := entry.Clone()
		if cloned.DispatchSnapshot == nil {
			cloned.DispatchSnapshot = prevDispatch[cloned.RoomID].Clone()
		}
		if cloned.SettlementSnapshot == nil {
			cloned.SettlementSnapshot = prevSettlement[cloned.RoomID].Clone()
		}
		next = append(next, cloned)
	}
	s.active = next
	s.refocus()
	return s.commitActive(ctx)
}

// SyncRoomSnapshot replaces only the room snapshot of an entry. Nil snapshots
// and unknown rooms are ignored.
func (s *Store) SyncRoomSnapshot(ctx context.Context, roomID string, snapshot *models.RoomPreview) error {
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	for i := range s.active {
		if s.active[i].RoomID == roomID {
			s.active[i].RoomSnapshot = snapshot.Clone()
			return s.commitActive(ctx)
		}
	}
	s.mu.Unlock()
	return nil
}

// SyncDispatchSnapshot attaches (or, with nil, clears) the dispatch sidecar.
// Attaching one promotes a room still showing its initial recruiting status to
// driver_assigned; a status further along is never downgraded.
func (s *Store) SyncDispatchSnapshot(ctx context.Context, roomID string, snapshot *models.DispatchSnapshot) error {
	s.mu.Lock()
	for i := range s.active {
		if s.active[i].RoomID != roomID {
			continue
		}
		if snapshot != nil {
			s.active[i].DispatchSnapshot = snapshot.Clone()
			status := s.active[i].RoomSnapshot.Status
			if status == models.StatusUnknown || status == models.StatusRecruiting {
				s.active[i].RoomSnapshot.Status = models.StatusDriverAssigned
			}
		} else if s.active[i].DispatchSnapshot != nil {
			s.active[i].DispatchSnapshot = nil
		} else {
			s.mu.Unlock()
			return nil
		}
		return s.commitActive(ctx)
	}
	s.mu.Unlock()
	return nil
}

// SyncSettlementSnapshot attaches (or clears) the settlement sidecar. A
// snapshot carrying a finished analysis completes the room.
func (s *Store) SyncSettlementSnapshot(ctx context.Context, roomID string, snapshot *models.SettlementSnapshot) error {
	s.mu.Lock()
	for i := range s.active {
		if s.active[i].RoomID != roomID {
			continue
		}
		if snapshot != nil {
			s.active[i].SettlementSnapshot = snapshot.Clone()
			if snapshot.Analysis != nil {
				return s.completeLocked(ctx, roomID, snapshot.CompletedAt)
			}
		} else if s.active[i].SettlementSnapshot != nil {
			s.active[i].SettlementSnapshot = nil
		} else {
			s.mu.Unlock()
			return nil
		}
		return s.commitActive(ctx)
	}
	s.mu.Unlock()
	return nil
}

// CompleteRoom atomically moves the entry for roomID from the active set to
// the head of the history, carrying its snapshots. A stale history record for
// the same room is replaced, never duplicated. Unknown rooms are ignored.
func (s *Store) CompleteRoom(ctx context.Context, roomID, completedAt string) error {
	s.mu.Lock()
	return s.completeLocked(ctx, roomID, completedAt)
}

// completeLocked requires s.mu held; it releases the lock via commitBoth.
func (s *Store) completeLocked(ctx context.Context, roomID, completedAt string) error {
	idx := -1
	for i, e := range s.active {
		if e.RoomID == roomID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return nil
	}
	entry := s.active[idx]
	s.active = append(s.active[:idx], s.active[idx+1:]...)

	if completedAt == "" {
		completedAt = time.Now().UTC().Format(time.RFC3339)
	}
	record := models.CompletedRoomEntry{
		RoomID:             entry.RoomID,
		CompletedAt:        completedAt,
		RoomSnapshot:       entry.RoomSnapshot.Clone(),
		SettlementSnapshot: entry.SettlementSnapshot.Clone(),
		DispatchSnapshot:   entry.DispatchSnapshot.Clone(),
	}
	history := make([]models.CompletedRoomEntry, 0, len(s.completed)+1)
	history = append(history, record)
	for _, e := range s.completed {
		if e.RoomID != roomID {
			history = append(history, e)
		}
	}
	s.completed = history
	s.refocus()
	observability.RoomsCompletedTotal.Inc()
	return s.commitBoth(ctx)
}

// Flush persists both buckets; the explicit teardown step.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistActive(ctx); err != nil {
		return err
	}
	return s.persistHistory(ctx)
}

// refocus requires s.mu held.
func (s *Store) refocus() {
	for _, e := range s.active {
		if e.RoomID == s.activeID {
			return
		}
	}
	if len(s.active) > 0 {
		s.activeID = s.active[0].RoomID
		return
	}
	s.activeID = ""
}

// commitActive persists the active bucket, releases the lock, and notifies.
// Must be entered with s.mu held.
func (s *Store) commitActive(ctx context.Context) error {
	err := s.persistActive(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) commitBoth(ctx context.Context) error {
	err := s.persistActive(ctx)
	if err == nil {
		err = s.persistHistory(ctx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) notify() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (s *Store) load(ctx context.Context) error {
	var active activeBucket
	if err := readBucket(ctx, s.kv, membershipsKey, &active); err != nil {
		return err
	}
	var history historyBucket
	if err := readBucket(ctx, s.kv, historyKey, &history); err != nil {
		return err
	}
	s.active = active[s.userKey]
	s.completed = history[s.userKey]
	s.activeID = ""
	if len(s.active) > 0 {
		s.activeID = s.active[0].RoomID
	}
	return nil
}

// persistActive requires s.mu held. The user key is dropped entirely when its
// list is empty, and the storage key is dropped when no user keys remain.
func (s *Store) persistActive(ctx context.Context) error {
	var bucket activeBucket
	if err := readBucket(ctx, s.kv, membershipsKey, &bucket); err != nil {
		return err
	}
	if bucket == nil {
		bucket = activeBucket{}
	}
	if len(s.active) == 0 {
		delete(bucket, s.userKey)
	} else {
		bucket[s.userKey] = s.active
	}
	return writeBucket(ctx, s.kv, membershipsKey, len(bucket) == 0, bucket)
}

func (s *Store) persistHistory(ctx context.Context) error {
	var bucket historyBucket
	if err := readBucket(ctx, s.kv, historyKey, &bucket); err != nil {
		return err
	}
	if bucket == nil {
		bucket = historyBucket{}
	}
	if len(s.completed) == 0 {
		delete(bucket, s.userKey)
	} else {
		bucket[s.userKey] = s.completed
	}
	return writeBucket(ctx, s.kv, historyKey, len(bucket) == 0, bucket)
}

func readBucket(ctx context.Context, store kv.Store, key string, out any) error {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	// a corrupt bucket reads as empty instead of wedging the client
	_ = json.Unmarshal([]byte(raw), out)
	return nil
}

func writeBucket(ctx context.Context, store kv.Store, key string, empty bool, bucket any) error {
	if empty {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("prune %s: %w", key, err)
		}
		return nil
	}
	raw, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := store.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
