package membership

import (
	"context"
	"testing"

	"github.com/example/taxipool/internal/kv"
	"github.com/example/taxipool/internal/models"
)

func newTestStore(t *testing.T) (*Store, *kv.MemoryStore) {
	t.Helper()
	backing := kv.NewMemoryStore()
	store, err := New(context.Background(), backing, "kim", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, backing
}

func room(id string) models.RoomPreview {
	return models.RoomPreview{
		ID:       id,
		Title:    "방 " + id,
		Capacity: 4,
		Filled:   1,
		Tags:     []string{"공항"},
		Status:   models.StatusRecruiting,
	}
}

func TestJoinIsUniquePerRoomID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Join(ctx, room("room-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Join(ctx, room("room-2")); err != nil {
		t.Fatal(err)
	}

	updated := room("room-1")
	updated.Title = "갱신된 방"
	if err := store.Join(ctx, updated); err != nil {
		t.Fatal(err)
	}

	active := store.ActiveRooms()
	count := 0
	for _, e := range active {
		if e.RoomID == "room-1" {
			count++
			if e.RoomSnapshot.Title != "갱신된 방" {
				t.Errorf("rejoin should refresh snapshot, got %q", e.RoomSnapshot.Title)
			}
		}
	}
	if count != 1 {
		t.Fatalf("room-1 entries = %d, want 1", count)
	}
	if store.ActiveRoomID() != "room-1" {
		t.Errorf("rejoined room should be focused, got %q", store.ActiveRoomID())
	}
}

func TestLeaveRefocuses(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1"))
	_ = store.Join(ctx, room("room-2")) // focused, at head

	if err := store.Leave(ctx, "room-2"); err != nil {
		t.Fatal(err)
	}
	if store.ActiveRoomID() != "room-1" {
		t.Errorf("focus should move to first remaining, got %q", store.ActiveRoomID())
	}

	if err := store.Leave(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if store.ActiveRoomID() != "" {
		t.Errorf("focus should clear, got %q", store.ActiveRoomID())
	}
}

func TestUpdateSeatUnknownRoomIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1"))

	seat := 3
	if err := store.UpdateSeat(ctx, "nope", &seat); err != nil {
		t.Fatalf("unknown room should be silent: %v", err)
	}
	if err := store.UpdateSeat(ctx, "room-1", &seat); err != nil {
		t.Fatal(err)
	}
	entry := store.ActiveRooms()[0]
	if entry.SeatNumber == nil || *entry.SeatNumber != 3 {
		t.Errorf("seat = %v", entry.SeatNumber)
	}
}

func TestCompleteRoomExclusivity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1"))
	_ = store.Join(ctx, room("room-2"))

	if err := store.CompleteRoom(ctx, "room-1", "2025-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	for _, e := range store.ActiveRooms() {
		if e.RoomID == "room-1" {
			t.Fatal("completed room still active")
		}
	}
	completed := store.CompletedRooms()
	if len(completed) != 1 || completed[0].RoomID != "room-1" {
		t.Fatalf("completed = %+v", completed)
	}
	if completed[0].CompletedAt != "2025-01-01T00:00:00Z" {
		t.Errorf("completedAt = %q", completed[0].CompletedAt)
	}

	// completing again must not duplicate; a fresh active entry for the same
	// room is superseded by the newer completion record
	_ = store.Join(ctx, room("room-1"))
	if err := store.CompleteRoom(ctx, "room-1", "2025-02-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	completed = store.CompletedRooms()
	seen := 0
	for _, e := range completed {
		if e.RoomID == "room-1" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("history entries for room-1 = %d, want 1", seen)
	}
	if completed[0].RoomID != "room-1" || completed[0].CompletedAt != "2025-02-01T00:00:00Z" {
		t.Errorf("freshest completion should lead: %+v", completed[0])
	}

	// unknown room id is a silent no-op
	if err := store.CompleteRoom(ctx, "ghost", ""); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceRoomsPreservesSidecarsAndFiltersCompleted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1"))
	_ = store.Join(ctx, room("room-2"))

	dispatch := &models.DispatchSnapshot{
		Analysis: &models.DispatchAnalysis{DriverName: "김기사"},
		Message:  "배차 완료",
	}
	if err := store.SyncDispatchSnapshot(ctx, "room-1", dispatch); err != nil {
		t.Fatal(err)
	}
	_ = store.CompleteRoom(ctx, "room-2", "")

	incoming := []models.JoinedRoomEntry{
		{RoomID: "room-1", JoinedAt: "2025-01-01T00:00:00Z", RoomSnapshot: room("room-1")},
		{RoomID: "room-2", JoinedAt: "2025-01-01T00:00:00Z", RoomSnapshot: room("room-2")},
		{RoomID: "room-3", JoinedAt: "2025-01-02T00:00:00Z", RoomSnapshot: room("room-3")},
	}
	if err := store.ReplaceRooms(ctx, incoming); err != nil {
		t.Fatal(err)
	}

	active := store.ActiveRooms()
	ids := map[string]models.JoinedRoomEntry{}
	for _, e := range active {
		ids[e.RoomID] = e
	}
	if _, ok := ids["room-2"]; ok {
		t.Error("completed room resurrected by listing")
	}
	if _, ok := ids["room-3"]; !ok {
		t.Error("new room missing after reconciliation")
	}
	kept, ok := ids["room-1"]
	if !ok {
		t.Fatal("room-1 missing")
	}
	if kept.DispatchSnapshot == nil || kept.DispatchSnapshot.Analysis == nil ||
		kept.DispatchSnapshot.Analysis.DriverName != "김기사" {
		t.Errorf("dispatch sidecar dropped by reconciliation: %+v", kept.DispatchSnapshot)
	}
}

func TestReplaceRoomsRefocusesWhenFocusedDisappears(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1")) // focused
	if err := store.ReplaceRooms(ctx, []models.JoinedRoomEntry{
		{RoomID: "room-9", JoinedAt: "2025-01-01T00:00:00Z", RoomSnapshot: room("room-9")},
	}); err != nil {
		t.Fatal(err)
	}
	if store.ActiveRoomID() != "room-9" {
		t.Errorf("focus = %q, want room-9", store.ActiveRoomID())
	}
}

func TestDispatchPromotionIsOneWay(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1"))

	snap := &models.DispatchSnapshot{Analysis: &models.DispatchAnalysis{DriverName: "Kim"}}
	if err := store.SyncDispatchSnapshot(ctx, "room-1", snap); err != nil {
		t.Fatal(err)
	}
	if got := store.ActiveRooms()[0].RoomSnapshot.Status; got != models.StatusDriverAssigned {
		t.Fatalf("status = %q, want driver_assigned", got)
	}

	// a room already further along is never downgraded
	aboard := room("room-2")
	aboard.Status = models.StatusAboard
	_ = store.Join(ctx, aboard)
	if err := store.SyncDispatchSnapshot(ctx, "room-2", snap); err != nil {
		t.Fatal(err)
	}
	for _, e := range store.ActiveRooms() {
		if e.RoomID == "room-2" && e.RoomSnapshot.Status != models.StatusAboard {
			t.Errorf("status downgraded to %q", e.RoomSnapshot.Status)
		}
	}

	// clearing removes the sidecar but leaves the status alone
	if err := store.SyncDispatchSnapshot(ctx, "room-1", nil); err != nil {
		t.Fatal(err)
	}
	for _, e := range store.ActiveRooms() {
		if e.RoomID == "room-1" && e.DispatchSnapshot != nil {
			t.Error("dispatch sidecar should be cleared")
		}
	}
}

func TestSettlementWithAnalysisCompletesRoom(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Join(ctx, room("room-1"))

	// a snapshot without analysis only attaches the sidecar
	if err := store.SyncSettlementSnapshot(ctx, "room-1", &models.SettlementSnapshot{FileName: "receipt.png"}); err != nil {
		t.Fatal(err)
	}
	if len(store.CompletedRooms()) != 0 {
		t.Fatal("room completed without a finished analysis")
	}

	total := 12000.0
	snap := &models.SettlementSnapshot{
		Analysis:    &models.ReceiptAnalysis{TotalAmount: &total},
		CompletedAt: "2025-01-01T00:00:00Z",
	}
	if err := store.SyncSettlementSnapshot(ctx, "room-1", snap); err != nil {
		t.Fatal(err)
	}
	if len(store.ActiveRooms()) != 0 {
		t.Error("room should have left the active set")
	}
	completed := store.CompletedRooms()
	if len(completed) != 1 || completed[0].CompletedAt != "2025-01-01T00:00:00Z" {
		t.Fatalf("completed = %+v", completed)
	}
	if completed[0].SettlementSnapshot == nil || completed[0].SettlementSnapshot.Analysis == nil {
		t.Error("settlement snapshot not carried into history")
	}
}

func TestEmptyBucketPruning(t *testing.T) {
	store, backing := newTestStore(t)
	ctx := context.Background()

	_ = store.Join(ctx, room("room-1"))
	if _, ok, _ := backing.Get(ctx, "gtx_room_memberships"); !ok {
		t.Fatal("bucket missing after join")
	}
	if err := store.Leave(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := backing.Get(ctx, "gtx_room_memberships"); ok {
		t.Error("empty bucket should be removed, not stored as {}")
	}
	if backing.Len() != 0 {
		t.Errorf("backing store should be empty, has %d keys", backing.Len())
	}
}

func TestPerUserPartitions(t *testing.T) {
	backing := kv.NewMemoryStore()
	ctx := context.Background()

	kim, err := New(ctx, backing, "kim", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = kim.Join(ctx, room("room-1"))

	guest, err := New(ctx, backing, "guest", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(guest.ActiveRooms()) != 0 {
		t.Error("guest partition should be empty")
	}
	_ = guest.Join(ctx, room("room-2"))

	// switching identity swaps the visible partition without touching others
	if err := guest.SwitchUser(ctx, "kim"); err != nil {
		t.Fatal(err)
	}
	rooms := guest.ActiveRooms()
	if len(rooms) != 1 || rooms[0].RoomID != "room-1" {
		t.Errorf("kim partition = %+v", rooms)
	}
	if err := guest.SwitchUser(ctx, "guest"); err != nil {
		t.Fatal(err)
	}
	rooms = guest.ActiveRooms()
	if len(rooms) != 1 || rooms[0].RoomID != "room-2" {
		t.Errorf("guest partition = %+v", rooms)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	backing := kv.NewMemoryStore()
	ctx := context.Background()

	first, err := New(ctx, backing, "kim", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Join(ctx, room("room-1"))
	seat := 2
	_ = first.UpdateSeat(ctx, "room-1", &seat)
	_ = first.CompleteRoom(ctx, "room-1", "2025-03-01T00:00:00Z")

	second, err := New(ctx, backing, "kim", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.ActiveRooms()) != 0 {
		t.Error("active set should be empty after reload")
	}
	completed := second.CompletedRooms()
	if len(completed) != 1 || completed[0].RoomID != "room-1" {
		t.Fatalf("history lost across reload: %+v", completed)
	}
}

func TestSubscribeNotifiesOnMutation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	calls := 0
	store.Subscribe(func() { calls++ })

	_ = store.Join(ctx, room("room-1"))
	if calls != 1 {
		t.Errorf("calls after join = %d", calls)
	}
	// soft no-op does not notify
	seat := 1
	_ = store.UpdateSeat(ctx, "ghost", &seat)
	if calls != 1 {
		t.Errorf("no-op should not notify, calls = %d", calls)
	}
	_ = store.Leave(ctx, "room-1")
	if calls != 2 {
		t.Errorf("calls after leave = %d", calls)
	}
}

func TestEndToEndScenario(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	joined := room("room-1")
	joined.Capacity = 4
	joined.Filled = 1
	if err := store.Join(ctx, joined); err != nil {
		t.Fatal(err)
	}

	if err := store.SyncDispatchSnapshot(ctx, "room-1", &models.DispatchSnapshot{
		Analysis: &models.DispatchAnalysis{DriverName: "Kim"},
	}); err != nil {
		t.Fatal(err)
	}
	if got := store.ActiveRooms()[0].RoomSnapshot.Status; got != models.StatusDriverAssigned {
		t.Fatalf("after dispatch sync status = %q", got)
	}

	total := 12000.0
	if err := store.SyncSettlementSnapshot(ctx, "room-1", &models.SettlementSnapshot{
		Analysis:    &models.ReceiptAnalysis{TotalAmount: &total},
		CompletedAt: "2025-01-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}

	if len(store.ActiveRooms()) != 0 {
		t.Error("room-1 still active after settlement")
	}
	completed := store.CompletedRooms()
	if len(completed) != 1 {
		t.Fatalf("completed = %d", len(completed))
	}
	if completed[0].CompletedAt != "2025-01-01T00:00:00Z" {
		t.Errorf("completedAt = %q", completed[0].CompletedAt)
	}
	if completed[0].DispatchSnapshot == nil {
		t.Error("dispatch snapshot not carried into history")
	}
}
