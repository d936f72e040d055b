package places

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestActivateStartsWithDefaultsForNewUser(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	mustActivate(t, fixture.store, "user-1")

	if !fixture.store.Active() || !fixture.store.Persistent() {
		t.Fatalf("expected active persistent session")
	}
	if len(fixture.store.Places()) != 0 {
		t.Fatalf("expected empty place list")
	}
	if !slices.Equal(fixture.store.Categories(), DefaultPalette().DefaultCategories()) {
		t.Fatalf("unexpected categories %v", fixture.store.Categories())
	}
	if settings := fixture.store.CreationSettings(); settings.Category != DefaultCategory || settings.Color != "#3ea6ff" {
		t.Fatalf("unexpected creation settings %#v", settings)
	}
}

func TestActivateRejectsInvalidUserKey(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	if err := fixture.store.Activate(context.Background(), UserKey("   ")); !errors.Is(err, ErrInvalidUserKey) {
		t.Fatalf("expected invalid user key, got %v", err)
	}
	if fixture.store.Active() {
		t.Fatalf("store must stay inactive")
	}
}

func TestActivateBackfillsLegacySnapshot(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	key := mustUserKey(t, "user-1")
	fixture.snapshots.stored[key] = Snapshot{
		SavedPlaces: []Place{
			{ID: "legacy", Name: "Old", Formatted: "Old Town", Lat: 1, Lon: 2},
			{ID: "dinner", Name: "Dinner", Lat: 3, Lon: 4, Category: "Shabbat Dinners", Color: "#f1c40f"},
		},
		Categories: []string{"Museums"},
	}

	mustActivate(t, fixture.store, "user-1")

	loaded := fixture.store.Places()
	if len(loaded) != 2 {
		t.Fatalf("expected two places, got %d", len(loaded))
	}
	legacy := loaded[0]
	if legacy.Category != DefaultCategory || legacy.Color != "#3ea6ff" || legacy.ApprovalStatus != ApprovalStatusApproved {
		t.Fatalf("expected backfilled legacy place, got %#v", legacy)
	}
	if legacy.Memories == nil || legacy.Requests == nil {
		t.Fatalf("expected backfilled lists")
	}
	if loaded[1].ApprovalStatus != ApprovalStatusNone {
		t.Fatalf("expected restricted place to backfill to none, got %s", loaded[1].ApprovalStatus)
	}
	if categories := fixture.store.Categories(); !slices.Equal(categories, []string{"Museums"}) {
		t.Fatalf("expected stored categories, got %v", categories)
	}
}

func TestActivateMergesSharedItems(t *testing.T) {
	feed := fakeShareFeed{items: []SharedItem{
		{ID: "shared-1", Title: "Friend's cafe", Address: "Tel Aviv", Latitude: 32.08, Longitude: 34.78, SharedBy: SharedUser{ID: "friend", DisplayName: "Friend"}},
		{ID: "collide", Title: "Shared version", Latitude: 1, Longitude: 1, SharedBy: SharedUser{ID: "friend"}},
	}}
	fixture := newStoreFixture(t, func(cfg *StoreConfig) { cfg.Shares = feed })
	key := mustUserKey(t, "user-1")
	fixture.snapshots.stored[key] = Snapshot{SavedPlaces: []Place{
		{ID: "own", Name: "Own", Lat: 5, Lon: 5},
		{ID: "collide", Name: "Local version", Lat: 1, Lon: 1},
	}}

	mustActivate(t, fixture.store, "user-1")

	merged := fixture.store.Places()
	ids := make([]string, 0, len(merged))
	for _, place := range merged {
		ids = append(ids, place.ID)
	}
	if !slices.Equal(ids, []string{"own", "shared-1", "collide"}) {
		t.Fatalf("unexpected merge order %v", ids)
	}
	collided, _ := fixture.store.Place("collide")
	if !collided.IsShared || collided.Name != "Shared version" {
		t.Fatalf("expected shared item to win the id collision, got %#v", collided)
	}
	shared, _ := fixture.store.Place("shared-1")
	if shared.Category != SharedCategory || shared.Color != SharedColor || shared.ApprovalStatus != ApprovalStatusApproved {
		t.Fatalf("unexpected shared place %#v", shared)
	}
	if shared.SharedBy == nil || shared.SharedBy.DisplayName != "Friend" {
		t.Fatalf("expected sharer to be recorded")
	}
	if !slices.Contains(fixture.store.Categories(), SharedCategory) {
		t.Fatalf("expected shared category to be registered")
	}
}

func TestActivateToleratesShareFeedFailure(t *testing.T) {
	fixture := newStoreFixture(t, func(cfg *StoreConfig) { cfg.Shares = fakeShareFeed{err: errBoom} })
	key := mustUserKey(t, "user-1")
	fixture.snapshots.stored[key] = Snapshot{SavedPlaces: []Place{{ID: "own", Name: "Own", Lat: 5, Lon: 5}}}

	mustActivate(t, fixture.store, "user-1")

	if len(fixture.store.Places()) != 1 {
		t.Fatalf("expected local places only")
	}
	if slices.Contains(fixture.store.Categories(), SharedCategory) {
		t.Fatalf("shared category must not be added without shared items")
	}
}

func TestActivateLoadFailureDisablesWriteBack(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	fixture.snapshots.loadErr = errBoom

	mustActivate(t, fixture.store, "user-1")

	if fixture.store.Persistent() {
		t.Fatalf("expected write-back to be disabled")
	}
	mustAddPlace(t, fixture.store, jerusalem())
	if err := fixture.store.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if fixture.snapshots.saveCount() != 0 {
		t.Fatalf("unreadable snapshot must not be overwritten")
	}
}

func TestDebouncedSaveCoalescesMutations(t *testing.T) {
	fixture := newStoreFixture(t, func(cfg *StoreConfig) { cfg.SaveDelay = 20 * time.Millisecond })
	mustActivate(t, fixture.store, "user-1")

	place := mustAddPlace(t, fixture.store, jerusalem())
	fixture.store.AddCategory("Museums")
	if _, err := fixture.store.UpdatePlaceCategory(place.ID, "Museums"); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	var saved Snapshot
	select {
	case saved = <-fixture.snapshots.saveSeen:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for debounced save")
	}
	time.Sleep(60 * time.Millisecond)

	if count := fixture.snapshots.saveCount(); count != 1 {
		t.Fatalf("expected a single coalesced save, got %d", count)
	}
	if len(saved.SavedPlaces) != 1 || saved.SavedPlaces[0].Category != "Museums" {
		t.Fatalf("expected final state to be saved, got %#v", saved.SavedPlaces)
	}
	if !slices.Contains(saved.Categories, "Museums") {
		t.Fatalf("expected categories to be saved")
	}
}

func TestFlushWritesImmediatelyAndExcludesSharedPlaces(t *testing.T) {
	feed := fakeShareFeed{items: []SharedItem{{ID: "shared-1", Title: "Shared", Latitude: 40, Longitude: 40}}}
	fixture := newStoreFixture(t, func(cfg *StoreConfig) { cfg.Shares = feed })
	mustActivate(t, fixture.store, "user-1")
	mustAddPlace(t, fixture.store, jerusalem())

	if err := fixture.store.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if fixture.snapshots.saveCount() != 1 {
		t.Fatalf("expected one save, got %d", fixture.snapshots.saveCount())
	}
	saved := fixture.snapshots.stored[mustUserKey(t, "user-1")]
	if len(saved.SavedPlaces) != 1 || saved.SavedPlaces[0].IsShared {
		t.Fatalf("shared places must never be persisted: %#v", saved.SavedPlaces)
	}

	if err := fixture.store.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if fixture.snapshots.saveCount() != 1 {
		t.Fatalf("clean state must not be saved again")
	}
}

func TestSaveFailureKeepsStateDirty(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	mustActivate(t, fixture.store, "user-1")
	mustAddPlace(t, fixture.store, jerusalem())

	fixture.snapshots.setSaveErr(errBoom)
	err := fixture.store.Flush(context.Background())
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "places.flush.snapshot_save_failed" {
		t.Fatalf("expected flush service error, got %v", err)
	}
	if len(fixture.store.Places()) != 1 {
		t.Fatalf("in-memory state must survive a failed save")
	}

	fixture.snapshots.setSaveErr(nil)
	if err := fixture.store.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	if fixture.snapshots.saveCount() != 1 {
		t.Fatalf("expected retry to save the pending state")
	}
}

func TestSwitchingUsersFlushesAndIsolatesState(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	mustActivate(t, fixture.store, "user-1")
	mustAddPlace(t, fixture.store, jerusalem())

	mustActivate(t, fixture.store, "user-2")

	if len(fixture.store.Places()) != 0 {
		t.Fatalf("second user must not see the first user's places")
	}
	if fixture.store.UserKey() != "user-2" {
		t.Fatalf("unexpected active user %s", fixture.store.UserKey())
	}
	first := fixture.snapshots.stored[mustUserKey(t, "user-1")]
	if len(first.SavedPlaces) != 1 {
		t.Fatalf("expected first user's pending changes to be flushed")
	}
}

func TestDeactivateResetsState(t *testing.T) {
	fixture := newStoreFixture(t, nil)
	mustActivate(t, fixture.store, "user-1")
	mustAddPlace(t, fixture.store, jerusalem())

	if err := fixture.store.Deactivate(context.Background()); err != nil {
		t.Fatalf("unexpected deactivate error: %v", err)
	}
	if fixture.store.Active() || len(fixture.store.Places()) != 0 || fixture.store.UserKey() != "" {
		t.Fatalf("expected state to be discarded")
	}
	if fixture.snapshots.saveCount() != 1 {
		t.Fatalf("expected pending changes to be flushed before discarding")
	}
}

func TestFlushKeepsLocalPlacesHiddenBySharedItems(t *testing.T) {
	feed := fakeShareFeed{items: []SharedItem{{ID: "collide", Title: "Shared version", Latitude: 1, Longitude: 1}}}
	fixture := newStoreFixture(t, func(cfg *StoreConfig) { cfg.Shares = feed })
	key := mustUserKey(t, "user-1")
	fixture.snapshots.stored[key] = Snapshot{SavedPlaces: []Place{
		{ID: "collide", Name: "Local version", Lat: 1, Lon: 1},
	}}

	mustActivate(t, fixture.store, "user-1")
	mustAddPlace(t, fixture.store, jerusalem())
	if err := fixture.store.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	saved := fixture.snapshots.stored[key]
	names := make([]string, 0, len(saved.SavedPlaces))
	for _, place := range saved.SavedPlaces {
		if place.IsShared {
			t.Fatalf("shared places must never be persisted: %#v", place)
		}
		names = append(names, place.Name)
	}
	if !slices.Contains(names, "Local version") || len(names) != 2 {
		t.Fatalf("expected the hidden local place to stay in the snapshot, got %v", names)
	}
}
