package places

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Activate loads the user's snapshot, merges the places shared with them and
// makes the result the store's state. A previously active session is flushed
// and discarded first.
//
// An unreadable snapshot is logged and replaced by an empty state; write-back
// stays disabled for the session so the stored snapshot is not overwritten.
// A failing share feed is logged and merged as zero shared items.
func (s *Store) Activate(ctx context.Context, userKey UserKey) error {
	if _, err := NewUserKey(userKey.String()); err != nil {
		return newServiceError(opActivate, "invalid_user_key", err)
	}
	if err := s.Deactivate(ctx); err != nil {
		s.logError(opActivate, "previous_session_flush_failed", err)
	}

	persist := true
	var local []Place
	categories := s.palette.DefaultCategories()

	snapshot, found, err := s.snapshots.Load(ctx, userKey)
	switch {
	case err != nil:
		persist = false
		s.logError(opActivate, "snapshot_load_failed", err, zap.String("user_key", userKey.String()))
	case found:
		local = make([]Place, 0, len(snapshot.SavedPlaces))
		for _, place := range snapshot.SavedPlaces {
			local = append(local, s.backfill(place))
		}
		if len(snapshot.Categories) > 0 {
			categories = append([]string(nil), snapshot.Categories...)
		}
	}

	shared := s.fetchShared(ctx, userKey)
	merged, shadowed := mergeShared(local, shared)
	if len(shared) > 0 && !slices.Contains(categories, SharedCategory) {
		categories = append(categories, SharedCategory)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.userKey = userKey
	s.active = true
	s.persist = persist
	s.places = merged
	s.shadowed = shadowed
	s.categories = categories
	s.logger.Info("places session activated",
		zap.String("user_key", userKey.String()),
		zap.Int("local_places", len(local)),
		zap.Int("shared_places", len(shared)),
		zap.Bool("persistent", persist))
	return nil
}

// Deactivate flushes pending writes and discards the session state.
func (s *Store) Deactivate(ctx context.Context) error {
	flushErr := s.Flush(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return flushErr
	}
	s.logger.Info("places session deactivated", zap.String("user_key", s.userKey.String()))
	s.resetLocked()
	return flushErr
}

// Active reports whether a user session is active.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Persistent reports whether mutations of the active session are written back.
func (s *Store) Persistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.persist
}

func (s *Store) resetLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.userKey = ""
	s.active = false
	s.persist = false
	s.dirty = false
	s.places = []Place{}
	s.shadowed = nil
	s.categories = s.palette.DefaultCategories()
	s.creation = CreationSettings{Category: DefaultCategory, Color: s.palette.ColorFor(DefaultCategory)}
	s.activePlaceID = ""
}

func (s *Store) fetchShared(ctx context.Context, userKey UserKey) []Place {
	if s.shares == nil {
		return nil
	}
	items, err := s.shares.FetchSharedItems(ctx)
	s.observer.SharedItemsFetched(len(items), err)
	if err != nil {
		if !errors.Is(err, ErrRemoteFetchFailed) {
			err = errors.Join(ErrRemoteFetchFailed, err)
		}
		s.logError(opFetchShared, "feed_unavailable", err, zap.String("user_key", userKey.String()))
		return nil
	}
	shared := make([]Place, 0, len(items))
	for _, item := range items {
		sharedBy := item.SharedBy
		shared = append(shared, Place{
			ID:             item.ID,
			Name:           item.Title,
			Formatted:      item.Address,
			Lat:            item.Latitude,
			Lon:            item.Longitude,
			Notes:          item.Notes,
			Category:       SharedCategory,
			Color:          SharedColor,
			Memories:       []Memory{},
			Requests:       []AccessRequest{},
			ApprovalStatus: ApprovalStatusApproved,
			IsShared:       true,
			SharedBy:       &sharedBy,
		})
	}
	return shared
}

// mergeShared keeps local places whose id is not taken by a shared item and
// appends every shared item after them. Local places hidden by a shared item
// are returned separately so write-back keeps them in the snapshot.
func mergeShared(local, shared []Place) ([]Place, []Place) {
	sharedIDs := make(map[string]struct{}, len(shared))
	for _, place := range shared {
		sharedIDs[place.ID] = struct{}{}
	}
	merged := make([]Place, 0, len(local)+len(shared))
	var shadowed []Place
	for _, place := range local {
		if _, taken := sharedIDs[place.ID]; taken {
			shadowed = append(shadowed, place)
			continue
		}
		merged = append(merged, place)
	}
	return append(merged, shared...), shadowed
}

// backfill fills fields that snapshots written by older clients may lack.
func (s *Store) backfill(place Place) Place {
	if place.Memories == nil {
		place.Memories = []Memory{}
	}
	if place.Category == "" {
		place.Category = DefaultCategory
	}
	if place.Color == "" {
		place.Color = s.palette.ColorFor(place.Category)
	}
	if place.Requests == nil {
		place.Requests = []AccessRequest{}
	}
	if place.ApprovalStatus == "" {
		place.ApprovalStatus = s.initialStatus(place.Category)
	}
	return place
}

// Flush writes pending changes immediately instead of waiting for the debounce timer.
func (s *Store) Flush(ctx context.Context) error {
	return s.writeBack(ctx)
}

// scheduleSaveLocked restarts the debounce timer. Callers hold s.mu.
func (s *Store) scheduleSaveLocked() {
	if !s.active || !s.persist {
		return
	}
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.saveDelay, s.saveOnTimer)
}

func (s *Store) saveOnTimer() {
	if err := s.writeBack(context.Background()); err != nil {
		s.logError(opScheduledSave, "write_back_failed", err)
	}
}

// writeBack persists the state as it is when the write starts. Shared places
// are not locally owned and are left out; local places they hide are kept.
func (s *Store) writeBack(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.active || !s.persist || !s.dirty {
		s.mu.Unlock()
		return nil
	}
	userKey := s.userKey
	snapshot := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	started := s.clock()
	err := s.snapshots.Save(ctx, userKey, snapshot)
	s.observer.SnapshotSaved(s.clock().Sub(started), err)
	if err != nil {
		s.mu.Lock()
		if s.active && s.userKey == userKey {
			s.dirty = true
		}
		s.mu.Unlock()
		s.logError(opFlush, "snapshot_save_failed", err, zap.String("user_key", userKey.String()))
		return newServiceError(opFlush, "snapshot_save_failed", err)
	}
	return nil
}

func (s *Store) snapshotLocked() Snapshot {
	owned := make([]Place, 0, len(s.places)+len(s.shadowed))
	for _, place := range s.places {
		if place.IsShared {
			continue
		}
		owned = append(owned, place.Clone())
	}
	for _, place := range s.shadowed {
		owned = append(owned, place.Clone())
	}
	return Snapshot{
		SavedPlaces: owned,
		Categories:  append([]string(nil), s.categories...),
	}
}
