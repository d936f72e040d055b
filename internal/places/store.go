package places

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSaveDelay = 500 * time.Millisecond

var (
	errMissingSnapshotStore = errors.New("snapshot store is required")
	noOpLogger              = zap.NewNop()
	defaultRestricted       = []string{"Shabbat Dinners", LoneSoldierCategory}
)

// SnapshotStore persists one snapshot per user.
type SnapshotStore interface {
	// Load returns false without error when the user has no snapshot yet.
	Load(ctx context.Context, userKey UserKey) (Snapshot, bool, error)
	Save(ctx context.Context, userKey UserKey, snapshot Snapshot) error
}

// ShareFeed delivers the places other users shared with the active user.
type ShareFeed interface {
	FetchSharedItems(ctx context.Context) ([]SharedItem, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, confirmation Confirmation) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, confirmation Confirmation) (bool, error)

// Confirm calls f.
func (f ConfirmerFunc) Confirm(ctx context.Context, confirmation Confirmation) (bool, error) {
	return f(ctx, confirmation)
}

// ChangeKind names the mutation that produced a ChangeEvent.
type ChangeKind string

const (
	ChangePlaceAdded       ChangeKind = "place-added"
	ChangePlaceRemoved     ChangeKind = "place-removed"
	ChangePlaceUpdated     ChangeKind = "place-updated"
	ChangePlaceSelected    ChangeKind = "place-selected"
	ChangeCategoriesEdited ChangeKind = "categories-changed"
	ChangePlacesReplaced   ChangeKind = "places-replaced"
)

// ChangeEvent describes a mutation applied to the store.
type ChangeEvent struct {
	Kind    ChangeKind
	UserKey UserKey
	PlaceID string
}

// StoreConfig describes the collaborators of a Store.
type StoreConfig struct {
	Snapshots            SnapshotStore
	Shares               ShareFeed
	Codec                ArchiveCodec
	Confirmer            Confirmer
	Palette              Palette
	RestrictedCategories []string
	SaveDelay            time.Duration
	Clock                func() time.Time
	IDProvider           IDProvider
	Logger               *zap.Logger
	Observer             Observer
	// OnChange is invoked synchronously after every mutation and must not call
	// back into the Store.
	OnChange func(ChangeEvent)
}

// Store is the in-memory authoritative state of one user's places.
type Store struct {
	snapshots  SnapshotStore
	shares     ShareFeed
	codec      ArchiveCodec
	confirmer  Confirmer
	palette    Palette
	restricted map[string]struct{}
	saveDelay  time.Duration
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	observer   Observer
	onChange   func(ChangeEvent)

	// saveMu orders snapshot writes so a newer state is never overwritten by an older one.
	saveMu sync.Mutex

	mu            sync.Mutex
	userKey       UserKey
	active        bool
	persist       bool
	dirty         bool
	timer         *time.Timer
	places        []Place
	shadowed      []Place
	categories    []string
	creation      CreationSettings
	activePlaceID string
}

// NewStore constructs a Store. Activate must be called before state is persisted.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Snapshots == nil {
		return nil, newServiceError(opStoreNew, "missing_snapshot_store", errMissingSnapshotStore)
	}

	palette := cfg.Palette
	if len(palette.entries) == 0 {
		palette = DefaultPalette()
	}

	restrictedNames := cfg.RestrictedCategories
	if restrictedNames == nil {
		restrictedNames = defaultRestricted
	}
	restricted := make(map[string]struct{}, len(restrictedNames))
	for _, name := range restrictedNames {
		restricted[name] = struct{}{}
	}

	saveDelay := cfg.SaveDelay
	if saveDelay <= 0 {
		saveDelay = defaultSaveDelay
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	store := &Store{
		snapshots:  cfg.Snapshots,
		shares:     cfg.Shares,
		codec:      cfg.Codec,
		confirmer:  cfg.Confirmer,
		palette:    palette,
		restricted: restricted,
		saveDelay:  saveDelay,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		observer:   observer,
		onChange:   cfg.OnChange,
	}
	store.resetLocked()
	return store, nil
}

// ColorFor derives the display color of a category with the store's palette.
func (s *Store) ColorFor(category string) string {
	return s.palette.ColorFor(category)
}

// IsRestricted reports whether places in category require access approval.
func (s *Store) IsRestricted(category string) bool {
	_, ok := s.restricted[category]
	return ok
}

func (s *Store) initialStatus(category string) ApprovalStatus {
	if s.IsRestricted(category) {
		return ApprovalStatusNone
	}
	return ApprovalStatusApproved
}

// UserKey returns the key of the active session, or "" when inactive.
func (s *Store) UserKey() UserKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userKey
}

// Places returns a copy of the place list, most recently added first.
func (s *Store) Places() []Place {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePlaces(s.places)
}

// Place returns a copy of the place with the given id.
func (s *Store) Place(id string) (Place, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(id)
	if index < 0 {
		return Place{}, false
	}
	return s.places[index].Clone(), true
}

// Categories returns a copy of the registered category names.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.categories...)
}

// CreationSettings returns the category and color applied to new places.
func (s *Store) CreationSettings() CreationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creation
}

// ActivePlaceID returns the currently selected place, or "" when none is selected.
func (s *Store) ActivePlaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePlaceID
}

// AddPlace saves a geocoder candidate under the current creation settings.
// It returns ErrDuplicatePlace and leaves the list untouched when the candidate
// matches an existing place.
func (s *Store) AddPlace(candidate Candidate) (Place, error) {
	if err := validateCandidate(candidate); err != nil {
		return Place{}, err
	}

	id := candidate.ID
	if id == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return Place{}, err
		}
		id = generated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	place := Place{
		ID:             id,
		Name:           candidate.Name,
		Formatted:      candidate.Formatted,
		Lat:            candidate.Lat,
		Lon:            candidate.Lon,
		Category:       s.creation.Category,
		Color:          s.creation.Color,
		Memories:       []Memory{},
		Requests:       []AccessRequest{},
		ApprovalStatus: s.initialStatus(s.creation.Category),
	}

	if isDuplicate(s.places, place) {
		s.observer.DuplicateRejected()
		s.logger.Info("duplicate place rejected",
			zap.String("user_key", s.userKey.String()),
			zap.String("formatted", place.Formatted))
		return Place{}, ErrDuplicatePlace
	}

	s.places = append([]Place{place}, s.places...)
	s.changedLocked(ChangePlaceAdded, place.ID)
	return place.Clone(), nil
}

// RemovePlace deletes a place and all of its memories after user confirmation.
// It reports whether a place was removed; unknown ids are a no-op.
func (s *Store) RemovePlace(ctx context.Context, id string) (bool, error) {
	if _, ok := s.Place(id); !ok {
		return false, nil
	}
	confirmed, err := s.confirm(ctx, opRemovePlace, confirmDeletePlace)
	if err != nil || !confirmed {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(id)
	if index < 0 {
		return false, nil
	}
	s.places = append(s.places[:index:index], s.places[index+1:]...)
	if s.activePlaceID == id {
		s.activePlaceID = ""
	}
	s.changedLocked(ChangePlaceRemoved, id)
	return true, nil
}

// AddMemory appends a memory to the place, stamping its id and date when absent.
func (s *Store) AddMemory(placeID string, memory Memory) (Memory, error) {
	if memory.Type == "" {
		memory.Type = MemoryTypeNote
	}
	if !memory.Type.Valid() {
		return Memory{}, ErrInvalidMemory
	}
	if memory.ID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return Memory{}, err
		}
		memory.ID = generated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(placeID)
	if index < 0 {
		return Memory{}, ErrPlaceNotFound
	}
	if memory.Date == "" {
		memory.Date = s.clock().UTC().Format(time.RFC3339)
	}
	place := &s.places[index]
	place.Memories = append(place.Memories, memory)
	s.changedLocked(ChangePlaceUpdated, placeID)
	return memory, nil
}

// FindMemory looks up a memory of a place.
func (s *Store) FindMemory(placeID, memoryID string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(placeID)
	if index < 0 {
		return Memory{}, ErrPlaceNotFound
	}
	for _, memory := range s.places[index].Memories {
		if memory.ID == memoryID {
			return memory, nil
		}
	}
	return Memory{}, ErrMemoryNotFound
}

// RemoveMemory deletes a single memory after user confirmation. Unknown place or
// memory ids are a no-op.
func (s *Store) RemoveMemory(ctx context.Context, placeID, memoryID string) (bool, error) {
	if _, err := s.FindMemory(placeID, memoryID); err != nil {
		return false, nil
	}
	confirmed, err := s.confirm(ctx, opRemoveMemory, confirmDeleteMemory)
	if err != nil || !confirmed {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(placeID)
	if index < 0 {
		return false, nil
	}
	place := &s.places[index]
	kept := make([]Memory, 0, len(place.Memories))
	for _, memory := range place.Memories {
		if memory.ID != memoryID {
			kept = append(kept, memory)
		}
	}
	if len(kept) == len(place.Memories) {
		return false, nil
	}
	place.Memories = kept
	s.changedLocked(ChangePlaceUpdated, placeID)
	return true, nil
}

// SetCategory selects the category (and its derived color) for new places.
func (s *Store) SetCategory(name string) CreationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creation = CreationSettings{Category: name, Color: s.palette.ColorFor(name)}
	return s.creation
}

// AddCategory registers a category name when it is new and selects it.
func (s *Store) AddCategory(name string) CreationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.categories, name) {
		s.categories = append(s.categories, name)
		s.changedLocked(ChangeCategoriesEdited, "")
	}
	s.creation = CreationSettings{Category: name, Color: s.palette.ColorFor(name)}
	return s.creation
}

// UpdatePlaceCategory moves an existing place to another category and recolors it.
// The approval status is left untouched.
func (s *Store) UpdatePlaceCategory(placeID, category string) (Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(placeID)
	if index < 0 {
		return Place{}, ErrPlaceNotFound
	}
	place := &s.places[index]
	place.Category = category
	place.Color = s.palette.ColorFor(category)
	s.changedLocked(ChangePlaceUpdated, placeID)
	return place.Clone(), nil
}

// SubmitRequest appends an access request and moves the place to pending.
func (s *Store) SubmitRequest(placeID string, request AccessRequest) (Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(placeID)
	if index < 0 {
		return Place{}, ErrPlaceNotFound
	}
	place := &s.places[index]
	if err := validateAccessRequest(request, place.Category); err != nil {
		return Place{}, err
	}
	if request.ID == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return Place{}, err
		}
		request.ID = generated
	}
	if request.Date == "" {
		request.Date = s.clock().UTC().Format(time.RFC3339)
	}
	place.Requests = append(place.Requests, request)
	place.ApprovalStatus = ApprovalStatusPending
	s.changedLocked(ChangePlaceUpdated, placeID)
	return place.Clone(), nil
}

// ApprovePlace grants full access to the place. Approving twice is a no-op.
func (s *Store) ApprovePlace(placeID string) (Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexLocked(placeID)
	if index < 0 {
		return Place{}, ErrPlaceNotFound
	}
	place := &s.places[index]
	if place.ApprovalStatus != ApprovalStatusApproved {
		place.ApprovalStatus = ApprovalStatusApproved
		s.changedLocked(ChangePlaceUpdated, placeID)
	}
	return place.Clone(), nil
}

// SetActivePlace selects the place whose details should be shown. An empty id
// clears the selection.
func (s *Store) SetActivePlace(placeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if placeID != "" && s.indexLocked(placeID) < 0 {
		return ErrPlaceNotFound
	}
	s.activePlaceID = placeID
	s.notifyLocked(ChangeEvent{Kind: ChangePlaceSelected, UserKey: s.userKey, PlaceID: placeID})
	return nil
}

// ClearAll removes every place after user confirmation. Categories are kept.
func (s *Store) ClearAll(ctx context.Context) (bool, error) {
	confirmed, err := s.confirm(ctx, opClearAll, confirmClearAll)
	if err != nil || !confirmed {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places = []Place{}
	s.shadowed = nil
	s.activePlaceID = ""
	s.changedLocked(ChangePlacesReplaced, "")
	return true, nil
}

// RestoreData replaces the in-memory places wholesale, e.g. from a backup.
// Categories are replaced only when a non-empty list is supplied. Missing
// fields are backfilled; duplicates are not re-checked.
func (s *Store) RestoreData(places []Place, categories []string) {
	restored := make([]Place, 0, len(places))
	for _, place := range places {
		restored = append(restored, s.backfill(place.Clone()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.places = restored
	s.shadowed = nil
	if len(categories) > 0 {
		s.categories = append([]string(nil), categories...)
	}
	if s.activePlaceID != "" && s.indexLocked(s.activePlaceID) < 0 {
		s.activePlaceID = ""
	}
	s.changedLocked(ChangePlacesReplaced, "")
}

func (s *Store) confirm(ctx context.Context, operation string, confirmation Confirmation) (bool, error) {
	if s.confirmer == nil {
		return false, newServiceError(operation, "missing_confirmer", errMissingConfirmer)
	}
	confirmed, err := s.confirmer.Confirm(ctx, confirmation)
	if err != nil {
		s.logError(operation, "confirmation_failed", err)
		return false, newServiceError(operation, "confirmation_failed", err)
	}
	return confirmed, nil
}

// changedLocked schedules a write-back and notifies listeners. Callers hold s.mu.
func (s *Store) changedLocked(kind ChangeKind, placeID string) {
	s.scheduleSaveLocked()
	s.notifyLocked(ChangeEvent{Kind: kind, UserKey: s.userKey, PlaceID: placeID})
}

func (s *Store) notifyLocked(event ChangeEvent) {
	if s.onChange != nil {
		s.onChange(event)
	}
}

func (s *Store) indexLocked(id string) int {
	for index, place := range s.places {
		if place.ID == id {
			return index
		}
	}
	return -1
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("places store error", attrs...)
}

func clonePlaces(places []Place) []Place {
	clones := make([]Place, 0, len(places))
	for _, place := range places {
		clones = append(clones, place.Clone())
	}
	return clones
}
