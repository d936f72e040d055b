package places

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSnapshotStore struct {
	mu       sync.Mutex
	stored   map[UserKey]Snapshot
	loadErr  error
	saveErr  error
	saves    []Snapshot
	saveSeen chan Snapshot
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		stored:   make(map[UserKey]Snapshot),
		saveSeen: make(chan Snapshot, 16),
	}
}

func (f *fakeSnapshotStore) Load(_ context.Context, userKey UserKey) (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return Snapshot{}, false, f.loadErr
	}
	snapshot, ok := f.stored[userKey]
	return snapshot, ok, nil
}

func (f *fakeSnapshotStore) Save(_ context.Context, userKey UserKey, snapshot Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored[userKey] = snapshot
	f.saves = append(f.saves, snapshot)
	select {
	case f.saveSeen <- snapshot:
	default:
	}
	return nil
}

func (f *fakeSnapshotStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeSnapshotStore) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

type fakeShareFeed struct {
	items []SharedItem
	err   error
}

func (f fakeShareFeed) FetchSharedItems(context.Context) ([]SharedItem, error) {
	return f.items, f.err
}

type recordingConfirmer struct {
	answer bool
	err    error
	asked  []Confirmation
}

func (c *recordingConfirmer) Confirm(_ context.Context, confirmation Confirmation) (bool, error) {
	c.asked = append(c.asked, confirmation)
	return c.answer, c.err
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type storeFixture struct {
	store     *Store
	snapshots *fakeSnapshotStore
	confirmer *recordingConfirmer
	events    []ChangeEvent
}

func newStoreFixture(t *testing.T, mutate func(*StoreConfig)) *storeFixture {
	t.Helper()
	fixture := &storeFixture{
		snapshots: newFakeSnapshotStore(),
		confirmer: &recordingConfirmer{answer: true},
	}
	cfg := StoreConfig{
		Snapshots:  fixture.snapshots,
		Confirmer:  fixture.confirmer,
		SaveDelay:  time.Hour,
		Clock:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		IDProvider: &sequenceIDProvider{},
		OnChange: func(event ChangeEvent) {
			fixture.events = append(fixture.events, event)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Deactivate(context.Background())
	})
	fixture.store = store
	return fixture
}

func mustUserKey(t *testing.T, value string) UserKey {
	t.Helper()
	key, err := NewUserKey(value)
	if err != nil {
		t.Fatalf("unexpected user key error: %v", err)
	}
	return key
}

func mustActivate(t *testing.T, store *Store, value string) {
	t.Helper()
	if err := store.Activate(context.Background(), mustUserKey(t, value)); err != nil {
		t.Fatalf("unexpected activate error: %v", err)
	}
}

func mustAddPlace(t *testing.T, store *Store, candidate Candidate) Place {
	t.Helper()
	place, err := store.AddPlace(candidate)
	if err != nil {
		t.Fatalf("unexpected add place error: %v", err)
	}
	return place
}

func jerusalem() Candidate {
	return Candidate{Name: "Jerusalem", Formatted: "Jerusalem, Israel", Lat: 31.7683, Lon: 35.2137}
}

func validRequest() AccessRequest {
	return AccessRequest{
		FirstName:    "Dana",
		LastName:     "Levi",
		Email:        "dana@example.com",
		SocialHandle: "@dana",
	}
}

var errBoom = errors.New("boom")
