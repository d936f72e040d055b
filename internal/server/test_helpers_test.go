package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/auth"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/backup"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/metrics"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	expiredTokenUser = "expired"
	invalidTokenUser = "forged"
	unknownIdentity  = "nobody"
)

var fixedNow = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

// stubSessionValidator treats the bearer token as the user id.
type stubSessionValidator struct{}

func (stubSessionValidator) ValidateRequest(r *http.Request) (auth.Session, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	switch token {
	case "":
		return auth.Session{}, auth.ErrMissingSessionToken
	case expiredTokenUser:
		return auth.Session{}, auth.ErrExpiredSessionToken
	case invalidTokenUser:
		return auth.Session{}, auth.ErrInvalidSessionToken
	}
	return auth.Session{
		Claims: auth.SessionClaims{UserID: token, Username: token + "-name"},
		Token:  token,
	}, nil
}

type stubIdentityResolver struct{}

func (stubIdentityResolver) ResolveUserKey(_ context.Context, claims auth.SessionClaims) (places.UserKey, error) {
	if claims.UserID == unknownIdentity {
		return "", errors.New("identity unavailable")
	}
	return places.UserKey("key-" + claims.UserID), nil
}

type memorySnapshotStore struct {
	mu     sync.Mutex
	stored map[places.UserKey]places.Snapshot
	saves  int
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{stored: make(map[places.UserKey]places.Snapshot)}
}

func (s *memorySnapshotStore) Load(_ context.Context, userKey places.UserKey) (places.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.stored[userKey]
	return snapshot, ok, nil
}

func (s *memorySnapshotStore) Save(_ context.Context, userKey places.UserKey, snapshot places.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[userKey] = snapshot
	s.saves++
	return nil
}

func (s *memorySnapshotStore) snapshot(userKey places.UserKey) (places.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.stored[userKey]
	return snapshot, ok
}

type shareCall struct {
	Method  string
	Token   string
	Target  string
	UserIDs []string
	Payload any
}

type stubShareGateway struct {
	mu       sync.Mutex
	calls    []shareCall
	response json.RawMessage
	err      error
}

func (s *stubShareGateway) record(call shareCall) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.response, s.err
}

func (s *stubShareGateway) recorded() []shareCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shareCall(nil), s.calls...)
}

func (s *stubShareGateway) SharePin(_ context.Context, token, pinID string, toUserIDs []string, pinData any) (json.RawMessage, error) {
	return s.record(shareCall{Method: "SharePin", Token: token, Target: pinID, UserIDs: toUserIDs, Payload: pinData})
}

func (s *stubShareGateway) ShareCategory(_ context.Context, token, categoryID string, toUserIDs []string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "ShareCategory", Token: token, Target: categoryID, UserIDs: toUserIDs})
}

func (s *stubShareGateway) SearchUsers(_ context.Context, token, query string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "SearchUsers", Token: token, Target: query})
}

func (s *stubShareGateway) SendFriendRequest(_ context.Context, token, friendID string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "SendFriendRequest", Token: token, Target: friendID})
}

func (s *stubShareGateway) AcceptFriendRequest(_ context.Context, token, friendshipID string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "AcceptFriendRequest", Token: token, Target: friendshipID})
}

func (s *stubShareGateway) RejectFriendRequest(_ context.Context, token, friendshipID string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "RejectFriendRequest", Token: token, Target: friendshipID})
}

func (s *stubShareGateway) RemoveFriend(_ context.Context, token, friendshipID string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "RemoveFriend", Token: token, Target: friendshipID})
}

func (s *stubShareGateway) Friends(_ context.Context, token string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "Friends", Token: token})
}

func (s *stubShareGateway) PendingRequests(_ context.Context, token string) (json.RawMessage, error) {
	return s.record(shareCall{Method: "PendingRequests", Token: token})
}

type apiFixture struct {
	handler    http.Handler
	snapshots  *memorySnapshotStore
	sessions   *SessionManager
	dispatcher *RealtimeDispatcher
	shares     *stubShareGateway
	metrics    *metrics.Collector
}

type apiOptions struct {
	withoutShares bool
	logger        *zap.Logger
}

func newAPIFixture(t *testing.T, options apiOptions) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := func() time.Time { return fixedNow }
	snapshots := newMemorySnapshotStore()
	dispatcher := NewRealtimeDispatcher()
	collector := metrics.NewCollector()

	sessions, err := NewSessionManager(SessionManagerConfig{
		Snapshots:  snapshots,
		Codec:      backup.NewCodec(),
		SaveDelay:  time.Hour,
		Dispatcher: dispatcher,
		Observer:   collector,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct session manager: %v", err)
	}
	t.Cleanup(func() {
		_ = sessions.Close(context.Background())
	})

	fixture := &apiFixture{
		snapshots:  snapshots,
		sessions:   sessions,
		dispatcher: dispatcher,
		metrics:    collector,
	}
	deps := Dependencies{
		Validator:         stubSessionValidator{},
		Identities:        stubIdentityResolver{},
		Sessions:          sessions,
		Dispatcher:        dispatcher,
		Metrics:           collector,
		HeartbeatInterval: 50 * time.Millisecond,
		Clock:             clock,
		Logger:            logger,
	}
	if !options.withoutShares {
		fixture.shares = &stubShareGateway{response: json.RawMessage(`{"ok":true}`)}
		deps.Shares = fixture.shares
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	fixture.handler = handler
	return fixture
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		request.Header.Set("Authorization", "Bearer "+user)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *apiFixture) addPlace(t *testing.T, user string, candidate places.Candidate) places.Place {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/places", user, candidate)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected place to be created, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var place places.Place
	decodeBody(t, recorder, &place)
	return place
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func jerusalemCandidate() places.Candidate {
	return places.Candidate{Name: "Jerusalem", Formatted: "Jerusalem, Israel", Lat: 31.7683, Lon: 35.2137}
}

func telAvivCandidate() places.Candidate {
	return places.Candidate{Name: "Tel Aviv", Formatted: "Tel Aviv-Yafo, Israel", Lat: 32.0853, Lon: 34.7818}
}
