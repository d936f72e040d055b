package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
)

func TestEventStreamEmitsPlaceChanges(t *testing.T) {
	fixture := newAPIFixture(t, apiOptions{})
	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+travelerUser)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected stream content type %q", contentType)
	}

	streamReader := bufio.NewReader(streamResp.Body)

	payload, err := json.Marshal(jerusalemCandidate())
	if err != nil {
		t.Fatalf("failed to encode candidate: %v", err)
	}
	addRequest, err := http.NewRequest(http.MethodPost, server.URL+"/places", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to construct add request: %v", err)
	}
	addRequest.Header.Set("Authorization", "Bearer "+travelerUser)
	addRequest.Header.Set("Content-Type", "application/json")
	addResp, err := http.DefaultClient.Do(addRequest)
	if err != nil {
		t.Fatalf("add request failed: %v", err)
	}
	if addResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected add status: %d", addResp.StatusCode)
	}
	var added places.Place
	if err := json.NewDecoder(addResp.Body).Decode(&added); err != nil {
		t.Fatalf("failed to decode add response: %v", err)
	}
	_ = addResp.Body.Close()

	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != string(places.ChangePlaceAdded) {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event realtimePayload
			if err := json.Unmarshal([]byte(dataJSON), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.PlaceID != added.ID {
				t.Fatalf("expected event for %s, got %+v", added.ID, event)
			}
			if event.Source != realtimeSourceBackend {
				t.Fatalf("unexpected event source %q", event.Source)
			}
			return
		}
	}
}
