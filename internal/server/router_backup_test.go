package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
)

const photoDataURL = "data:image/jpeg;base64,/9j/4AAQ"

func TestBackupExportImportRoundTrip(t *testing.T) {
	fixture := newAPIFixture(t, apiOptions{})
	place := fixture.addPlace(t, travelerUser, jerusalemCandidate())
	recorder := fixture.do(t, http.MethodPost, "/places/"+place.ID+"/memories", travelerUser, map[string]string{
		"type":    "image",
		"content": photoDataURL,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected photo memory to be created, got %d: %s", recorder.Code, recorder.Body.String())
	}

	exported := fixture.do(t, http.MethodGet, "/backup", travelerUser, nil)
	if exported.Code != http.StatusOK {
		t.Fatalf("expected export to succeed, got %d", exported.Code)
	}
	if got := exported.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := exported.Header().Get("Content-Disposition"); got != `attachment; filename="TravelMaps_Backup_2024-05-01.zip"` {
		t.Fatalf("unexpected content disposition %q", got)
	}
	archive := exported.Body.Bytes()

	if recorder := fixture.do(t, http.MethodDelete, "/places?confirm=true", travelerUser, nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected clear to succeed, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/backup", bytes.NewReader(archive))
	request.Header.Set("Content-Type", "application/zip")
	request.Header.Set("Authorization", "Bearer "+travelerUser)
	imported := httptest.NewRecorder()
	fixture.handler.ServeHTTP(imported, request)
	if imported.Code != http.StatusOK {
		t.Fatalf("expected import to succeed, got %d: %s", imported.Code, imported.Body.String())
	}
	var summary importResponse
	decodeBody(t, imported, &summary)
	if summary.Places != 1 || len(summary.MissingEntries) != 0 {
		t.Fatalf("unexpected import summary: %+v", summary)
	}

	var listed placesResponse
	decodeBody(t, fixture.do(t, http.MethodGet, "/places", travelerUser, nil), &listed)
	if len(listed.Places) != 1 || len(listed.Places[0].Memories) != 1 {
		t.Fatalf("expected restored place with one memory, got %+v", listed.Places)
	}
	if restored := listed.Places[0].Memories[0]; restored.Type != places.MemoryTypeImage || restored.Content != photoDataURL {
		t.Fatalf("unexpected restored memory: %+v", restored)
	}
}

func TestBackupImportAcceptsMultipartUpload(t *testing.T) {
	fixture := newAPIFixture(t, apiOptions{})
	fixture.addPlace(t, travelerUser, telAvivCandidate())
	archive := fixture.do(t, http.MethodGet, "/backup", travelerUser, nil).Body.Bytes()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(backupFormField, "TravelMaps_Backup_2024-05-01.zip")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(archive); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/backup", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+travelerUser)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected multipart import to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestBackupImportRejectsInvalidArchiveWithoutChangingState(t *testing.T) {
	fixture := newAPIFixture(t, apiOptions{})
	fixture.addPlace(t, travelerUser, jerusalemCandidate())

	request := httptest.NewRequest(http.MethodPost, "/backup", bytes.NewReader([]byte("not a zip")))
	request.Header.Set("Content-Type", "application/zip")
	request.Header.Set("Authorization", "Bearer "+travelerUser)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid archive, got %d", recorder.Code)
	}

	var listed placesResponse
	decodeBody(t, fixture.do(t, http.MethodGet, "/places", travelerUser, nil), &listed)
	if len(listed.Places) != 1 {
		t.Fatalf("expected state to be untouched, got %d places", len(listed.Places))
	}
}

func TestBackupImportRejectsEmptyBody(t *testing.T) {
	fixture := newAPIFixture(t, apiOptions{})

	recorder := fixture.do(t, http.MethodPost, "/backup", travelerUser, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty upload, got %d", recorder.Code)
	}
}
