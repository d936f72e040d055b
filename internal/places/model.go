package places

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ApprovalStatus tracks the access workflow of a place in a restricted category.
type ApprovalStatus string

const (
	// ApprovalStatusNone means no access request has been submitted yet.
	ApprovalStatusNone ApprovalStatus = "none"
	// ApprovalStatusPending means an access request is awaiting approval.
	ApprovalStatusPending ApprovalStatus = "pending"
	// ApprovalStatusApproved grants full access to the place details.
	ApprovalStatusApproved ApprovalStatus = "approved"
)

// MemoryType enumerates the supported memory attachments.
type MemoryType string

const (
	MemoryTypeNote  MemoryType = "note"
	MemoryTypeImage MemoryType = "image"
	MemoryTypeFile  MemoryType = "file"
)

// Valid reports whether the memory type is one of the supported values.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeNote, MemoryTypeImage, MemoryTypeFile:
		return true
	default:
		return false
	}
}

const (
	// DefaultCategory is the creation category every session starts with.
	DefaultCategory = "Default"
	// SharedCategory groups places that other users shared with the owner.
	SharedCategory = "Shared"
	// SharedColor is the fixed color of shared places.
	SharedColor = "#e056fd"
	// LoneSoldierCategory requires a military id on access requests.
	LoneSoldierCategory = "Lone Soldier Shabbat Dinners"

	maxUserKeyLength = 190
)

// UserKey identifies the owner of a snapshot.
type UserKey string

// NewUserKey validates raw input and returns a UserKey.
func NewUserKey(rawInput string) (UserKey, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserKey)
	}
	if len(trimmed) > maxUserKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserKey, maxUserKeyLength)
	}
	return UserKey(trimmed), nil
}

// String returns the underlying identifier.
func (key UserKey) String() string {
	return string(key)
}

// SharedUser identifies the user who shared a place.
type SharedUser struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// AccessRequest is an application for access to a place in a restricted category.
type AccessRequest struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	SocialHandle string `json:"socialHandle" validate:"required"`
	MilitaryID   string `json:"militaryId,omitempty"`
	HasAllergies bool   `json:"hasAllergies"`
	Allergies    string `json:"allergies,omitempty" validate:"required_if=HasAllergies true"`
}

// Memory is a note, photo or file attached to a place.
//
// Content is the canonical payload field. Image and file memories carry a
// self-contained data URL there; note memories leave it empty or repeat the text.
type Memory struct {
	ID       string     `json:"id"`
	Type     MemoryType `json:"type"`
	Content  string     `json:"content,omitempty"`
	Text     string     `json:"text,omitempty"`
	FileName string     `json:"fileName,omitempty"`
	Date     string     `json:"date,omitempty"`
}

// HasBinaryContent reports whether the memory carries an inline base64 data URL.
func (m Memory) HasBinaryContent() bool {
	_, _, ok := SplitDataURL(m.Content)
	return ok
}

// memoryWire accepts the current memory shape as well as the legacy field names
// (photo/data for the payload, note for the caption, name for the file name).
type memoryWire struct {
	ID       json.RawMessage `json:"id"`
	Type     MemoryType      `json:"type"`
	Content  string          `json:"content"`
	Photo    string          `json:"photo"`
	Data     string          `json:"data"`
	Text     string          `json:"text"`
	Note     string          `json:"note"`
	FileName string          `json:"fileName"`
	Name     string          `json:"name"`
	Date     string          `json:"date"`
}

// UnmarshalJSON decodes both the current and the legacy memory shapes.
func (m *Memory) UnmarshalJSON(data []byte) error {
	var wire memoryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id, err := decodeFlexibleID(wire.ID)
	if err != nil {
		return err
	}
	*m = Memory{
		ID:       id,
		Type:     wire.Type,
		Content:  firstNonEmpty(wire.Content, wire.Photo, wire.Data),
		Text:     firstNonEmpty(wire.Text, wire.Note),
		FileName: firstNonEmpty(wire.FileName, wire.Name),
		Date:     wire.Date,
	}
	return nil
}

// decodeFlexibleID accepts string ids as well as the numeric ids older clients wrote.
func decodeFlexibleID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return "", err
		}
		return value, nil
	}
	var number json.Number
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&number); err != nil {
		return "", errors.New("places: memory id must be a string or a number")
	}
	return number.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// Place is a saved geographic point with its attachments.
type Place struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Formatted      string          `json:"formatted"`
	Lat            float64         `json:"lat"`
	Lon            float64         `json:"lon"`
	Category       string          `json:"category,omitempty"`
	Color          string          `json:"color,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Memories       []Memory        `json:"memories"`
	Requests       []AccessRequest `json:"requests"`
	ApprovalStatus ApprovalStatus  `json:"approvalStatus,omitempty"`
	IsShared       bool            `json:"isShared,omitempty"`
	SharedBy       *SharedUser     `json:"sharedBy,omitempty"`
}

// Clone returns a deep copy so callers never alias the store's slices.
func (p Place) Clone() Place {
	clone := p
	if p.Memories != nil {
		clone.Memories = append(make([]Memory, 0, len(p.Memories)), p.Memories...)
	}
	if p.Requests != nil {
		clone.Requests = append(make([]AccessRequest, 0, len(p.Requests)), p.Requests...)
	}
	if p.SharedBy != nil {
		sharedBy := *p.SharedBy
		clone.SharedBy = &sharedBy
	}
	return clone
}

// Candidate is a geocoder result offered for saving.
type Candidate struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name" validate:"required_without=Formatted"`
	Formatted string  `json:"formatted" validate:"required_without=Name"`
	Lat       float64 `json:"lat" validate:"latitude"`
	Lon       float64 `json:"lon" validate:"longitude"`
}

// SharedItem is a pin another user shared, as delivered by the share feed.
type SharedItem struct {
	ID        string
	Title     string
	Address   string
	Latitude  float64
	Longitude float64
	Notes     string
	SharedBy  SharedUser
}

// CreationSettings are the category and color stamped onto newly added places.
type CreationSettings struct {
	Category string `json:"category"`
	Color    string `json:"color"`
}

// Snapshot is the persisted state of one user.
type Snapshot struct {
	SavedPlaces []Place  `json:"savedPlaces"`
	Categories  []string `json:"categories"`
}

// Confirmation describes a destructive action awaiting user consent.
type Confirmation struct {
	Title   string
	Message string
}

var (
	confirmDeletePlace  = Confirmation{Title: "Delete Place", Message: "Delete this saved place and all its memories?"}
	confirmDeleteMemory = Confirmation{Title: "Delete Memory", Message: "Delete this memory?"}
	confirmClearAll     = Confirmation{Title: "Clear All Places", Message: "Are you sure you want to clear all saved places?"}
)

// SplitDataURL splits a base64 data URL into its header (everything before the
// comma, e.g. "data:image/jpeg;base64") and its base64 payload.
func SplitDataURL(value string) (string, string, bool) {
	if !strings.HasPrefix(value, "data:") {
		return "", "", false
	}
	header, payload, found := strings.Cut(value, ",")
	if !found || !strings.HasSuffix(header, ";base64") {
		return "", "", false
	}
	return header, payload, true
}
