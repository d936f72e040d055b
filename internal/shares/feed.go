package shares

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
)

type sharedItemsResponse struct {
	Pins []sharedPin `json:"pins"`
}

type sharedPin struct {
	Pin      pinPayload        `json:"pin"`
	FromUser userPayload `json:"fromUser"`
}

type userPayload struct {
	ID          flexibleString `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"displayName"`
}

type pinPayload struct {
	ID        flexibleString `json:"id"`
	Title     string         `json:"title"`
	Address   string         `json:"address"`
	Latitude  flexibleFloat  `json:"latitude"`
	Longitude flexibleFloat  `json:"longitude"`
	Notes     string         `json:"notes"`
}

// flexibleString accepts JSON strings and numbers.
type flexibleString string

func (s *flexibleString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*s = flexibleString(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("shares: id must be a string or a number: %w", err)
	}
	*s = flexibleString(number.String())
	return nil
}

// flexibleFloat accepts JSON numbers and numeric strings, as decimal columns are
// often serialized as strings.
type flexibleFloat float64

func (f *flexibleFloat) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = 0
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("shares: invalid coordinate %q: %w", value, err)
		}
		*f = flexibleFloat(parsed)
		return nil
	}
	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return err
	}
	*f = flexibleFloat(value)
	return nil
}

// SharedItems fetches the pins other users shared with the token's owner.
func (c *Client) SharedItems(ctx context.Context, token string) ([]places.SharedItem, error) {
	payload, err := c.call(ctx, http.MethodGet, "/share/items", token, nil)
	if err != nil {
		return nil, err
	}
	var response sharedItemsResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("shares: decode shared items: %w", err)
	}
	items := make([]places.SharedItem, 0, len(response.Pins))
	for _, entry := range response.Pins {
		if entry.Pin.ID == "" {
			continue
		}
		items = append(items, places.SharedItem{
			ID:        string(entry.Pin.ID),
			Title:     entry.Pin.Title,
			Address:   entry.Pin.Address,
			Latitude:  float64(entry.Pin.Latitude),
			Longitude: float64(entry.Pin.Longitude),
			Notes:     entry.Pin.Notes,
			SharedBy: places.SharedUser{
				ID:          string(entry.FromUser.ID),
				Username:    entry.FromUser.Username,
				DisplayName: entry.FromUser.DisplayName,
			},
		})
	}
	return items, nil
}

// Feed binds the client to one user's token so it can serve as a places.ShareFeed.
type Feed struct {
	client *Client
	token  string
}

// Feed returns a places.ShareFeed for the given bearer token.
func (c *Client) Feed(token string) *Feed {
	return &Feed{client: c, token: token}
}

// FetchSharedItems implements places.ShareFeed.
func (f *Feed) FetchSharedItems(ctx context.Context) ([]places.SharedItem, error) {
	items, err := f.client.SharedItems(ctx, f.token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", places.ErrRemoteFetchFailed, err)
	}
	return items, nil
}
