package places

import "github.com/google/uuid"

// IDProvider issues identifiers for places, memories and access requests.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
