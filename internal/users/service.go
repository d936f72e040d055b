package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/auth"
	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves session claims to the canonical key of a place snapshot.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service. The schema is created by database.OpenSQLite.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveUserKey returns the canonical snapshot key for the session claims,
// recording a new identity mapping the first time a provider+subject pair is seen.
func (s *Service) ResolveUserKey(ctx context.Context, claims auth.SessionClaims) (places.UserKey, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userKey, ok := cached.(places.UserKey); ok {
			return userKey, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserKey:     subject,
			Username:    normalize(claims.Username),
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if username := normalize(claims.Username); username != "" && username != identity.Username {
			updates["username"] = username
		}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		_ = db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	userKey, err := places.NewUserKey(identity.UserKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	s.cache.Store(cacheKey, userKey)
	return userKey, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if before, after, found := strings.Cut(raw, ":"); found && normalize(before) != "" && normalize(after) != "" {
			provider = normalize(before)
			subject = normalize(after)
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
