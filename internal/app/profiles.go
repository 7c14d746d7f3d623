package app

import (
	"context"
	"fmt"
	"time"

	"unirate/internal/domain"
)

// ProfileService reads the unlimited-access flag through a cache.
type ProfileService struct {
	repo     domain.ProfileRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewProfileService(r domain.ProfileRepository, c domain.Cache, ttl time.Duration) *ProfileService {
	return &ProfileService{repo: r, cache: c, cacheTTL: ttl}
}

func profileKey(userID string) string { return fmt.Sprintf("profile:%s:unlimited", userID) }

func (s *ProfileService) HasUnlimitedAccess(ctx context.Context, userID string) (bool, error) {
	key := profileKey(userID)
	var unlimited bool
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &unlimited); ok {
			return unlimited, nil
		}
	}
	unlimited, err := s.repo.HasUnlimitedAccess(ctx, userID)
	if err != nil {
		return false, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, unlimited, int(s.cacheTTL.Seconds()))
	}
	return unlimited, nil
}

// SetUnlimitedAccess writes the flag and drops the cached copy.
func (s *ProfileService) SetUnlimitedAccess(ctx context.Context, userID string, unlimited bool) error {
	if err := s.repo.SetUnlimitedAccess(ctx, userID, unlimited); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, profileKey(userID))
	}
	return nil
}
