package service

import (
	"context"
	"errors"
	"fmt"

	"parcelchat/internal/domain"
)

// ProfileResolver resolves user profiles from the fast profile cache,
// falling back to the durable store on a miss.
type ProfileResolver struct {
	profiles domain.ProfileCache
	users    domain.UserRepository
}

func NewProfileResolver(profiles domain.ProfileCache, users domain.UserRepository) *ProfileResolver {
	return &ProfileResolver{profiles: profiles, users: users}
}

func (r *ProfileResolver) Resolve(ctx context.Context, userID string) (*domain.User, error) {
	if cached, err := r.profiles.Get(ctx, userID); err == nil && cached != nil {
		return cached, nil
	}
	u, err := r.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", userID, err)
	}
	return u, nil
}

// Participant is the profile shape attached to conversation summaries and
// message payloads.
type Participant struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
}

func toParticipant(u *domain.User) *Participant {
	if u == nil {
		return &Participant{}
	}
	return &Participant{UserID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
