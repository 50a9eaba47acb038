// Package directory talks to the external identity directory: resolving
// usernames to identities and fetching presence and social counts.
package directory

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the directory reports the username as unknown.
	ErrNotFound = errors.New("identity not found")
	// ErrRateLimited means the directory kept rate limiting after every retry.
	ErrRateLimited = errors.New("directory rate limited")
)

// Identity is a resolved directory account.
type Identity struct {
	ID          int64
	Username    string
	DisplayName string
	AvatarURL   string
}

// PresenceStatus mirrors the directory's presence type codes.
type PresenceStatus int

const (
	StatusOffline PresenceStatus = iota
	StatusOnline
	StatusInStudio
	StatusInGame
)

func (s PresenceStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusInStudio:
		return "in_studio"
	case StatusInGame:
		return "in_game"
	default:
		return "offline"
	}
}

// Presence is what an account is doing right now. PlaceName and JoinURL
// are only set while the account is inside a place.
type Presence struct {
	Status    PresenceStatus
	PlaceName string
	GameID    string
	JoinURL   string
}

// Playing reports whether the account is inside a joinable place.
func (p Presence) Playing() bool {
	return p.JoinURL != ""
}

type SocialCounts struct {
	Friends   int
	Followers int
}

// Profile is the full ad-hoc lookup result for one username.
type Profile struct {
	Key        string
	Identity   Identity
	Presence   Presence
	Counts     SocialCounts
	ProfileURL string
}

// Resolver maps a username to its identity.
type Resolver interface {
	Resolve(ctx context.Context, key string) (Identity, error)
}

// Directory is the full set of directory operations.
type Directory interface {
	Resolver
	Presence(ctx context.Context, id int64) (Presence, error)
	SocialCounts(ctx context.Context, id int64) (SocialCounts, error)
	Profile(ctx context.Context, key string) (Profile, error)
}
