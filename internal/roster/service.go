// Package roster implements the member management operations exposed to
// trusted callers: adding, removing and listing tracked members, ad-hoc
// lookups and the untagged member report.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/pubsub"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/report"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already registered")
)

// Registry is the subset of *registry.Store the service mutates.
type Registry interface {
	Get(key string) (registry.Record, bool)
	Insert(key string, rec registry.Record) bool
	Delete(key string) bool
	Reset()
	Len() int
	Members() []registry.Member
	Persist(ctx context.Context)
}

// Config configures a Service.
type Config struct {
	Registry     Registry
	Resolver     directory.Resolver
	Profiles     directory.ProfileSource
	AdminIDs     []string
	CommunityTag string
	Publisher    pubsub.Publisher[[]registry.Member]
}

// Service coordinates registry mutations with directory lookups.
// Admin IDs and the community tag can be swapped at runtime.
type Service struct {
	registry  Registry
	resolver  directory.Resolver
	profiles  directory.ProfileSource
	publisher pubsub.Publisher[[]registry.Member]

	admins atomic.Pointer[map[string]struct{}]
	tag    atomic.Pointer[string]
}

// New creates a Service. An empty CommunityTag uses report.DefaultTag.
func New(cfg Config) *Service {
	s := &Service{
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		profiles:  cfg.Profiles,
		publisher: cfg.Publisher,
	}
	s.SetAdmins(cfg.AdminIDs)
	s.SetCommunityTag(cfg.CommunityTag)
	return s
}

// SetAdmins replaces the set of caller IDs allowed to run admin operations.
func (s *Service) SetAdmins(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	s.admins.Store(&set)
}

// IsAdmin reports whether callerID may run admin operations.
func (s *Service) IsAdmin(callerID string) bool {
	if callerID == "" {
		return false
	}
	_, ok := (*s.admins.Load())[callerID]
	return ok
}

// SetCommunityTag replaces the tag used by the untagged report.
func (s *Service) SetCommunityTag(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = report.DefaultTag
	}
	s.tag.Store(&tag)
}

func (s *Service) CommunityTag() string {
	return *s.tag.Load()
}

// Add registers key for ownerRef. The key must resolve in the directory; on
// any failure the registry is left untouched.
func (s *Service) Add(ctx context.Context, key, ownerRef string) (registry.Member, error) {
	if !registry.ValidKey(key) {
		return registry.Member{}, fmt.Errorf("%w: username must be 3-20 letters, digits or underscores", ErrValidation)
	}
	if !registry.ValidOwnerRef(ownerRef) {
		return registry.Member{}, fmt.Errorf("%w: owner reference must be 17-20 digits", ErrValidation)
	}
	if existing, ok := s.registry.Get(key); ok {
		return registry.Member{Key: key, Record: existing}, fmt.Errorf("%w: %s as %s", ErrConflict, key, existing.DisplayName)
	}

	identity, err := s.resolver.Resolve(ctx, key)
	if errors.Is(err, directory.ErrNotFound) || (err == nil && identity.DisplayName == "") {
		return registry.Member{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return registry.Member{}, fmt.Errorf("resolving %s: %w", key, err)
	}

	rec := registry.Record{DisplayName: identity.DisplayName, OwnerRef: ownerRef}
	if !s.registry.Insert(key, rec) {
		existing, _ := s.registry.Get(key)
		return registry.Member{Key: key, Record: existing}, fmt.Errorf("%w: %s as %s", ErrConflict, key, existing.DisplayName)
	}
	s.registry.Persist(ctx)

	log.Info(log.CatRegistry, "member added", "key", key, "displayName", rec.DisplayName)
	return registry.Member{Key: key, Record: rec}, nil
}

// Delete removes key from the registry.
func (s *Service) Delete(ctx context.Context, key string) error {
	if !s.registry.Delete(key) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	s.registry.Persist(ctx)
	log.Info(log.CatRegistry, "member deleted", "key", key)
	return nil
}

// Reset removes every member and returns how many were dropped.
func (s *Service) Reset(ctx context.Context) int {
	n := s.registry.Len()
	s.registry.Reset()
	s.registry.Persist(ctx)
	log.Warn(log.CatRegistry, "registry reset", "removed", n)
	return n
}

// Pages returns the registry sorted by display name in pages of size.
func (s *Service) Pages(size int) []report.Page {
	return report.Pages(s.registry.Members(), size)
}

// Untagged returns the members whose display name lacks the community tag,
// in registry order.
func (s *Service) Untagged() []registry.Member {
	return report.Untagged(s.registry.Members(), s.CommunityTag())
}

// ReportUntagged publishes the current untagged members for rendering.
// Nothing is published when every member carries the tag.
func (s *Service) ReportUntagged() []registry.Member {
	members := s.Untagged()
	if len(members) == 0 {
		return nil
	}
	log.Info(log.CatReconcile, "untagged members found", "tag", s.CommunityTag(), "count", len(members))
	if s.publisher != nil {
		s.publisher.Publish(pubsub.UntaggedEvent, members)
	}
	return members
}

// Lookup fetches a live profile for key without touching the registry.
func (s *Service) Lookup(ctx context.Context, key string) (directory.Profile, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return directory.Profile{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	p, err := s.profiles.Profile(ctx, key)
	if errors.Is(err, directory.ErrNotFound) {
		return directory.Profile{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return directory.Profile{}, fmt.Errorf("looking up %s: %w", key, err)
	}
	return p, nil
}
