package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/tracing"
)

type presenceResponse struct {
	UserPresenceType int    `json:"userPresenceType"`
	GameID           string `json:"gameId"`
	PlaceName        string `json:"placeName"`
	LastLocation     string `json:"lastLocation"`
}

type countResponse struct {
	Count int `json:"count"`
}

// Presence fetches the current presence of account id.
func (c *Client) Presence(ctx context.Context, id int64) (Presence, error) {
	var resp presenceResponse
	target := c.cfg.PresenceURL + "/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, "presence", http.MethodGet, target, nil, &resp); err != nil {
		return Presence{}, err
	}

	p := Presence{Status: PresenceStatus(resp.UserPresenceType)}
	if p.Status < StatusOffline || p.Status > StatusInGame {
		p.Status = StatusOffline
	}
	if (p.Status == StatusInStudio || p.Status == StatusInGame) && resp.GameID != "" {
		p.GameID = resp.GameID
		p.PlaceName = resp.PlaceName
		if p.PlaceName == "" {
			p.PlaceName = resp.LastLocation
		}
		p.JoinURL = c.cfg.WebURL + "/games/" + resp.GameID
	}
	return p, nil
}

// SocialCounts fetches friend and follower counts. The two lookups are
// independent: a failure in one leaves the other's value intact and the
// failure is reported through the joined error.
func (c *Client) SocialCounts(ctx context.Context, id int64) (SocialCounts, error) {
	var counts SocialCounts
	var friendsErr, followErr error

	var g errgroup.Group
	g.Go(func() error {
		counts.Friends, friendsErr = c.count(ctx, "friends", id)
		return nil
	})
	g.Go(func() error {
		counts.Followers, followErr = c.count(ctx, "followers", id)
		return nil
	})
	_ = g.Wait()

	return counts, errors.Join(friendsErr, followErr)
}

func (c *Client) count(ctx context.Context, kind string, id int64) (int, error) {
	var resp countResponse
	target := fmt.Sprintf("%s/%d/%s/count", c.cfg.FriendsURL, id, kind)
	if err := c.do(ctx, kind, http.MethodGet, target, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Profile resolves key and then gathers presence and social counts
// concurrently. Only the resolution can fail the lookup; supplementary
// failures are logged and leave neutral values (offline, zero counts).
func (c *Client) Profile(ctx context.Context, key string) (Profile, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanProfile,
		trace.WithAttributes(attribute.String(tracing.AttrMemberKey, key)),
	)

	id, err := c.Resolve(ctx, key)
	if err != nil {
		tracing.EndSpan(span, err)
		return Profile{}, err
	}

	prof := Profile{
		Key:        key,
		Identity:   id,
		ProfileURL: fmt.Sprintf("%s/users/%d/profile", c.cfg.WebURL, id.ID),
	}

	var g errgroup.Group
	g.Go(func() error {
		p, err := c.Presence(ctx, id.ID)
		if err != nil {
			log.Warn(log.CatDirectory, "presence lookup failed", "key", key, "error", err)
			return nil
		}
		prof.Presence = p
		return nil
	})
	g.Go(func() error {
		counts, err := c.SocialCounts(ctx, id.ID)
		if err != nil {
			log.Warn(log.CatDirectory, "social count lookup failed", "key", key, "error", err)
		}
		prof.Counts = counts
		return nil
	})
	_ = g.Wait()

	tracing.EndSpan(span, nil)
	return prof, nil
}
