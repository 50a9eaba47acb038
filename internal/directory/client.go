package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/rostersync/internal/clock"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/metrics"
	"github.com/zjrosen/rostersync/internal/tracing"
)

// rateLimitCode is the directory's error code for "too many requests".
const rateLimitCode = 4

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 3 * time.Second
	DefaultTimeout    = 10 * time.Second
)

// Config configures the HTTP client. Zero-valued fields take the defaults
// from DefaultConfig; a negative MaxRetries disables retrying.
type Config struct {
	UsersURL      string
	ThumbnailsURL string
	PresenceURL   string
	FriendsURL    string
	WebURL        string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Tracer     trace.Tracer
	Metrics    *metrics.Metrics
}

// DefaultConfig returns the public directory endpoints and retry policy.
func DefaultConfig() Config {
	return Config{
		UsersURL:      "https://users.roblox.com/v1/usernames/users",
		ThumbnailsURL: "https://thumbnails.roblox.com/v1/users/avatar",
		PresenceURL:   "https://presence.roblox.com/v1/presence/users",
		FriendsURL:    "https://friends.roblox.com/v1/users",
		WebURL:        "https://www.roblox.com",
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
	}
}

// Client is the HTTP implementation of Directory.
type Client struct {
	cfg     Config
	http    *http.Client
	clock   clock.Clock
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

var _ Directory = (*Client)(nil)

func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.UsersURL == "" {
		cfg.UsersURL = def.UsersURL
	}
	if cfg.ThumbnailsURL == "" {
		cfg.ThumbnailsURL = def.ThumbnailsURL
	}
	if cfg.PresenceURL == "" {
		cfg.PresenceURL = def.PresenceURL
	}
	if cfg.FriendsURL == "" {
		cfg.FriendsURL = def.FriendsURL
	}
	if cfg.WebURL == "" {
		cfg.WebURL = def.WebURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		clock:   clock.OrReal(cfg.Clock),
		tracer:  tracing.OrNoop(cfg.Tracer),
		metrics: cfg.Metrics,
	}
}

// Resolve looks up key. A rate-limited attempt is retried up to MaxRetries
// more times, RetryDelay apart; any other failure is returned at once.
func (c *Client) Resolve(ctx context.Context, key string) (Identity, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanResolve,
		trace.WithAttributes(attribute.String(tracing.AttrMemberKey, key)),
	)

	for attempt := 0; ; attempt++ {
		id, err := c.resolveOnce(ctx, key)
		if err == nil {
			tracing.EndSpan(span, nil)
			return id, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			tracing.EndSpan(span, err)
			return Identity{}, err
		}

		span.AddEvent(tracing.EventRateLimited, trace.WithAttributes(attribute.Int(tracing.AttrAttempt, attempt)))
		if attempt >= c.cfg.MaxRetries {
			log.Warn(log.CatDirectory, "rate limit retries exhausted", "key", key, "retries", attempt)
			tracing.EndSpan(span, err)
			return Identity{}, err
		}

		log.Warn(log.CatDirectory, "rate limit hit, retrying", "key", key, "retry", attempt+1, "delay", c.cfg.RetryDelay)
		c.metrics.IncrementDirectoryRetries()
		if serr := c.clock.Sleep(ctx, c.cfg.RetryDelay); serr != nil {
			tracing.EndSpan(span, serr)
			return Identity{}, serr
		}
	}
}

type usersRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usersResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

type thumbnailsResponse struct {
	Data []struct {
		TargetID int64  `json:"targetId"`
		State    string `json:"state"`
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

func (c *Client) resolveOnce(ctx context.Context, key string) (Identity, error) {
	body, err := json.Marshal(usersRequest{Usernames: []string{key}})
	if err != nil {
		return Identity{}, err
	}

	var users usersResponse
	if err := c.do(ctx, "users", http.MethodPost, c.cfg.UsersURL, body, &users); err != nil {
		return Identity{}, err
	}
	if len(users.Data) == 0 {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	u := users.Data[0]
	id := Identity{ID: u.ID, Username: u.Name, DisplayName: u.DisplayName}
	if id.Username == "" {
		id.Username = key
	}

	avatar, err := c.avatar(ctx, u.ID)
	switch {
	case errors.Is(err, ErrRateLimited):
		return Identity{}, err
	case err != nil:
		log.Warn(log.CatDirectory, "avatar lookup failed", "key", key, "error", err)
	default:
		id.AvatarURL = avatar
	}
	return id, nil
}

func (c *Client) avatar(ctx context.Context, userID int64) (string, error) {
	q := url.Values{}
	q.Set("userIds", strconv.FormatInt(userID, 10))
	q.Set("size", "420x420")
	q.Set("format", "Png")
	q.Set("isCircular", "false")

	var thumbs thumbnailsResponse
	if err := c.do(ctx, "thumbnails", http.MethodGet, c.cfg.ThumbnailsURL+"?"+q.Encode(), nil, &thumbs); err != nil {
		return "", err
	}
	if len(thumbs.Data) == 0 {
		return "", errors.New("no thumbnail returned")
	}
	return thumbs.Data[0].ImageURL, nil
}

type errorEnvelope struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// do performs one request and decodes a JSON body into out. Rate limiting,
// signalled by HTTP 429 or a body error code, maps to ErrRateLimited.
func (c *Client) do(ctx context.Context, endpoint, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveDirectoryRequest(endpoint, "error")
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.ObserveDirectoryRequest(endpoint, "error")
		return fmt.Errorf("reading %s response: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || hasRateLimitCode(data) {
		c.metrics.ObserveDirectoryRequest(endpoint, "rate_limited")
		return fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.metrics.ObserveDirectoryRequest(endpoint, "error")
		return fmt.Errorf("%s: unexpected status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.metrics.ObserveDirectoryRequest(endpoint, "error")
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	c.metrics.ObserveDirectoryRequest(endpoint, "ok")
	return nil
}

func hasRateLimitCode(data []byte) bool {
	if !bytes.Contains(data, []byte(`"errors"`)) {
		return false
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	return len(env.Errors) > 0 && env.Errors[0].Code == rateLimitCode
}
