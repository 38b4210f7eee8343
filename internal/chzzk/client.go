// Package chzzk implements the typed client for the Chzzk service API.
package chzzk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Vueroeruco/chzzk-recorder/internal/auth"
	"github.com/Vueroeruco/chzzk-recorder/pkg/httpclient"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.chzzk.naver.com"

// Per-call retry behaviour for the live-detail decision tree.
const (
	liveDetailAttempts = 3
	liveDetailDelay    = 2 * time.Second
	attemptTimeout     = 10 * time.Second
)

// Errors returned by the client.
var (
	// ErrAuthExpired indicates the API rejected the session (401/403).
	ErrAuthExpired = errors.New("chzzk session rejected")

	// errRetryable marks outcomes that warrant another live-detail attempt.
	errRetryable = errors.New("retryable live-detail state")
)

// Client performs typed calls against the Chzzk service API.
type Client struct {
	http    *httpclient.Client
	store   *auth.Store
	baseURL string
	logger  *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Chzzk API client backed by the given auth store.
func NewClient(store *auth.Store) *Client {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = attemptTimeout
	// The decision tree drives its own retry loop; the transport is single-shot.
	cfg.RetryAttempts = 0
	cfg.HeaderFunc = store.Headers

	return &Client{
		http:    httpclient.New(cfg),
		store:   store,
		baseURL: DefaultBaseURL,
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
}

// WithLogger sets a custom logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// GetLiveDetail fetches the current live state of a channel.
//
// A nil LiveDetail with nil error means the channel is definitively offline
// (or unplayable, e.g. adult-flagged without full auth). ErrAuthExpired is
// returned when the session is rejected; other errors are transient and the
// caller should treat the tick as inconclusive.
func (c *Client) GetLiveDetail(ctx context.Context, channelID string) (*LiveDetail, error) {
	url := fmt.Sprintf("%s/service/v1/channels/%s/live-detail", c.baseURL, channelID)

	var lastErr error
	for attempt := 0; attempt < liveDetailAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, liveDetailDelay); err != nil {
				return nil, err
			}
		}

		detail, err := c.fetchLiveDetail(ctx, url, channelID)
		if err == nil {
			return detail, nil
		}
		if !errors.Is(err, errRetryable) {
			return nil, err
		}

		lastErr = err
		c.logger.Debug("live-detail attempt inconclusive, retrying",
			slog.String("channel_id", channelID),
			slog.Int("attempt", attempt+1),
			slog.String("reason", err.Error()),
		)
	}

	return nil, fmt.Errorf("live-detail retries exhausted for %s: %w", channelID, lastErr)
}

// fetchLiveDetail performs one attempt of the live-detail decision tree.
func (c *Client) fetchLiveDetail(ctx context.Context, url, channelID string) (*LiveDetail, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	resp, err := c.http.Get(attemptCtx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", errRetryable, err)
	}

	var envelope liveDetailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// A received-but-unparsable body is not retried.
		return nil, fmt.Errorf("decoding live-detail body: %w", err)
	}

	content := envelope.Content
	if content == nil {
		// Definitive offline.
		return nil, nil
	}

	if content.Adult && !c.store.HasAdultAuth() {
		c.logger.Warn("adult channel requires full authentication, treating as offline",
			slog.String("channel_id", channelID),
		)
		return nil, nil
	}

	if content.LivePlaybackJSON == "" {
		if content.Status == "ENDED" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: livePlaybackJson missing (status %q)", errRetryable, content.Status)
	}

	var playback livePlayback
	if err := json.Unmarshal([]byte(content.LivePlaybackJSON), &playback); err != nil {
		return nil, fmt.Errorf("decoding livePlaybackJson: %w", err)
	}

	var hlsPath string
	for _, media := range playback.Media {
		if strings.EqualFold(media.MediaID, "HLS") {
			hlsPath = media.Path
			break
		}
	}
	if hlsPath == "" {
		return nil, fmt.Errorf("%w: no HLS media entry", errRetryable)
	}

	return &LiveDetail{
		ChannelID:         channelID,
		ChannelName:       content.Channel.ChannelName,
		LiveTitle:         content.LiveTitle,
		VideoID:           playback.Meta.VideoID,
		MasterPlaylistURL: hlsPath,
		Adult:             content.Adult,
	}, nil
}

// GetFollowedChannels lists the session's followed channels.
func (c *Client) GetFollowedChannels(ctx context.Context) ([]FollowedChannel, error) {
	url := c.baseURL + "/service/v1/channels/followings?page=0&size=500&sortType=FOLLOW"

	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching followings: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("followings status %d", resp.StatusCode)
	}

	var envelope followingsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding followings body: %w", err)
	}

	out := make([]FollowedChannel, 0, len(envelope.Content.FollowingList))
	for _, item := range envelope.Content.FollowingList {
		if item.Channel.ChannelID == "" {
			continue
		}
		out = append(out, FollowedChannel{
			ChannelID:   item.Channel.ChannelID,
			ChannelName: item.Channel.ChannelName,
			Live:        item.Streamer.OpenLive,
		})
	}
	return out, nil
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
