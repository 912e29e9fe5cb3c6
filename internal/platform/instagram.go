package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// InstagramConfig holds the Graph API credentials for publishing Reels to an
// Instagram business account.
type InstagramConfig struct {
	UserID      string
	AccessToken string
	// GraphURL overrides the Graph API base URL, used in tests.
	GraphURL string
	// PollInterval between container status checks; defaults to 3s.
	PollInterval time.Duration
	// MaxPolls bounds how long we wait for the container; defaults to 20.
	MaxPolls int
}

// Instagram publishes Reels through the Graph API container flow: create a
// media container from a public video URL, wait for processing, publish.
// Instagram cannot ingest a raw byte stream, so req.MediaURL must be
// reachable from Meta's fetchers.
type Instagram struct {
	cfg    InstagramConfig
	client *http.Client
}

// NewInstagram creates the Instagram Reels destination.
func NewInstagram(cfg InstagramConfig) *Instagram {
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 20
	}
	return &Instagram{
		cfg:    cfg,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (ig *Instagram) Name() string { return NameInstagram }

func (ig *Instagram) Upload(ctx context.Context, req *Request) (*Result, error) {
	if ig.cfg.UserID == "" || ig.cfg.AccessToken == "" {
		return nil, fmt.Errorf("instagram credentials not configured")
	}
	if req.MediaURL == "" {
		return nil, fmt.Errorf("instagram requires a publicly reachable media URL")
	}

	containerID, err := ig.createContainer(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := ig.awaitContainer(ctx, containerID); err != nil {
		return nil, err
	}
	mediaID, err := ig.publish(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return &Result{
		RemoteID: mediaID,
		URL:      fmt.Sprintf("https://www.instagram.com/reel/%s", mediaID),
	}, nil
}

func (ig *Instagram) createContainer(ctx context.Context, req *Request) (string, error) {
	form := url.Values{
		"media_type":   {"REELS"},
		"video_url":    {req.MediaURL},
		"caption":      {Caption(req.Title, req.Description, req.Tags)},
		"access_token": {ig.cfg.AccessToken},
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := ig.post(ctx, fmt.Sprintf("%s/%s/media", ig.cfg.GraphURL, ig.cfg.UserID), form, &body); err != nil {
		return "", fmt.Errorf("instagram container: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("instagram container: response missing id")
	}
	return body.ID, nil
}

// awaitContainer polls the container until Meta finishes fetching and
// transcoding the video.
func (ig *Instagram) awaitContainer(ctx context.Context, containerID string) error {
	u := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s",
		ig.cfg.GraphURL, containerID, url.QueryEscape(ig.cfg.AccessToken))

	for i := 0; i < ig.cfg.MaxPolls; i++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := ig.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("instagram status: %w", err)
		}

		var body struct {
			StatusCode string `json:"status_code"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("instagram status: decode response: %w", decodeErr)
		}

		switch body.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("instagram container entered state %s", body.StatusCode)
		}

		select {
		case <-time.After(ig.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("instagram container not ready after %d checks", ig.cfg.MaxPolls)
}

func (ig *Instagram) publish(ctx context.Context, containerID string) (string, error) {
	form := url.Values{
		"creation_id":  {containerID},
		"access_token": {ig.cfg.AccessToken},
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := ig.post(ctx, fmt.Sprintf("%s/%s/media_publish", ig.cfg.GraphURL, ig.cfg.UserID), form, &body); err != nil {
		return "", fmt.Errorf("instagram publish: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("instagram publish: response missing id")
	}
	return body.ID, nil
}

func (ig *Instagram) post(ctx context.Context, u string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ig.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return graphErrorf(resp, "request")
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
