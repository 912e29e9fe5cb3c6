package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

const defaultGraphURL = "https://graph.facebook.com/v20.0"

// FacebookConfig holds the Graph API credentials for posting Reels to a page.
type FacebookConfig struct {
	PageID      string
	AccessToken string
	// GraphURL overrides the Graph API base URL, used in tests.
	GraphURL string
}

// Facebook posts Reels to a page via the Graph API three-phase upload:
// start, binary transfer, finish.
type Facebook struct {
	cfg    FacebookConfig
	client *http.Client
}

// NewFacebook creates the Facebook Reels destination.
func NewFacebook(cfg FacebookConfig) *Facebook {
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	return &Facebook{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (f *Facebook) Name() string { return NameFacebook }

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Upload pushes the reel and publishes it. A user token is exchanged for a
// page token first when possible; a failed exchange falls back to the
// configured token.
func (f *Facebook) Upload(ctx context.Context, req *Request) (*Result, error) {
	if f.cfg.PageID == "" || f.cfg.AccessToken == "" {
		return nil, fmt.Errorf("facebook credentials not configured")
	}

	token := f.pageToken(ctx)

	// Phase 1: initialize the upload session.
	videoID, uploadURL, err := f.startUpload(ctx, token)
	if err != nil {
		return nil, err
	}

	// Phase 2: transfer the binary.
	if err := f.transfer(ctx, uploadURL, token, req); err != nil {
		return nil, err
	}

	// Phase 3: finish and publish.
	if err := f.finish(ctx, token, videoID, req); err != nil {
		return nil, err
	}

	return &Result{
		RemoteID: videoID,
		URL:      fmt.Sprintf("https://www.facebook.com/reel/%s", videoID),
	}, nil
}

// pageToken exchanges a user token for a page access token. Best-effort: the
// Graph API rejects reel posts made with a plain user token (error 100/33).
func (f *Facebook) pageToken(ctx context.Context) string {
	u := fmt.Sprintf("%s/%s?fields=access_token&access_token=%s",
		f.cfg.GraphURL, f.cfg.PageID, url.QueryEscape(f.cfg.AccessToken))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return f.cfg.AccessToken
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		slog.Warn("facebook page token exchange failed", "error", err)
		return f.cfg.AccessToken
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil || body.AccessToken == "" {
		slog.Warn("facebook page token exchange returned no token", "status", resp.StatusCode)
		return f.cfg.AccessToken
	}
	return body.AccessToken
}

func (f *Facebook) startUpload(ctx context.Context, token string) (videoID, uploadURL string, err error) {
	form := url.Values{
		"upload_phase": {"start"},
		"access_token": {token},
	}
	u := fmt.Sprintf("%s/%s/video_reels", f.cfg.GraphURL, f.cfg.PageID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("facebook init: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", graphErrorf(resp, "facebook init")
	}

	var body struct {
		VideoID   string `json:"video_id"`
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("facebook init: decode response: %w", err)
	}
	if body.VideoID == "" || body.UploadURL == "" {
		return "", "", fmt.Errorf("facebook init: response missing video_id or upload_url")
	}
	return body.VideoID, body.UploadURL, nil
}

func (f *Facebook) transfer(ctx context.Context, uploadURL, token string, req *Request) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, req.Media)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "OAuth "+token)
	httpReq.Header.Set("offset", "0")
	httpReq.Header.Set("file_size", strconv.FormatInt(req.Size, 10))
	httpReq.ContentLength = req.Size

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facebook transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return graphErrorf(resp, "facebook transfer")
	}
	return nil
}

func (f *Facebook) finish(ctx context.Context, token, videoID string, req *Request) error {
	state := "PUBLISHED"
	if req.Privacy != core.PrivacyPublic {
		// Reels have no unlisted mode; anything non-public stays a draft.
		state = "DRAFT"
	}

	form := url.Values{
		"upload_phase": {"finish"},
		"access_token": {token},
		"video_id":     {videoID},
		"video_state":  {state},
		"description":  {Caption(req.Title, req.Description, req.Tags)},
	}
	u := fmt.Sprintf("%s/%s/video_reels", f.cfg.GraphURL, f.cfg.PageID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facebook finish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return graphErrorf(resp, "facebook finish")
	}
	return nil
}

// graphErrorf extracts the Graph API error message from a non-200 response.
func graphErrorf(resp *http.Response, phase string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ge graphError
	if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
		return fmt.Errorf("%s: graph error %d: %s", phase, ge.Error.Code, ge.Error.Message)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", phase, resp.StatusCode, strings.TrimSpace(string(raw)))
}
