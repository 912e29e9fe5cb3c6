package platform

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

// YouTubeConfig holds the OAuth2 credentials and upload defaults for the
// YouTube Data API v3.
type YouTubeConfig struct {
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	CategoryID        string
	DefaultLanguage   string
	NotifySubscribers bool
}

// YouTube uploads videos through the Data API v3 with a refresh-token OAuth2
// client. The API service is built lazily on first upload.
type YouTube struct {
	cfg YouTubeConfig

	once    sync.Once
	svc     *youtube.Service
	initErr error
}

// NewYouTube creates the YouTube destination.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	return &YouTube{cfg: cfg}
}

func (y *YouTube) Name() string { return NameYouTube }

func (y *YouTube) service(ctx context.Context) (*youtube.Service, error) {
	y.once.Do(func() {
		if y.cfg.ClientID == "" || y.cfg.ClientSecret == "" || y.cfg.RefreshToken == "" {
			y.initErr = fmt.Errorf("youtube credentials not configured")
			return
		}

		conf := &oauth2.Config{
			ClientID:     y.cfg.ClientID,
			ClientSecret: y.cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{youtube.YoutubeUploadScope},
		}
		token := &oauth2.Token{
			RefreshToken: y.cfg.RefreshToken,
			Expiry:       time.Now().Add(-time.Hour), // force refresh on first use
		}
		client := &http.Client{Transport: &oauth2.Transport{
			Source: conf.TokenSource(context.Background(), token),
		}}

		y.svc, y.initErr = youtube.NewService(ctx, option.WithHTTPClient(client))
	})
	return y.svc, y.initErr
}

// Upload inserts the video with snippet and status metadata. Uploads are
// resumable; the call blocks until the transfer completes or ctx expires.
func (y *YouTube) Upload(ctx context.Context, req *Request) (*Result, error) {
	svc, err := y.service(ctx)
	if err != nil {
		return nil, fmt.Errorf("youtube auth: %w", err)
	}

	title := req.Title
	if len(title) > 100 {
		title = title[:100]
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                title,
			Description:          Caption("", req.Description, req.Tags),
			Tags:                 req.Tags,
			CategoryId:           y.cfg.CategoryID,
			DefaultLanguage:      y.cfg.DefaultLanguage,
			DefaultAudioLanguage: y.cfg.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: privacyStatus(req.Privacy),
		},
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Context(ctx).
		NotifySubscribers(y.cfg.NotifySubscribers)
	call.Media(req.Media)

	uploaded, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("youtube upload: %w", err)
	}

	return &Result{
		RemoteID: uploaded.Id,
		URL:      fmt.Sprintf("https://youtube.com/shorts/%s", uploaded.Id),
	}, nil
}

func privacyStatus(p core.Privacy) string {
	switch p {
	case core.PrivacyPublic:
		return "public"
	case core.PrivacyUnlisted:
		return "unlisted"
	default:
		return "private"
	}
}
