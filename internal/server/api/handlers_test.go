package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/oneclickreelsai/studious-system/internal/core"
	"github.com/oneclickreelsai/studious-system/internal/dispatch"
	"github.com/oneclickreelsai/studious-system/internal/platform"
	"github.com/oneclickreelsai/studious-system/internal/server/config"
	"github.com/oneclickreelsai/studious-system/internal/server/service"
	"github.com/oneclickreelsai/studious-system/internal/server/storage"
)

type acceptAllDest struct{ name string }

func (d *acceptAllDest) Name() string { return d.name }

func (d *acceptAllDest) Upload(_ context.Context, _ *platform.Request) (*platform.Result, error) {
	return &platform.Result{RemoteID: "remote", URL: "https://example.com/remote"}, nil
}

func newTestRouter(t *testing.T, adminHash string, dests ...platform.Destination) (*echo.Echo, *service.BatchService) {
	t.Helper()

	cfg := &config.Config{
		BaseURL:           "http://localhost:8080",
		MaxUploadSize:     10 * 1024 * 1024,
		AdminPasswordHash: adminHash,
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
	}

	queue := core.NewQueue()
	store := storage.NewFileSystemStore(t.TempDir())
	if err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("failed to prepare store: %v", err)
	}

	svc := service.NewBatchService(queue, store, nil, cfg)
	if len(dests) == 0 {
		dests = []platform.Destination{&acceptAllDest{name: "youtube"}}
	}
	reg := platform.NewRegistry(dests...)
	disp := dispatch.New(queue, reg, svc, dispatch.NewLimiter(nil), time.Minute)
	svc.Bind(disp, nil)

	return SetupRouter(NewHandler(svc, nil), cfg), svc
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	io.WriteString(fw, content)
	w.Close()
	return &buf, w.FormDataContentType()
}

func uploadClip(t *testing.T, e *echo.Echo, filename string) string {
	t.Helper()
	body, contentType := multipartBody(t, "files", filename, "video-bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/queue/items", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}
	return resp.Items[0].ID
}

func TestQueueEndpoints(t *testing.T) {
	t.Run("upload enqueues a pending item", func(t *testing.T) {
		e, svc := newTestRouter(t, "")
		id := uploadClip(t, e, "my_clip.mp4")

		item, err := svc.GetItem(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if item.Status != core.StatusPending || item.Title != "my clip" {
			t.Errorf("item = %+v", item)
		}
	})

	t.Run("rejects unsupported media", func(t *testing.T) {
		e, _ := newTestRouter(t, "")
		body, contentType := multipartBody(t, "files", "notes.txt", "text")
		req := httptest.NewRequest(http.MethodPost, "/api/queue/items", body)
		req.Header.Set(echo.HeaderContentType, contentType)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", rec.Code)
		}
	})

	t.Run("mid-batch failure reports the items already enqueued", func(t *testing.T) {
		e, svc := newTestRouter(t, "")

		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, name := range []string{"good.mp4", "notes.txt"} {
			fw, err := w.CreateFormFile("files", name)
			if err != nil {
				t.Fatalf("failed to build form: %v", err)
			}
			io.WriteString(fw, "content")
		}
		w.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/queue/items", &buf)
		req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("status = %d, want 415", rec.Code)
		}
		var resp struct {
			Error string `json:"error"`
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Items) != 1 {
			t.Fatalf("response items = %d, want the 1 enqueued before the failure", len(resp.Items))
		}
		if !strings.Contains(resp.Error, "notes.txt") {
			t.Errorf("error %q must name the rejected file", resp.Error)
		}

		item, err := svc.GetItem(resp.Items[0].ID)
		if err != nil {
			t.Fatalf("enqueued item must exist: %v", err)
		}
		if item.Filename != "good.mp4" {
			t.Errorf("filename = %q, want good.mp4", item.Filename)
		}
	})

	t.Run("list returns items and counts", func(t *testing.T) {
		e, _ := newTestRouter(t, "")
		uploadClip(t, e, "a.mp4")
		uploadClip(t, e, "b.mp4")

		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Items  []json.RawMessage `json:"items"`
			Counts core.Counts       `json:"counts"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Items) != 2 || resp.Counts.Pending != 2 {
			t.Errorf("items = %d, counts = %+v", len(resp.Items), resp.Counts)
		}
	})

	t.Run("patch updates pending metadata", func(t *testing.T) {
		e, svc := newTestRouter(t, "")
		id := uploadClip(t, e, "a.mp4")

		req := httptest.NewRequest(http.MethodPatch, "/api/queue/items/"+id,
			strings.NewReader(`{"title":"Better Title"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		item, _ := svc.GetItem(id)
		if item.Title != "Better Title" {
			t.Errorf("title = %q", item.Title)
		}
	})

	t.Run("unknown item is a 404", func(t *testing.T) {
		e, _ := newTestRouter(t, "")
		req := httptest.NewRequest(http.MethodDelete, "/api/queue/items/nope", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDispatchEndpoints(t *testing.T) {
	t.Run("empty destination set is a 422", func(t *testing.T) {
		e, _ := newTestRouter(t, "")
		req := httptest.NewRequest(http.MethodPost, "/api/queue/dispatch",
			strings.NewReader(`{"niche":"comedy"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("unknown destination is a 422", func(t *testing.T) {
		e, _ := newTestRouter(t, "")
		req := httptest.NewRequest(http.MethodPost, "/api/queue/dispatch",
			strings.NewReader(`{"niche":"comedy","destinations":["tiktok"]}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("cancel without a run is a 409", func(t *testing.T) {
		e, _ := newTestRouter(t, "")
		req := httptest.NewRequest(http.MethodPost, "/api/queue/dispatch/cancel", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("dispatch runs the queue to completion", func(t *testing.T) {
		e, svc := newTestRouter(t, "")
		id := uploadClip(t, e, "a.mp4")

		req := httptest.NewRequest(http.MethodPost, "/api/queue/dispatch",
			strings.NewReader(`{"niche":"comedy","destinations":["youtube"]}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}

		deadline := time.Now().Add(5 * time.Second)
		for {
			if st := svc.Status(); !st.Active {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("run did not finish in time")
			}
			time.Sleep(10 * time.Millisecond)
		}

		item, _ := svc.GetItem(id)
		if item.Status != core.StatusSucceeded {
			t.Errorf("status = %s, want succeeded", item.Status)
		}

		req = httptest.NewRequest(http.MethodGet, "/api/queue/dispatch", nil)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		var st service.DispatchStatus
		json.Unmarshal(rec.Body.Bytes(), &st)
		if st.Report == nil || st.Report.Succeeded != 1 {
			t.Errorf("dispatch status = %s", rec.Body.String())
		}
	})
}

// slowDest sleeps before accepting, long enough for the HTTP request that
// started the run to complete first.
type slowDest struct {
	name  string
	delay time.Duration
}

func (d *slowDest) Name() string { return d.name }

func (d *slowDest) Upload(ctx context.Context, _ *platform.Request) (*platform.Result, error) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &platform.Result{RemoteID: "remote", URL: "https://example.com/remote"}, nil
}

// The run must keep uploading after the dispatch request's context ends.
// ServeHTTP alone never cancels the request context, so this goes through a
// real server.
func TestDispatchSurvivesRequestCompletion(t *testing.T) {
	e, svc := newTestRouter(t, "", &slowDest{name: "youtube", delay: 300 * time.Millisecond})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	var ids []string
	for _, name := range []string{"a.mp4", "b.mp4"} {
		ids = append(ids, uploadClip(t, e, name))
	}

	resp, err := srv.Client().Post(srv.URL+"/api/queue/dispatch", "application/json",
		strings.NewReader(`{"niche":"comedy","destinations":["youtube"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if st := svc.Status(); !st.Active && st.Report != nil {
			if st.Report.Succeeded != 2 || st.Report.Pending != 0 {
				t.Fatalf("report = %+v, want 2 succeeded", *st.Report)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish in time")
		}
		time.Sleep(20 * time.Millisecond)
	}

	for _, id := range ids {
		item, _ := svc.GetItem(id)
		if item.Status != core.StatusSucceeded {
			t.Errorf("item status = %s, want succeeded", item.Status)
		}
	}
}

func TestServeMedia(t *testing.T) {
	e, svc := newTestRouter(t, "")
	id := uploadClip(t, e, "a.mp4")
	item, _ := svc.GetItem(id)

	req := httptest.NewRequest(http.MethodGet, "/media/"+item.StorageKey, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "video-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	e, _ := newTestRouter(t, string(hash))

	get := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
		if token != "" {
			req.Header.Set(echo.HeaderAuthorization, fmt.Sprintf("Bearer %s", token))
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := get(""); code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}
	if code := get("wrong"); code != http.StatusForbidden {
		t.Errorf("bad token: status = %d, want 403", code)
	}
	if code := get("hunter2"); code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", code)
	}

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("burst must be granted")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third immediate request must be refused")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("other IPs have their own bucket")
	}
}
