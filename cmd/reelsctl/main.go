package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

type client struct {
	server   string
	password string
	http     *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	password := flag.String("password", os.Getenv("REELS_PASSWORD"), "admin password (or REELS_PASSWORD)")
	niche := flag.String("niche", "", "content niche for metadata generation")
	privacy := flag.String("privacy", "public", "privacy setting: public, private or unlisted")
	destinations := flag.String("destinations", "", "comma-separated destinations, e.g. youtube,facebook")
	enrich := flag.Bool("enrich", false, "generate missing metadata before dispatch")
	dispatch := flag.Bool("dispatch", false, "dispatch the queue after uploading")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: reelsctl [flags] <video file or directory>...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	files, err := core.CollectVideoFiles(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no video files found")
		os.Exit(1)
	}

	c := &client{
		server:   strings.TrimRight(*server, "/"),
		password: *password,
		http:     &http.Client{Timeout: 10 * time.Minute},
	}

	for _, path := range files {
		if err := c.upload(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error uploading %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("✓ Queued %s\n", filepath.Base(path))
	}

	if *enrich {
		if err := c.post("/api/queue/enrich", map[string]any{"niche": *niche}, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error enriching: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Metadata enriched")
	}

	if !*dispatch {
		fmt.Printf("\n%d item(s) queued. Dispatch with -dispatch -destinations=...\n", len(files))
		return
	}

	body := map[string]any{
		"niche":        *niche,
		"privacy":      *privacy,
		"destinations": splitList(*destinations),
	}
	if err := c.post("/api/queue/dispatch", body, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error dispatching: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Dispatch started...")

	report, err := c.awaitDispatch()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDone: %d succeeded, %d partial, %d failed, %d pending\n",
		report.Succeeded, report.Partial, report.Failed, report.Pending)
	if report.Failed > 0 || report.Partial > 0 {
		os.Exit(1)
	}
}

// upload posts one video file as a multipart form.
func (c *client) upload(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.server+"/api/queue/items", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, nil)
}

// post sends a JSON body and decodes the response into out when non-nil.
func (c *client) post(path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.server+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.server+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	if c.password != "" {
		req.Header.Set("Authorization", "Bearer "+c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// awaitDispatch polls the dispatch status until the run finishes.
func (c *client) awaitDispatch() (core.Counts, error) {
	for {
		var status struct {
			Active bool         `json:"active"`
			Report *core.Counts `json:"report"`
		}
		if err := c.get("/api/queue/dispatch", &status); err != nil {
			return core.Counts{}, err
		}
		if !status.Active {
			if status.Report == nil {
				return core.Counts{}, fmt.Errorf("dispatch finished without a report")
			}
			return *status.Report, nil
		}
		time.Sleep(2 * time.Second)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
