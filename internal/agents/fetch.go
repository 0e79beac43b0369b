package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/blob"
	"curator/internal/queue"
	"curator/internal/services"
)

const (
	fetchBodyLimit     = 4 << 20
	contentExcerptSize = 20000
	defaultUserAgent   = "curator/1.0"
)

// Fetcher downloads raw content for an item and stores it in the blob
// store. The payload only carries an excerpt for the LLM steps; the full
// body stays behind the raw ref.
type Fetcher struct {
	client *http.Client
	blobs  blob.Store
}

// NewFetcher builds the fetch agent. A nil client gets a sane default.
func NewFetcher(client *http.Client, blobs blob.Store) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, blobs: blobs}
}

func (f *Fetcher) Name() string { return "fetch" }

func (f *Fetcher) Run(ctx context.Context, item *queue.Item, _ Options) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return Result{}, services.Wrap(services.ErrAgent, "fetch", "request", fmt.Sprintf("build request for %s", item.URL), err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, services.Wrap(ErrUnreachable, "fetch", "request", fmt.Sprintf("fetch %s", item.URL), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnauthorized:
		return Result{}, services.Wrap(ErrUnreachable, "fetch", "request",
			fmt.Sprintf("fetch %s: http %d", item.URL, resp.StatusCode), nil)
	default:
		return Result{}, services.Wrap(services.ErrAgent, "fetch", "request",
			fmt.Sprintf("fetch %s: http %d", item.URL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return Result{}, services.Wrap(services.ErrAgent, "fetch", "read", fmt.Sprintf("read %s", item.URL), err)
	}
	if len(body) == 0 {
		return Result{}, services.Wrap(ErrUnreachable, "fetch", "read", fmt.Sprintf("fetch %s: empty body", item.URL), nil)
	}

	ref, err := f.blobs.Put(ctx, body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrStorage, "fetch", "store", "store raw content", err)
	}

	text := string(body)
	fields := map[string]any{
		"content":      truncate(text, contentExcerptSize),
		"content_type": resp.Header.Get("Content-Type"),
	}
	if title := extractTitle(text); title != "" {
		fields["title"] = title
	}

	return Result{Fields: fields, RawRef: ref}, nil
}

func extractTitle(body string) string {
	lower := strings.ToLower(body)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title>")
	if end < 0 {
		return ""
	}
	title := strings.TrimSpace(body[start : start+end])
	return truncate(title, 300)
}
