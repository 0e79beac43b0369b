package agents_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"curator/internal/agents"
	"curator/internal/agents/llm"
	"curator/internal/blob"
	"curator/internal/config"
	"curator/internal/queue"
)

func newBlobStore(t *testing.T) *blob.DiskStore {
	t.Helper()
	store, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}
	return store
}

func llmClient(t *testing.T, response string) *llm.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return llm.NewClient(config.LLM{APIKey: "test", BaseURL: server.URL, Model: "test-model"})
}

func chatResponse(content string) string {
	escaped := strings.ReplaceAll(content, `"`, `\"`)
	return `{"choices": [{"message": {"content": "` + escaped + `"}}], "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}}`
}

func TestFetcherStoresRawContent(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>Go Design Notes</title></head><body>body text</body></html>"))
	}))
	t.Cleanup(source.Close)

	blobs := newBlobStore(t)
	fetcher := agents.NewFetcher(nil, blobs)

	result, err := fetcher.Run(context.Background(), &queue.Item{URL: source.URL}, agents.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RawRef == "" {
		t.Fatal("expected raw ref")
	}
	if got := result.Fields["title"]; got != "Go Design Notes" {
		t.Fatalf("expected extracted title, got %v", got)
	}
	content, _ := result.Fields["content"].(string)
	if !strings.Contains(content, "body text") {
		t.Fatalf("expected content excerpt, got %q", content)
	}

	exists, err := blobs.Exists(context.Background(), result.RawRef)
	if err != nil || !exists {
		t.Fatalf("expected stored blob: exists=%v err=%v", exists, err)
	}
}

func TestFetcherMarksGoneSourcesUnreachable(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(source.Close)

	fetcher := agents.NewFetcher(nil, newBlobStore(t))
	_, err := fetcher.Run(context.Background(), &queue.Item{URL: source.URL}, agents.Options{})
	if !errors.Is(err, agents.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestFilterParsesVerdict(t *testing.T) {
	client := llmClient(t, chatResponse(`{"relevant": false, "score": 0.2, "reason": "off topic"}`))
	filter := agents.NewFilter(client)

	item := &queue.Item{URL: "https://example.com/a", PayloadJSON: `{"content":"article body","title":"T"}`}
	result, err := filter.Run(context.Background(), item, agents.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Fields["relevant"] != false {
		t.Fatalf("expected relevant=false, got %v", result.Fields["relevant"])
	}
	if result.Fields["rejection_reason"] != "off topic" {
		t.Fatalf("expected rejection reason, got %v", result.Fields["rejection_reason"])
	}
	if result.Usage.TotalTokens != 15 || result.Model != "test-model" {
		t.Fatalf("expected usage accounting, got %#v model %q", result.Usage, result.Model)
	}
}

func TestFilterRequiresContent(t *testing.T) {
	filter := agents.NewFilter(llmClient(t, chatResponse(`{}`)))
	_, err := filter.Run(context.Background(), &queue.Item{PayloadJSON: `{}`}, agents.Options{})
	if err == nil {
		t.Fatal("expected error for missing content")
	}
}

func TestSummarizerUsesPromptOverride(t *testing.T) {
	var sawPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = readJSON(r, &body)
		for _, m := range body.Messages {
			if m.Role == "user" {
				sawPrompt = m.Content
			}
		}
		_, _ = w.Write([]byte(chatResponse(`{"summary": "short and sweet"}`)))
	}))
	t.Cleanup(server.Close)
	client := llm.NewClient(config.LLM{APIKey: "test", BaseURL: server.URL, Model: "test-model"})

	summarizer := agents.NewSummarizer(client)
	item := &queue.Item{PayloadJSON: `{"content":"article body"}`}
	opts := agents.Options{Prompt: &queue.PromptVersion{Template: "Custom: {{content}}"}}

	result, err := summarizer.Run(context.Background(), item, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Fields["summary"] != "short and sweet" {
		t.Fatalf("unexpected summary %v", result.Fields["summary"])
	}
	if sawPrompt != "Custom: article body" {
		t.Fatalf("prompt override not used, got %q", sawPrompt)
	}
}

func TestTaggerNormalizesTags(t *testing.T) {
	client := llmClient(t, chatResponse(`{"tags": ["Go Lang", "go-lang", "  ", "databases", "GO LANG"]}`))
	tagger := agents.NewTagger(client)

	item := &queue.Item{PayloadJSON: `{"content":"article body"}`}
	result, err := tagger.Run(context.Background(), item, agents.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	tags, ok := result.Fields["tags"].([]string)
	if !ok {
		t.Fatalf("expected []string tags, got %T", result.Fields["tags"])
	}
	if len(tags) != 2 || tags[0] != "go-lang" || tags[1] != "databases" {
		t.Fatalf("unexpected tags %v", tags)
	}
}

func TestThumbnailerWritesSibling(t *testing.T) {
	blobs := newBlobStore(t)
	ctx := context.Background()
	rawRef, err := blobs.Put(ctx, []byte("raw content"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	thumbnailer := agents.NewThumbnailer(blobs)
	item := &queue.Item{RawRef: rawRef, PayloadJSON: `{"title":"A Title","summary":"A summary"}`}
	result, err := thumbnailer.Run(ctx, item, agents.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	ref, _ := result.Fields["thumbnail_ref"].(string)
	if !strings.HasPrefix(ref, "thumbs/") {
		t.Fatalf("expected thumbnail ref, got %q", ref)
	}
	data, err := blobs.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !strings.Contains(string(data), "A Title") {
		t.Fatalf("expected title in card, got %q", data)
	}
}

func TestThumbnailerRequiresRawRef(t *testing.T) {
	thumbnailer := agents.NewThumbnailer(newBlobStore(t))
	_, err := thumbnailer.Run(context.Background(), &queue.Item{PayloadJSON: `{}`}, agents.Options{})
	if err == nil {
		t.Fatal("expected error for missing raw ref")
	}
}

func readJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}
