package agents

import (
	"context"
	"fmt"
	"html"
	"strings"

	"curator/internal/blob"
	"curator/internal/queue"
	"curator/internal/services"
)

// Thumbnailer renders a simple title card for an item and stores it next to
// the raw content. It is the one enrichment step that runs without a model.
type Thumbnailer struct {
	blobs blob.Store
}

func NewThumbnailer(blobs blob.Store) *Thumbnailer {
	return &Thumbnailer{blobs: blobs}
}

func (t *Thumbnailer) Name() string { return "thumbnail" }

func (t *Thumbnailer) Run(ctx context.Context, item *queue.Item, _ Options) (Result, error) {
	if strings.TrimSpace(item.RawRef) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "thumbnail", "input", "item has no raw content ref", nil)
	}
	doc, err := item.Payload()
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "thumbnail", "payload", "decode payload", err)
	}

	title := firstNonEmpty(doc.String("title"), item.Title, item.URL)
	card := renderTitleCard(title, doc.String("summary"))

	ref, err := t.blobs.PutThumbnail(ctx, item.RawRef, []byte(card))
	if err != nil {
		return Result{}, services.Wrap(services.ErrStorage, "thumbnail", "store", "store thumbnail", err)
	}

	return Result{Fields: map[string]any{"thumbnail_ref": ref}}, nil
}

func renderTitleCard(title, summary string) string {
	title = html.EscapeString(truncate(title, 80))
	summary = html.EscapeString(truncate(summary, 140))
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="640" height="360" viewBox="0 0 640 360">`)
	b.WriteString(`<rect width="640" height="360" fill="#1e2430"/>`)
	fmt.Fprintf(&b, `<text x="32" y="96" fill="#f0f2f5" font-family="sans-serif" font-size="28" font-weight="bold">%s</text>`, title)
	if summary != "" {
		fmt.Fprintf(&b, `<text x="32" y="160" fill="#aeb6c2" font-family="sans-serif" font-size="16">%s</text>`, summary)
	}
	b.WriteString(`</svg>`)
	return b.String()
}
