package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Reserved keys used by the re-enrichment controller and orchestrator.
const (
	KeyReturnStatus   = "_return_status"
	KeySingleStep     = "_single_step"
	KeyManualOverride = "_manual_override"
	KeyTrigger        = "_trigger"
)

// Doc is the semi-structured payload column of a queue item.
type Doc map[string]any

// Clone returns a shallow copy of the document.
func (d Doc) Clone() Doc {
	if d == nil {
		return Doc{}
	}
	cp := make(Doc, len(d))
	for k, v := range d {
		cp[k] = v
	}
	return cp
}

// String returns the string value under key, or "" when absent or not a string.
func (d Doc) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the boolean value under key, false when absent.
func (d Doc) Bool(key string) bool {
	v, _ := d[key].(bool)
	return v
}

// Int returns the integer value under key. JSON decoding yields float64 for
// numbers, so both forms are accepted.
func (d Doc) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Marshal encodes the document as JSON. A nil document encodes as {}.
func (d Doc) Marshal() (string, error) {
	if d == nil {
		d = Doc{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(raw), nil
}

// Unmarshal decodes a JSON payload column. Empty input yields an empty doc.
func Unmarshal(raw string) (Doc, error) {
	if raw == "" {
		return Doc{}, nil
	}
	var doc Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if doc == nil {
		doc = Doc{}
	}
	return doc, nil
}

type opKind int

const (
	opSet opKind = iota
	opClear
)

type op struct {
	kind  opKind
	key   string
	value any
}

// Patch is an explicit shallow patch: a sequence of set and clear operations.
// It replaces merge-with-null-means-delete semantics so "field absent" and
// "field explicitly cleared" stay distinguishable.
type Patch struct {
	ops []op
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{}
}

// Set records an assignment of value to key.
func (p *Patch) Set(key string, value any) *Patch {
	p.ops = append(p.ops, op{kind: opSet, key: key, value: value})
	return p
}

// SetAll records assignments for every entry of fields.
func (p *Patch) SetAll(fields map[string]any) *Patch {
	for k, v := range fields {
		p.Set(k, v)
	}
	return p
}

// Clear records removal of key.
func (p *Patch) Clear(key string) *Patch {
	p.ops = append(p.ops, op{kind: opClear, key: key})
	return p
}

// IsEmpty reports whether the patch contains no operations.
func (p *Patch) IsEmpty() bool {
	return p == nil || len(p.ops) == 0
}

// Apply returns a new document with the patch applied on top of base.
// Operations apply in recorded order; later operations on the same key win.
func (p *Patch) Apply(base Doc) Doc {
	doc := base.Clone()
	if p == nil {
		return doc
	}
	for _, o := range p.ops {
		switch o.kind {
		case opSet:
			doc[o.key] = o.value
		case opClear:
			delete(doc, o.key)
		}
	}
	return doc
}
