package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Matches reports whether every equality condition holds for f.
// Values are compared by their wire representation, so 12 and json.Number("12") match.
func Matches(f Fields, where []Condition) bool {
	for _, c := range where {
		v, ok := f[c.Field]
		if !ok || !equalValues(v, c.Value) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	ja, err1 := json.Marshal(encodeValue(a))
	jb, err2 := json.Marshal(encodeValue(b))
	return err1 == nil && err2 == nil && string(ja) == string(jb)
}

// Filter returns the documents matching where, in their original order.
func Filter(docs []Document, where []Condition) []Document {
	if len(where) == 0 {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		if Matches(d.Fields, where) {
			out = append(out, d)
		}
	}
	return out
}

// SortDocuments orders docs in place by field. Timestamps, date-like strings
// and numbers compare by value; documents missing the field sort last in
// either direction. Ties keep the order of their ids.
func SortDocuments(docs []Document, field string, descending bool) {
	if field == "" {
		return
	}
	keys := make(map[string]sortKey, len(docs))
	for _, d := range docs {
		keys[d.ID] = keyOf(d.Fields[field])
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := keys[docs[i].ID], keys[docs[j].ID]
		if a.missing != b.missing {
			return b.missing
		}
		if c := a.compare(b); c != 0 {
			if descending {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

type sortKind int

const (
	kindNumber sortKind = iota
	kindTime
	kindString
	kindOther
)

type sortKey struct {
	missing bool
	kind    sortKind
	num     float64
	t       time.Time
	s       string
}

func keyOf(v any) sortKey {
	switch x := v.(type) {
	case nil:
		return sortKey{missing: true}
	case Timestamp:
		return sortKey{kind: kindTime, t: x.ToTime()}
	case time.Time:
		return sortKey{kind: kindTime, t: x}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return sortKey{kind: kindNumber, num: f}
		}
		return sortKey{kind: kindString, s: x.String()}
	case float64:
		return sortKey{kind: kindNumber, num: x}
	case int:
		return sortKey{kind: kindNumber, num: float64(x)}
	case int64:
		return sortKey{kind: kindNumber, num: float64(x)}
	case string:
		if t, ok := parseTimeString(x); ok {
			return sortKey{kind: kindTime, t: t}
		}
		return sortKey{kind: kindString, s: x}
	default:
		return sortKey{kind: kindOther, s: fmt.Sprint(x)}
	}
}

func (a sortKey) compare(b sortKey) int {
	if a.kind != b.kind {
		return int(a.kind) - int(b.kind)
	}
	switch a.kind {
	case kindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	case kindTime:
		return a.t.Compare(b.t)
	default:
		return strings.Compare(a.s, b.s)
	}
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
