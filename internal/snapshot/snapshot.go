// Package snapshot compresses a live page into a bounded list of interactive
// elements and keeps the versioned ref map used to address them.
package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxElements bounds one snapshot.
	DefaultMaxElements = 150
	// MaxTextLen caps element labels, in runes.
	MaxTextLen = 100
	// MaxHrefLen caps link targets, in runes.
	MaxHrefLen = 200
	// rawCandidateLimit bounds what the page script reports before filtering.
	rawCandidateLimit = 3000
)

// ElementType is the closed set of element categories.
type ElementType string

const (
	TypeLink     ElementType = "link"
	TypeButton   ElementType = "button"
	TypeInput    ElementType = "input"
	TypeTextarea ElementType = "textarea"
	TypeSelect   ElementType = "select"
)

// RefPrefix returns the ref prefix for t.
func (t ElementType) RefPrefix() string {
	if t == TypeButton {
		return "btn"
	}
	return string(t)
}

// Element describes one interactive node, valid for one snapshot only.
type Element struct {
	Ref      string      `json:"ref"`
	Type     ElementType `json:"type"`
	Text     string      `json:"text"`
	Selector string      `json:"selector"`
	Href     string      `json:"href,omitempty"`
}

// PageContext is one snapshot of the page.
type PageContext struct {
	Version  uint64    `json:"version"`
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
}

// Render formats the context as one line per element, the form the model reads.
func (pc PageContext) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\nTitle: %s\nSnapshot: v%d (%d elements)\n", pc.URL, pc.Title, pc.Version, len(pc.Elements))
	for _, el := range pc.Elements {
		fmt.Fprintf(&sb, "[%s] %s %q", el.Ref, el.Type, el.Text)
		if el.Href != "" {
			fmt.Fprintf(&sb, " -> %s", el.Href)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Candidate is the raw fact record the page script reports per node.
type Candidate struct {
	Kind        string  `json:"kind"`
	Tag         string  `json:"tag"`
	ID          string  `json:"id"`
	TestIDAttr  string  `json:"test_id_attr"`
	TestID      string  `json:"test_id"`
	AriaLabel   string  `json:"aria_label"`
	Placeholder string  `json:"placeholder"`
	Name        string  `json:"name"`
	InputType   string  `json:"input_type"`
	Value       string  `json:"value"`
	Text        string  `json:"text"`
	Href        string  `json:"href"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Display     string  `json:"display"`
	Visibility  string  `json:"visibility"`
	Opacity     string  `json:"opacity"`
	Path        string  `json:"path"`
}

// Visible applies the box and computed-style filter.
func (c Candidate) Visible() bool {
	if c.Width <= 0 || c.Height <= 0 {
		return false
	}
	if c.Display == "none" || c.Visibility == "hidden" || c.Visibility == "collapse" {
		return false
	}
	if op, err := strconv.ParseFloat(strings.TrimSpace(c.Opacity), 64); err == nil && op <= 0 {
		return false
	}
	return true
}

// Type maps the script's kind onto ElementType.
func (c Candidate) Type() (ElementType, bool) {
	switch ElementType(c.Kind) {
	case TypeLink, TypeButton, TypeInput, TypeTextarea, TypeSelect:
		return ElementType(c.Kind), true
	}
	return "", false
}

// Selector picks the most robust addressing expression available:
// id, then test id, then aria-label, then the structural path.
func (c Candidate) Selector() string {
	if c.ID != "" {
		return idSelector(c.ID)
	}
	if c.TestID != "" {
		attr := c.TestIDAttr
		if attr == "" {
			attr = "data-testid"
		}
		return fmt.Sprintf(`[%s="%s"]`, attr, escapeAttributeValue(c.TestID))
	}
	if c.AriaLabel != "" {
		return fmt.Sprintf(`%s[aria-label="%s"]`, c.Tag, escapeAttributeValue(c.AriaLabel))
	}
	return c.Path
}

// Label derives the visible label with per-type fallbacks.
func (c Candidate) Label(t ElementType) string {
	var chain []string
	switch t {
	case TypeLink:
		chain = []string{c.Text, c.AriaLabel}
	case TypeButton:
		chain = []string{c.Text, c.AriaLabel, c.Value}
	case TypeInput, TypeTextarea:
		chain = []string{c.Text, c.Placeholder, c.AriaLabel, c.Name, c.InputType}
	case TypeSelect:
		chain = []string{c.AriaLabel, c.Name, c.Text}
	}
	for _, s := range chain {
		if v := truncate(collapseSpace(s), MaxTextLen); v != "" {
			return v
		}
	}
	return ""
}

type signature struct {
	typ  ElementType
	text string
	href string
}

// Build turns raw candidates into the element list: visibility filter,
// selector and text derivation, dedupe on (type, text, href) keeping the
// first occurrence, truncation to max, then per-category refs from 1.
func Build(cands []Candidate, max int) []Element {
	if max <= 0 {
		max = DefaultMaxElements
	}
	seen := make(map[signature]struct{}, len(cands))
	counters := make(map[ElementType]int, 5)
	out := make([]Element, 0, min(len(cands), max))

	for _, c := range cands {
		if len(out) >= max {
			break
		}
		t, ok := c.Type()
		if !ok || !c.Visible() {
			continue
		}
		selector := c.Selector()
		if selector == "" {
			continue
		}
		el := Element{
			Type:     t,
			Text:     c.Label(t),
			Selector: selector,
		}
		if t == TypeLink {
			el.Href = truncate(strings.TrimSpace(c.Href), MaxHrefLen)
		}
		sig := signature{typ: el.Type, text: el.Text, href: el.Href}
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, el)
	}

	for i := range out {
		counters[out[i].Type]++
		out[i].Ref = fmt.Sprintf("%s_%d", out[i].Type.RefPrefix(), counters[out[i].Type])
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func idSelector(id string) string {
	r, _ := utf8.DecodeRuneInString(id)
	if unicode.IsDigit(r) || r == '-' {
		return fmt.Sprintf(`[id="%s"]`, escapeAttributeValue(id))
	}
	return "#" + escapeCSSIdent(id)
}

func escapeAttributeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func escapeCSSIdent(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '/', '.', ':', '[', ']', '(', ')', '#', '>', '+', '~', '=', '^', '$', '*', '|', '!', '@', '%', '&', '\'', '"', '`', '{', '}', ' ', ',', ';', '?', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
