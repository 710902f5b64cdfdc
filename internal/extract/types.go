// Package extract holds the read-only page heuristics behind
// extract_candidates and extract_profile_data.
package extract

import (
	"net/url"
	"strings"
)

// Candidate is one person record found on a listing or search page.
type Candidate struct {
	Name       string      `json:"name"`
	Title      string      `json:"title,omitempty"`
	Location   string      `json:"location,omitempty"`
	ProfileURL string      `json:"profileUrl,omitempty"`
	Username   string      `json:"username,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Social     SocialLinks `json:"socialLinks,omitempty"`
}

// SocialLinks is sparse: any subset of fields may be set.
type SocialLinks struct {
	GitHub    string `json:"github,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Telegram  string `json:"telegram,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	Facebook  string `json:"facebook,omitempty"`
	YouTube   string `json:"youtube,omitempty"`
	Website   string `json:"website,omitempty"`
	Email     string `json:"email,omitempty"`
}

// IsZero reports whether no link is set.
func (s SocialLinks) IsZero() bool {
	return s == SocialLinks{}
}

// Merge fills empty fields of s from o.
func (s SocialLinks) Merge(o SocialLinks) SocialLinks {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return SocialLinks{
		GitHub:    pick(s.GitHub, o.GitHub),
		LinkedIn:  pick(s.LinkedIn, o.LinkedIn),
		Twitter:   pick(s.Twitter, o.Twitter),
		Telegram:  pick(s.Telegram, o.Telegram),
		Instagram: pick(s.Instagram, o.Instagram),
		Facebook:  pick(s.Facebook, o.Facebook),
		YouTube:   pick(s.YouTube, o.YouTube),
		Website:   pick(s.Website, o.Website),
		Email:     pick(s.Email, o.Email),
	}
}

var socialHosts = []struct {
	suffix string
	field  func(*SocialLinks) *string
}{
	{"github.com", func(s *SocialLinks) *string { return &s.GitHub }},
	{"linkedin.com", func(s *SocialLinks) *string { return &s.LinkedIn }},
	{"twitter.com", func(s *SocialLinks) *string { return &s.Twitter }},
	{"x.com", func(s *SocialLinks) *string { return &s.Twitter }},
	{"t.me", func(s *SocialLinks) *string { return &s.Telegram }},
	{"telegram.me", func(s *SocialLinks) *string { return &s.Telegram }},
	{"instagram.com", func(s *SocialLinks) *string { return &s.Instagram }},
	{"facebook.com", func(s *SocialLinks) *string { return &s.Facebook }},
	{"youtube.com", func(s *SocialLinks) *string { return &s.YouTube }},
	{"youtu.be", func(s *SocialLinks) *string { return &s.YouTube }},
}

// Classify files href into the matching SocialLinks field, keeping the first
// value seen per field. Links on pageHost are ignored. Reports whether the
// link was used.
func (s *SocialLinks) Classify(href, pageHost string) bool {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(strings.ToLower(href), "mailto:") {
		addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
		if addr != "" && s.Email == "" {
			s.Email = addr
			return true
		}
		return false
	}

	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" || sameSite(host, pageHost) {
		return false
	}
	if strings.Trim(u.Path, "/") == "" && host != "t.me" {
		// Bare network homepages are site chrome, not a person's account.
		for _, h := range socialHosts {
			if hostMatches(host, h.suffix) {
				return false
			}
		}
	}
	for _, h := range socialHosts {
		if hostMatches(host, h.suffix) {
			f := h.field(s)
			if *f == "" {
				*f = href
				return true
			}
			return false
		}
	}
	return false
}

// ClassifyExternal is Classify for links found on a profile page: an
// off-site http(s) link that is no known network becomes the Website, first
// one wins.
func (s *SocialLinks) ClassifyExternal(href, pageHost string) bool {
	if s.Classify(href, pageHost) {
		return true
	}
	if s.Website != "" || pageHost == "" {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" || sameSite(host, pageHost) {
		return false
	}
	for _, h := range socialHosts {
		if hostMatches(host, h.suffix) {
			return false
		}
	}
	s.Website = strings.TrimSpace(href)
	return true
}

func hostMatches(host, suffix string) bool {
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

func sameSite(host, pageHost string) bool {
	pageHost = strings.TrimPrefix(strings.ToLower(pageHost), "www.")
	return pageHost != "" && hostMatches(host, pageHost)
}
