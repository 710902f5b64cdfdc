package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the profile facet fan-out.
const DefaultConcurrency = 4

// maxCandidates bounds one extract_candidates call.
const maxCandidates = 50

// ProfileData is everything read from one profile page.
type ProfileData struct {
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Headline    string      `json:"headline,omitempty"`
	Bio         string      `json:"bio,omitempty"`
	SocialLinks SocialLinks `json:"socialLinks"`
	Emails      []string    `json:"emails,omitempty"`
	Phones      []string    `json:"phones,omitempty"`
}

// Extractor runs read-only queries against the page.
type Extractor struct {
	page        browser.Page
	concurrency int
	logger      *zap.Logger
}

func New(page browser.Page, concurrency int, logger *zap.Logger) *Extractor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Extractor{
		page:        page,
		concurrency: concurrency,
		logger:      observability.OrNop(logger).Named("extract"),
	}
}

type profileLink struct {
	Href     string `json:"href"`
	Personal bool   `json:"personal"`
}

// Candidates returns person records found on the current page.
func (x *Extractor) Candidates(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	if err := x.eval(ctx, &out, candidatesJS, maxCandidates); err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}
	host := ""
	if info, err := x.page.Info(ctx); err == nil {
		if u, err := url.Parse(info.URL); err == nil {
			host = u.Hostname()
		}
	}
	for i := range out {
		out[i].Social.Classify(out[i].ProfileURL, host)
	}
	x.logger.Debug("candidates extracted", zap.Int("count", len(out)))
	return out, nil
}

// Profile gathers the profile facets concurrently. Facets are independent
// and read-only; a failing facet is logged and left empty.
func (x *Extractor) Profile(ctx context.Context) (ProfileData, error) {
	var (
		meta struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		head struct {
			Headline string `json:"headline"`
			Bio      string `json:"bio"`
		}
		contact struct {
			Emails []string `json:"emails"`
			Phones []string `json:"phones"`
		}
		links []profileLink
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	facet := func(name string, dst interface{}, js string) {
		g.Go(func() error {
			if err := x.eval(gctx, dst, js); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				x.logger.Debug("profile facet failed", zap.String("facet", name), zap.Error(err))
			}
			return nil
		})
	}
	facet("meta", &meta, profileMetaJS)
	facet("headline", &head, profileHeadlineJS)
	facet("contact", &contact, profileContactJS)
	facet("links", &links, profileLinksJS)
	if err := g.Wait(); err != nil {
		return ProfileData{}, fmt.Errorf("extract profile: %w", err)
	}

	pd := ProfileData{
		URL:         meta.URL,
		Title:       meta.Title,
		Description: meta.Description,
		Headline:    head.Headline,
		Bio:         head.Bio,
		Emails:      contact.Emails,
		Phones:      contact.Phones,
	}
	if pd.URL == "" {
		if info, err := x.page.Info(ctx); err == nil {
			pd.URL = info.URL
		}
	}

	pageHost := ""
	if u, err := url.Parse(pd.URL); err == nil {
		pageHost = u.Hostname()
	}
	// The page itself counts when it is a social profile.
	pd.SocialLinks.Classify(pd.URL, "")
	for _, l := range links {
		if l.Personal {
			pd.SocialLinks.ClassifyExternal(l.Href, pageHost)
			continue
		}
		pd.SocialLinks.Classify(l.Href, pageHost)
	}
	if pd.SocialLinks.Email == "" && len(pd.Emails) > 0 {
		pd.SocialLinks.Email = pd.Emails[0]
	}
	return pd, nil
}

func (x *Extractor) eval(ctx context.Context, dst interface{}, js string, args ...interface{}) error {
	raw, err := x.page.Eval(ctx, js, args...)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
