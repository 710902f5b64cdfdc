package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/executor"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/snapshot"
)

// Browser tool names.
const (
	Navigate           = "navigate"
	Click              = "click"
	TypeText           = "type_text"
	Scroll             = "scroll"
	GetPageContext     = "get_page_context"
	ExtractCandidates  = "extract_candidates"
	ExtractProfileData = "extract_profile_data"
)

type NavigateArgs struct {
	URL string `json:"url"`
}

type ClickArgs struct {
	Ref      string `json:"ref"`
	Snapshot uint64 `json:"snapshot,omitempty"`
}

type TypeTextArgs struct {
	Ref        string `json:"ref"`
	Text       string `json:"text"`
	PressEnter bool   `json:"pressEnter"`
	Snapshot   uint64 `json:"snapshot,omitempty"`
}

type ScrollArgs struct {
	Direction string `json:"direction"`
}

func (a ScrollArgs) Validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Direction)) {
	case "up", "down":
		return nil
	}
	return fmt.Errorf("direction must be \"up\" or \"down\", got %q", a.Direction)
}

// snapshotParam lets the model pin a ref to the get_page_context version it came from.
var snapshotParam = Param{
	Name:        "snapshot",
	Type:        Integer,
	Description: "Optional version from get_page_context; the action fails if the page was re-snapshotted since",
}

// NoArgs is the argument type of parameterless tools.
type NoArgs struct{}

// Browser bundles the page-facing collaborators behind the browser tools.
type Browser struct {
	Executor   *executor.Executor
	Compressor *snapshot.Compressor
	Extractor  *extract.Extractor
}

// Register adds the named browser tools to t, all of them when names is empty.
func (b Browser) Register(t *Table, names ...string) error {
	if len(names) == 0 {
		names = []string{Navigate, Click, TypeText, Scroll, GetPageContext, ExtractCandidates, ExtractProfileData}
	}
	for _, name := range names {
		switch name {
		case Navigate:
			Register(t, Spec{
				Name:        Navigate,
				Description: "Open a URL in the browser. A missing scheme defaults to https://. Invalidates all element refs.",
				Params:      []Param{{Name: "url", Type: String, Description: "Absolute URL or host/path", Required: true}},
			}, func(ctx context.Context, a NavigateArgs) envelope.Result {
				return b.Executor.Navigate(ctx, a.URL)
			})
		case Click:
			Register(t, Spec{
				Name:        Click,
				Description: "Click an element by its ref from the latest get_page_context.",
				Params: []Param{
					{Name: "ref", Type: String, Description: "Element ref such as btn_3 or link_12", Required: true},
					snapshotParam,
				},
			}, func(ctx context.Context, a ClickArgs) envelope.Result {
				return b.Executor.ClickAt(ctx, a.Snapshot, a.Ref)
			})
		case TypeText:
			Register(t, Spec{
				Name:        TypeText,
				Description: "Replace the content of an input or textarea, optionally pressing Enter afterwards.",
				Params: []Param{
					{Name: "ref", Type: String, Description: "Input or textarea ref", Required: true},
					{Name: "text", Type: String, Description: "Text to type", Required: true},
					{Name: "pressEnter", Type: Boolean, Description: "Submit with Enter after typing"},
					snapshotParam,
				},
			}, func(ctx context.Context, a TypeTextArgs) envelope.Result {
				return b.Executor.TypeTextAt(ctx, a.Snapshot, a.Ref, a.Text, a.PressEnter)
			})
		case Scroll:
			Register(t, Spec{
				Name:        Scroll,
				Description: "Scroll the page one step up or down.",
				Params:      []Param{{Name: "direction", Type: String, Enum: []string{"up", "down"}, Required: true}},
			}, func(ctx context.Context, a ScrollArgs) envelope.Result {
				return b.Executor.Scroll(ctx, a.Direction)
			})
		case GetPageContext:
			Register(t, Spec{
				Name:        GetPageContext,
				Description: "Snapshot the current page: URL, title and up to 150 interactive elements with refs. Refs from earlier snapshots stop working.",
			}, func(ctx context.Context, _ NoArgs) envelope.Result {
				pc, err := b.Compressor.Capture(ctx)
				if err != nil {
					return envelope.Fail("Could not read page: %v", err)
				}
				return envelope.OK(pc)
			})
		case ExtractCandidates:
			Register(t, Spec{
				Name:        ExtractCandidates,
				Description: "Heuristically extract person records (name, title, profile URL) from the current listing page.",
			}, func(ctx context.Context, _ NoArgs) envelope.Result {
				cands, err := b.Extractor.Candidates(ctx)
				if err != nil {
					return envelope.Fail("Candidate extraction failed: %v", err)
				}
				return envelope.OK(map[string]interface{}{"candidates": cands, "count": len(cands)})
			})
		case ExtractProfileData:
			Register(t, Spec{
				Name:        ExtractProfileData,
				Description: "Read headline, bio, contacts and social links from the current profile page.",
			}, func(ctx context.Context, _ NoArgs) envelope.Result {
				pd, err := b.Extractor.Profile(ctx)
				if err != nil {
					return envelope.Fail("Profile extraction failed: %v", err)
				}
				return envelope.OK(pd)
			})
		default:
			return fmt.Errorf("%w %q", ErrUnknownTool, name)
		}
	}
	return nil
}
