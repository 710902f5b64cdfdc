package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"

	"go.uber.org/zap"
)

// CompleteScan ends a profile scan.
const CompleteScan = "complete_scan"

// ScannerLoopName labels the sub-agent in logs, traces and metrics.
const ScannerLoopName = "profile_scan"

// ProfileScanResult is the sub-agent's final output.
type ProfileScanResult struct {
	Success        bool                   `json:"success"`
	SourceURL      string                 `json:"sourceUrl"`
	SocialLinks    extract.SocialLinks    `json:"socialLinks"`
	Summary        string                 `json:"tldrSummary"`
	AdditionalData map[string]interface{} `json:"additionalData,omitempty"`
	// Fallback is set when the result came from direct extraction after the
	// budget ran out.
	Fallback   bool `json:"fallback,omitempty"`
	Iterations int  `json:"iterations"`
}

// CompleteScanArgs is the argument shape of complete_scan.
type CompleteScanArgs struct {
	SocialLinks    extract.SocialLinks    `json:"socialLinks"`
	TldrSummary    string                 `json:"tldrSummary"`
	AdditionalData map[string]interface{} `json:"additionalData,omitempty"`
}

// Scanner runs the profile sub-agent on the shared browser.
type Scanner struct {
	model         llm.Proposer
	browser       tools.Browser
	maxIterations int
	timing        loopTiming
	logger        *zap.Logger
	metrics       Metrics
}

type loopTiming struct {
	reflection time.Duration
	errorPause time.Duration
}

func (s *Scanner) table() (*tools.Table, error) {
	tbl := tools.NewTable(s.logger)
	tbl.SetObserver(s.metrics)
	if err := s.browser.Register(tbl, tools.GetPageContext, tools.Click, tools.Scroll, tools.ExtractProfileData); err != nil {
		return nil, err
	}
	tools.Register(tbl, tools.Spec{
		Name:        CompleteScan,
		Description: "Finish the scan with the links found and a short TL;DR.",
		Params: []tools.Param{
			{Name: "socialLinks", Type: tools.Object, Required: true,
				Description: "Any of github, linkedin, twitter, telegram, instagram, facebook, youtube, website, email"},
			{Name: "tldrSummary", Type: tools.String, Required: true, Description: "Two or three sentences about the person"},
			{Name: "additionalData", Type: tools.Object, Description: "Anything else worth keeping"},
		},
	}, func(_ context.Context, a CompleteScanArgs) envelope.Result {
		return envelope.OK(a)
	})
	return tbl, nil
}

// Scan navigates to profileURL and runs the sub-agent there. It blocks until
// the sub-agent completes or exhausts its budget; it never fails the caller's
// loop, problems are reported inside the result.
func (s *Scanner) Scan(ctx context.Context, tracer Tracer, profileURL, username string) (ProfileScanResult, error) {
	result := ProfileScanResult{SourceURL: profileURL}

	nav := s.browser.Executor.Navigate(ctx, profileURL)
	if !nav.Success {
		result.Summary = nav.Error
		return result, ctx.Err()
	}
	if data, ok := nav.Data.(map[string]interface{}); ok {
		if u, ok := data["url"].(string); ok && u != "" {
			result.SourceURL = u
		}
	}

	tbl, err := s.table()
	if err != nil {
		return result, err
	}
	loop, err := NewLoop(LoopSpec{
		Name:            ScannerLoopName,
		Instructions:    scannerInstructions,
		Table:           tbl,
		MaxIterations:   s.maxIterations,
		TerminalTool:    CompleteScan,
		ReflectionDelay: s.timing.reflection,
		ErrorDelay:      s.timing.errorPause,
	}, s.model, WithLoopLogger(s.logger), WithLoopMetrics(s.metrics), WithTracer(tracer))
	if err != nil {
		return result, err
	}

	task := fmt.Sprintf("Scan the profile of %q. The browser is already on %s.", username, result.SourceURL)
	out, err := loop.Run(ctx, task)
	result.Iterations = out.Iterations
	if err != nil {
		return result, err
	}

	if out.Completed {
		args, _ := out.Payload.(CompleteScanArgs)
		// The scanned page itself counts when it is a social profile the
		// model did not repeat.
		var self extract.SocialLinks
		self.Classify(result.SourceURL, "")
		result.Success = true
		result.SocialLinks = args.SocialLinks.Merge(self)
		result.Summary = args.TldrSummary
		result.AdditionalData = args.AdditionalData
		if result.SocialLinks.IsZero() {
			s.logger.Info("profile scan completed without any links", zap.String("url", result.SourceURL))
		}
		return result, nil
	}

	s.logger.Warn("profile scan budget exhausted, falling back to direct extraction",
		zap.String("url", result.SourceURL), zap.Int("iterations", out.Iterations))
	return s.fallback(ctx, result), nil
}

// fallback builds a failed result carrying whatever direct extraction,
// without the model, could read from the page.
func (s *Scanner) fallback(ctx context.Context, result ProfileScanResult) ProfileScanResult {
	result.Fallback = true
	pd, err := s.browser.Extractor.Profile(ctx)
	if err != nil {
		result.Summary = fmt.Sprintf("Scan budget exhausted and direct extraction failed: %v", err)
		return result
	}

	result.SocialLinks = pd.SocialLinks
	result.Summary = fallbackSummary(pd)
	result.AdditionalData = map[string]interface{}{}
	if pd.Headline != "" {
		result.AdditionalData["headline"] = pd.Headline
	}
	if pd.Bio != "" {
		result.AdditionalData["bio"] = pd.Bio
	}
	if len(pd.Emails) > 0 {
		result.AdditionalData["emails"] = pd.Emails
	}
	if len(pd.Phones) > 0 {
		result.AdditionalData["phones"] = pd.Phones
	}
	return result
}

func fallbackSummary(pd extract.ProfileData) string {
	var parts []string
	for _, s := range []string{pd.Headline, pd.Bio, pd.Description} {
		if s != "" && !containsFold(parts, s) {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && pd.Title != "" {
		parts = append(parts, pd.Title)
	}
	if len(parts) == 0 {
		return "No profile details could be read from the page."
	}
	return strings.Join(parts, " | ")
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
