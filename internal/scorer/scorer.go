// Package scorer asks a completion service whether a firm should bid on a
// tender and normalizes the answer into a RecommendationRecord.
package scorer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/extract"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// NoDocument replaces the document section when no text is available.
const NoDocument = "No document content available."

// RecommendationSchema is the output contract for a bid judgment.
func RecommendationSchema() extract.Schema {
	return extract.Schema{
		Name: "bid_recommendation",
		Fields: []extract.Field{
			{Name: "should_bid", Type: extract.TypeBoolean, Required: true, Description: "true if the firm should bid"},
			{Name: "confidence", Type: extract.TypeNumber, Required: true, Description: "confidence in the decision, 0 to 1"},
			{Name: "estimated_fit", Type: extract.TypeNumber, Required: true, Description: "how well the tender matches the firm, 0 to 1"},
			{Name: "reasoning", Type: extract.TypeString, Required: true, Description: "short explanation of the decision"},
			{Name: "relevant_factors", Type: extract.TypeStringArray, Description: "key factors behind the decision"},
		},
	}
}

// Extractor is the subset of extract.Client the scorer needs.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Response, error)
}

// Scorer produces bid recommendations.
type Scorer struct {
	client  Extractor
	model   string
	profile string
	now     func() time.Time
}

// New creates a scorer. model overrides the client's default model when set.
func New(client Extractor, model, profile string) *Scorer {
	return &Scorer{client: client, model: model, profile: profile, now: time.Now}
}

// Input is everything the scorer looks at for one tender.
type Input struct {
	Tender     model.CoercedRecord
	Fields     map[string]any
	Text       *string
	Validation *model.ValidationRecord
	Skip       *resilience.SkipList
}

// Score returns a recommendation for in. Missing document text does not
// stop scoring; the prompt then carries tender metadata only. Failures
// carry the extraction client's classes.
func (s *Scorer) Score(ctx context.Context, in Input) (*model.RecommendationRecord, error) {
	id := in.Tender.ResourceID
	text := ""
	if in.Text != nil {
		text = strings.TrimSpace(*in.Text)
	}
	if text == "" {
		text = NoDocument
	}

	resp, err := s.client.Extract(ctx, extract.Request{
		ResourceID: id,
		Stage:      model.StageScore,
		Prompt:     s.buildPrompt(in),
		Text:       text,
		Schema:     RecommendationSchema(),
		Model:      s.model,
		Skip:       in.Skip,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: score %s", id)
	}

	shouldBid, _ := resp.Bool("should_bid")
	confidence, _ := resp.Number("confidence")
	fit, _ := resp.Number("estimated_fit")

	rec := &model.RecommendationRecord{
		ResourceID:      id,
		ShouldBid:       shouldBid,
		Confidence:      Clamp01(confidence),
		EstimatedFit:    Clamp01(fit),
		Reasoning:       resp.String("reasoning"),
		RelevantFactors: resp.Strings("relevant_factors"),
		Model:           resp.Model,
		AnalyzedAt:      s.now().UTC(),
	}
	if rec.RelevantFactors == nil {
		rec.RelevantFactors = []string{}
	}
	if rec.Confidence != confidence || rec.EstimatedFit != fit {
		zap.L().Debug("clamped recommendation scores",
			zap.String("resource_id", id),
			zap.Float64("confidence", confidence),
			zap.Float64("estimated_fit", fit),
		)
	}

	return rec, nil
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func (s *Scorer) buildPrompt(in Input) string {
	t := in.Tender
	var b strings.Builder

	b.WriteString("You are a bid qualification analyst. Decide whether the firm below should bid on this tender.\n\n")
	fmt.Fprintf(&b, "FIRM PROFILE:\n%s\n\n", s.profile)

	b.WriteString("TENDER DETAILS:\n")
	fmt.Fprintf(&b, "Title: %s\n", orNA(t.Title))
	fmt.Fprintf(&b, "Contracting Authority: %s\n", orNA(t.ContractingAuthority))
	fmt.Fprintf(&b, "Procedure: %s\n", orNA(t.Procedure))
	fmt.Fprintf(&b, "Status: %s\n", orNA(t.Status))
	if t.EstimatedValueNumeric != nil {
		fmt.Fprintf(&b, "Estimated Value: %s\n", t.EstimatedValueNumeric.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "Estimated Value: %s\n", orNA(t.EstimatedValue))
	}
	if t.SubmissionDeadlineParsed != nil {
		fmt.Fprintf(&b, "Submission Deadline: %s\n", t.SubmissionDeadlineParsed.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Info: %s\n", orNA(t.Info))
	if mc, ok := in.Fields["main_classification"].(string); ok && mc != "" {
		fmt.Fprintf(&b, "Main Classification: %s\n", mc)
	}

	if v := in.Validation; v != nil {
		fmt.Fprintf(&b, "CPV Codes Found: %d\n", v.CPVCount)
		fmt.Fprintf(&b, "CPV Codes: %s\n", strings.Join(v.CPVCodes, ", "))
		fmt.Fprintf(&b, "Has Validated CPV: %t\n", v.HasValidatedCPV)
	}

	b.WriteString("\nRecommend a bid when the work matches the firm's capabilities. ")
	b.WriteString("Validated classification codes in the firm's area are strong evidence. ")
	b.WriteString("Reject tenders that are clearly outside the firm's field.\n")
	b.WriteString("Return ONLY valid JSON with should_bid, confidence (0 to 1), estimated_fit (0 to 1), reasoning and relevant_factors.\n\n")
	b.WriteString("DOCUMENT CONTENT:")
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
