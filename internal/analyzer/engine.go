package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/upwatch/upwatch/internal/domain"
)

const systemPrompt = "You are an expert website monitoring AI. Always respond with valid JSON only."

// CompletionClient is the reasoning-model boundary: prompt in, text out.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Engine turns a failing check result into an analysis, preferring the
// reasoning model and falling back to the deterministic rule table on any
// model failure. Analyze never returns an error.
type Engine struct {
	client CompletionClient
	log    *slog.Logger
}

func NewEngine(client CompletionClient, log *slog.Logger) *Engine {
	return &Engine{client: client, log: log}
}

func (e *Engine) Analyze(ctx context.Context, website domain.Website, result domain.CheckResult, history []domain.Tick) domain.Analysis {
	if e.client == nil {
		return Fallback(result)
	}

	reply, err := e.client.Complete(ctx, systemPrompt, buildPrompt(website, result, history))
	if err != nil {
		e.log.Warn("model call failed, using fallback analysis",
			"website_id", website.ID,
			"error", err,
		)
		return Fallback(result)
	}

	analysis, err := parseAnalysis(reply)
	if err != nil {
		e.log.Warn("model reply rejected, using fallback analysis",
			"website_id", website.ID,
			"error", err,
		)
		return Fallback(result)
	}

	analysis.Model = e.client.Model()
	return analysis
}

func buildPrompt(website domain.Website, result domain.CheckResult, history []domain.Tick) string {
	var b strings.Builder

	b.WriteString("You are analyzing a website failure. Based on the following data, provide a detailed analysis:\n\n")

	b.WriteString("**Website Information:**\n")
	fmt.Fprintf(&b, "- Name: %s\n", website.Name)
	fmt.Fprintf(&b, "- URL: %s\n", website.URL)
	fmt.Fprintf(&b, "- Current Status: %s\n\n", result.Status)

	b.WriteString("**Failure Details:**\n")
	fmt.Fprintf(&b, "- HTTP Status Code: %s\n", orNA(intValue(result.HTTPStatusCode)))
	fmt.Fprintf(&b, "- Error Type: %s\n", orNA(errorKindString(result.ErrorKind)))
	fmt.Fprintf(&b, "- Error Message: %s\n", orNA(result.ErrorMessage))
	fmt.Fprintf(&b, "- Response Time: %dms\n", result.ResponseTimeMs)
	fmt.Fprintf(&b, "- DNS Resolution Time: %sms\n", orNA(int64Value(result.DNSResolutionMs)))
	fmt.Fprintf(&b, "- SSL Valid: %s\n", orNA(sslValidString(result.TLS)))
	fmt.Fprintf(&b, "- Response Headers: %s\n\n", headersJSON(result.ResponseHeaders))

	fmt.Fprintf(&b, "**Recent History (last %d checks):**\n", len(history))
	for _, tick := range history {
		fmt.Fprintf(&b, "- %s: %s (%dms, HTTP %s)\n",
			tick.CheckedAt.Format(time.RFC3339),
			tick.Status,
			tick.ResponseTimeMs,
			orNA(intValue(tick.HTTPStatusCode)),
		)
	}

	b.WriteString(`
Based on this information, provide:

1. **Failure Type**: Classify as one of: FRONTEND, BACKEND, NETWORK, DNS, SSL, CDN, DATABASE, API
2. **Severity**: Rate as LOW, MEDIUM, HIGH, or CRITICAL
3. **Summary**: A clear, non-technical explanation of what went wrong (2-3 sentences)
4. **Recommendations**: Specific steps to investigate and fix the issue (3-5 actionable items)
5. **Confidence**: Your confidence in this analysis (0.0 to 1.0)

Respond ONLY with a valid JSON object in this exact format:
{
  "failureType": "BACKEND",
  "severity": "HIGH",
  "summary": "Your analysis summary here",
  "recommendations": "Your recommendations here",
  "confidence": 0.85
}`)

	return b.String()
}

type modelAnalysis struct {
	FailureType     string  `json:"failureType"`
	Severity        string  `json:"severity"`
	Summary         string  `json:"summary"`
	Recommendations string  `json:"recommendations"`
	Confidence      float64 `json:"confidence"`
}

// parseAnalysis validates the model's reply: well-formed JSON, all required
// fields present, enums in range. Anything less routes to the fallback.
func parseAnalysis(reply string) (domain.Analysis, error) {
	var parsed modelAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &parsed); err != nil {
		return domain.Analysis{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if parsed.Summary == "" || parsed.Recommendations == "" {
		return domain.Analysis{}, fmt.Errorf("missing required fields")
	}

	failureType, err := domain.ParseFailureCategory(parsed.FailureType)
	if err != nil {
		return domain.Analysis{}, err
	}
	severity, err := domain.ParseSeverity(parsed.Severity)
	if err != nil {
		return domain.Analysis{}, err
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return domain.Analysis{
		FailureType:     failureType,
		Severity:        severity,
		Summary:         parsed.Summary,
		Recommendations: parsed.Recommendations,
		Confidence:      confidence,
	}, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func intValue(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func int64Value(v *int64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func errorKindString(kind *domain.ErrorKind) string {
	if kind == nil {
		return ""
	}
	return string(*kind)
}

func sslValidString(info *domain.TLSInfo) string {
	if info == nil {
		return ""
	}
	return fmt.Sprintf("%t", info.Valid)
}

func headersJSON(headers map[string]string) string {
	if len(headers) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
