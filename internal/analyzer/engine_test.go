package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upwatch/upwatch/internal/domain"
)

type stubCompletions struct {
	reply string
	err   error
	model string
}

func (s stubCompletions) Complete(ctx context.Context, system, user string) (string, error) {
	return s.reply, s.err
}

func (s stubCompletions) Model() string { return s.model }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failingResult() domain.CheckResult {
	kind := domain.ErrKindTimeout
	return domain.CheckResult{
		WebsiteID:      "site-1",
		Status:         domain.StatusDown,
		ResponseTimeMs: 5000,
		ErrorKind:      &kind,
	}
}

func TestEngine_Analyze_UsesModelReply(t *testing.T) {
	client := stubCompletions{
		model: "gpt-4",
		reply: `{
			"failureType": "BACKEND",
			"severity": "HIGH",
			"summary": "The origin server is overloaded.",
			"recommendations": "Scale out the backend pool.",
			"confidence": 0.85
		}`,
	}
	engine := NewEngine(client, testLogger())

	got := engine.Analyze(context.Background(), domain.Website{Name: "Example"}, failingResult(), nil)

	assert.Equal(t, domain.FailureBackend, got.FailureType)
	assert.Equal(t, domain.SeverityHigh, got.Severity)
	assert.Equal(t, "The origin server is overloaded.", got.Summary)
	assert.Equal(t, 0.85, got.Confidence)
	assert.Equal(t, "gpt-4", got.Model)
}

func TestEngine_Analyze_NilClientFallsBack(t *testing.T) {
	engine := NewEngine(nil, testLogger())

	got := engine.Analyze(context.Background(), domain.Website{}, failingResult(), nil)

	assert.Equal(t, fallbackModel, got.Model)
	assert.Equal(t, domain.FailureNetwork, got.FailureType)
}

func TestEngine_Analyze_ClientErrorFallsBack(t *testing.T) {
	engine := NewEngine(stubCompletions{err: errors.New("rate limited")}, testLogger())

	got := engine.Analyze(context.Background(), domain.Website{}, failingResult(), nil)

	assert.Equal(t, fallbackModel, got.Model)
	assert.Equal(t, fallbackConfidence, got.Confidence)
}

func TestEngine_Analyze_MalformedReplyFallsBack(t *testing.T) {
	replies := []string{
		"the site looks down to me",
		`{"failureType": "BACKEND"}`,
		`{"failureType": "GREMLINS", "severity": "HIGH", "summary": "s", "recommendations": "r", "confidence": 0.5}`,
		`{"failureType": "BACKEND", "severity": "APOCALYPTIC", "summary": "s", "recommendations": "r", "confidence": 0.5}`,
	}

	for _, reply := range replies {
		engine := NewEngine(stubCompletions{model: "gpt-4", reply: reply}, testLogger())
		got := engine.Analyze(context.Background(), domain.Website{}, failingResult(), nil)
		assert.Equal(t, fallbackModel, got.Model, "reply %q must route to the fallback", reply)
	}
}

func TestParseAnalysis_Valid(t *testing.T) {
	got, err := parseAnalysis(`
		{"failureType": "DNS", "severity": "CRITICAL", "summary": "DNS is down.", "recommendations": "Call the registrar.", "confidence": 0.95}
	`)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureDNS, got.FailureType)
	assert.Equal(t, domain.SeverityCritical, got.Severity)
	assert.Equal(t, 0.95, got.Confidence)
}

func TestParseAnalysis_ClampsConfidence(t *testing.T) {
	high, err := parseAnalysis(`{"failureType": "API", "severity": "LOW", "summary": "s", "recommendations": "r", "confidence": 3.2}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, high.Confidence)

	low, err := parseAnalysis(`{"failureType": "API", "severity": "LOW", "summary": "s", "recommendations": "r", "confidence": -0.4}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, low.Confidence)
}

func TestParseAnalysis_MissingRequiredFields(t *testing.T) {
	_, err := parseAnalysis(`{"failureType": "API", "severity": "LOW", "summary": "", "recommendations": "r", "confidence": 0.5}`)
	assert.Error(t, err)

	_, err = parseAnalysis(`{"failureType": "API", "severity": "LOW", "summary": "s", "recommendations": "", "confidence": 0.5}`)
	assert.Error(t, err)
}

func TestBuildPrompt_IncludesContext(t *testing.T) {
	kind := domain.ErrKindHTTP
	code := 502
	result := domain.CheckResult{
		Status:         domain.StatusDown,
		ResponseTimeMs: 900,
		HTTPStatusCode: &code,
		ErrorKind:      &kind,
		ErrorMessage:   "502 Bad Gateway",
	}
	history := []domain.Tick{
		{Status: domain.StatusUp, ResponseTimeMs: 120},
		{Status: domain.StatusDown, ResponseTimeMs: 880, HTTPStatusCode: &code},
	}

	prompt := buildPrompt(domain.Website{Name: "Example", URL: "https://example.com"}, result, history)

	assert.Contains(t, prompt, "Example")
	assert.Contains(t, prompt, "https://example.com")
	assert.Contains(t, prompt, "502")
	assert.Contains(t, prompt, "HTTP_ERROR")
	assert.Contains(t, prompt, "last 2 checks")
	assert.Contains(t, prompt, "N/A", "absent fields render as N/A")
}
