package domain

import (
	"fmt"
	"time"
)

// FailureCategory is the analyzer's classification of what layer broke.
type FailureCategory string

const (
	FailureFrontend FailureCategory = "FRONTEND"
	FailureBackend  FailureCategory = "BACKEND"
	FailureNetwork  FailureCategory = "NETWORK"
	FailureDNS      FailureCategory = "DNS"
	FailureSSL      FailureCategory = "SSL"
	FailureCDN      FailureCategory = "CDN"
	FailureDatabase FailureCategory = "DATABASE"
	FailureAPI      FailureCategory = "API"
	FailureUnknown  FailureCategory = "UNKNOWN"
)

func ParseFailureCategory(s string) (FailureCategory, error) {
	switch FailureCategory(s) {
	case FailureFrontend, FailureBackend, FailureNetwork, FailureDNS,
		FailureSSL, FailureCDN, FailureDatabase, FailureAPI, FailureUnknown:
		return FailureCategory(s), nil
	}
	return "", fmt.Errorf("invalid failure category %q", s)
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("invalid severity %q", s)
}

// Analysis is a root-cause analysis of one failing tick. Created exactly
// once per DOWN tick the analyzer processes; never for UP results.
type Analysis struct {
	ID              string          `json:"id"`
	TickID          string          `json:"tick_id"`
	FailureType     FailureCategory `json:"failure_type"`
	Severity        Severity        `json:"severity"`
	Summary         string          `json:"summary"`
	Recommendations string          `json:"recommendations"`
	Confidence      float64         `json:"confidence"`
	Model           string          `json:"model"`
	AnalyzedAt      time.Time       `json:"analyzed_at"`
}
