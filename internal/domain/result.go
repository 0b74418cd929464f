package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUp, StatusDown, StatusUnknown:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// ErrorKind classifies why a probe failed. Assigned by the prober and used
// both for persistence tagging and for the analyzer's rule-based fallback.
type ErrorKind string

const (
	ErrKindTimeout           ErrorKind = "TIMEOUT"
	ErrKindNetwork           ErrorKind = "NETWORK_ERROR"
	ErrKindDNS               ErrorKind = "DNS_ERROR"
	ErrKindSSL               ErrorKind = "SSL_ERROR"
	ErrKindConnectionRefused ErrorKind = "CONNECTION_REFUSED"
	ErrKindConnectionReset   ErrorKind = "CONNECTION_RESET"
	ErrKindHTTP              ErrorKind = "HTTP_ERROR"
	ErrKindUnknown           ErrorKind = "UNKNOWN_ERROR"
)

func ParseErrorKind(s string) (ErrorKind, error) {
	switch ErrorKind(s) {
	case ErrKindTimeout, ErrKindNetwork, ErrKindDNS, ErrKindSSL,
		ErrKindConnectionRefused, ErrKindConnectionReset, ErrKindHTTP, ErrKindUnknown:
		return ErrorKind(s), nil
	}
	return "", fmt.Errorf("invalid error kind %q", s)
}

// TLSInfo describes the certificate observed during an HTTPS probe.
type TLSInfo struct {
	Valid  bool       `json:"valid"`
	Expiry *time.Time `json:"expiry,omitempty"`
	Issuer string     `json:"issuer,omitempty"`
}

// CheckResult is the outcome of probing one CheckRequest. Immutable once
// published; consumed independently by the ingester and the analyzer.
type CheckResult struct {
	WebsiteID       string            `json:"websiteId"`
	Status          Status            `json:"status"`
	RegionID        string            `json:"regionId"`
	ResponseTimeMs  int64             `json:"responseTime"`
	CheckedAt       time.Time         `json:"checkedAt"`
	HTTPStatusCode  *int              `json:"httpStatusCode,omitempty"`
	ErrorKind       *ErrorKind        `json:"errorKind,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	DNSResolutionMs *int64            `json:"dnsResolutionTime,omitempty"`
	TLS             *TLSInfo          `json:"sslInfo,omitempty"`
}

// Tick is one persisted observation of a website's status, derived 1:1 from
// a CheckResult and keyed by (website_id, checked_at) for dedupe.
type Tick struct {
	ID              string            `json:"id"`
	WebsiteID       string            `json:"website_id"`
	RegionID        string            `json:"region_id"`
	Status          Status            `json:"status"`
	ResponseTimeMs  int64             `json:"response_time_ms"`
	CheckedAt       time.Time         `json:"checked_at"`
	HTTPStatusCode  *int              `json:"http_status_code,omitempty"`
	ErrorKind       *ErrorKind        `json:"error_kind,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	DNSResolutionMs *int64            `json:"dns_resolution_ms,omitempty"`
	SSLValid        *bool             `json:"ssl_valid,omitempty"`
	SSLExpiry       *time.Time        `json:"ssl_expiry,omitempty"`
	SSLIssuer       string            `json:"ssl_issuer,omitempty"`
}

// TickFromResult maps a stream result to its durable row.
func TickFromResult(r CheckResult) Tick {
	t := Tick{
		WebsiteID:       r.WebsiteID,
		RegionID:        r.RegionID,
		Status:          r.Status,
		ResponseTimeMs:  r.ResponseTimeMs,
		CheckedAt:       r.CheckedAt,
		HTTPStatusCode:  r.HTTPStatusCode,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		ResponseHeaders: r.ResponseHeaders,
		DNSResolutionMs: r.DNSResolutionMs,
	}
	if r.TLS != nil {
		valid := r.TLS.Valid
		t.SSLValid = &valid
		t.SSLExpiry = r.TLS.Expiry
		t.SSLIssuer = r.TLS.Issuer
	}
	return t
}
