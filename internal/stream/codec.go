package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/upwatch/upwatch/internal/domain"
)

// Stream entry field names. Results travel as flat string fields; only the
// headers map is JSON-serialized.
const (
	fieldWebsiteID  = "websiteId"
	fieldURL        = "url"
	fieldStatus     = "status"
	fieldRegionID   = "regionId"
	fieldRespTime   = "responseTime"
	fieldCheckedAt  = "checkedAt"
	fieldHTTPStatus = "httpStatusCode"
	fieldErrorKind  = "errorKind"
	fieldErrorMsg   = "errorMessage"
	fieldHeaders    = "responseHeaders"
	fieldDNSTime    = "dnsResolutionTime"
	fieldSSLValid   = "sslValid"
	fieldSSLExpiry  = "sslExpiry"
	fieldSSLIssuer  = "sslIssuer"
)

// MalformedEntryError marks an entry whose fields cannot be decoded into a
// domain type. Such entries are acknowledged and dropped at the boundary so
// parsing failures never reach business logic.
type MalformedEntryError struct {
	EntryID string
	Reason  string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed stream entry %s: %s", e.EntryID, e.Reason)
}

func EncodeRequest(req domain.CheckRequest) map[string]interface{} {
	return map[string]interface{}{
		fieldWebsiteID: req.WebsiteID,
		fieldURL:       req.URL,
	}
}

func DecodeRequest(e Entry) (domain.CheckRequest, error) {
	websiteID := fieldString(e.Values, fieldWebsiteID)
	url := fieldString(e.Values, fieldURL)
	if websiteID == "" || url == "" {
		return domain.CheckRequest{}, &MalformedEntryError{EntryID: e.ID, Reason: "missing websiteId or url"}
	}
	return domain.CheckRequest{WebsiteID: websiteID, URL: url}, nil
}

func EncodeResult(res domain.CheckResult) map[string]interface{} {
	values := map[string]interface{}{
		fieldWebsiteID: res.WebsiteID,
		fieldStatus:    string(res.Status),
		fieldRegionID:  res.RegionID,
		fieldRespTime:  strconv.FormatInt(res.ResponseTimeMs, 10),
		fieldCheckedAt: res.CheckedAt.UTC().Format(time.RFC3339Nano),
	}
	if res.HTTPStatusCode != nil {
		values[fieldHTTPStatus] = strconv.Itoa(*res.HTTPStatusCode)
	}
	if res.ErrorKind != nil {
		values[fieldErrorKind] = string(*res.ErrorKind)
	}
	if res.ErrorMessage != "" {
		values[fieldErrorMsg] = res.ErrorMessage
	}
	if len(res.ResponseHeaders) > 0 {
		if raw, err := json.Marshal(res.ResponseHeaders); err == nil {
			values[fieldHeaders] = string(raw)
		}
	}
	if res.DNSResolutionMs != nil {
		values[fieldDNSTime] = strconv.FormatInt(*res.DNSResolutionMs, 10)
	}
	if res.TLS != nil {
		values[fieldSSLValid] = strconv.FormatBool(res.TLS.Valid)
		if res.TLS.Expiry != nil {
			values[fieldSSLExpiry] = res.TLS.Expiry.UTC().Format(time.RFC3339Nano)
		}
		if res.TLS.Issuer != "" {
			values[fieldSSLIssuer] = res.TLS.Issuer
		}
	}
	return values
}

// DecodeResult validates the required result fields and decodes the rest.
// Required fields follow the result-log contract: websiteId, status,
// responseTime and checkedAt must be present and well-formed.
func DecodeResult(e Entry) (domain.CheckResult, error) {
	websiteID := fieldString(e.Values, fieldWebsiteID)
	if websiteID == "" {
		return domain.CheckResult{}, &MalformedEntryError{EntryID: e.ID, Reason: "missing websiteId"}
	}

	status, err := domain.ParseStatus(fieldString(e.Values, fieldStatus))
	if err != nil {
		return domain.CheckResult{}, &MalformedEntryError{EntryID: e.ID, Reason: err.Error()}
	}

	respTime, err := strconv.ParseInt(fieldString(e.Values, fieldRespTime), 10, 64)
	if err != nil {
		return domain.CheckResult{}, &MalformedEntryError{EntryID: e.ID, Reason: "bad responseTime: " + fieldString(e.Values, fieldRespTime)}
	}

	checkedAt, err := time.Parse(time.RFC3339Nano, fieldString(e.Values, fieldCheckedAt))
	if err != nil {
		return domain.CheckResult{}, &MalformedEntryError{EntryID: e.ID, Reason: "bad checkedAt: " + fieldString(e.Values, fieldCheckedAt)}
	}

	res := domain.CheckResult{
		WebsiteID:      websiteID,
		Status:         status,
		RegionID:       fieldString(e.Values, fieldRegionID),
		ResponseTimeMs: respTime,
		CheckedAt:      checkedAt,
		ErrorMessage:   fieldString(e.Values, fieldErrorMsg),
	}

	if raw := fieldString(e.Values, fieldHTTPStatus); raw != "" {
		if code, err := strconv.Atoi(raw); err == nil {
			res.HTTPStatusCode = &code
		}
	}
	if raw := fieldString(e.Values, fieldErrorKind); raw != "" {
		if kind, err := domain.ParseErrorKind(raw); err == nil {
			res.ErrorKind = &kind
		}
	}
	if raw := fieldString(e.Values, fieldHeaders); raw != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(raw), &headers); err == nil {
			res.ResponseHeaders = headers
		}
	}
	if raw := fieldString(e.Values, fieldDNSTime); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			res.DNSResolutionMs = &ms
		}
	}
	if raw := fieldString(e.Values, fieldSSLValid); raw != "" {
		valid, err := strconv.ParseBool(raw)
		if err == nil {
			tls := &domain.TLSInfo{Valid: valid, Issuer: fieldString(e.Values, fieldSSLIssuer)}
			if rawExpiry := fieldString(e.Values, fieldSSLExpiry); rawExpiry != "" {
				if expiry, err := time.Parse(time.RFC3339Nano, rawExpiry); err == nil {
					tls.Expiry = &expiry
				}
			}
			res.TLS = tls
		}
	}

	return res, nil
}

func fieldString(values map[string]interface{}, key string) string {
	if values == nil {
		return ""
	}
	switch v := values[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
