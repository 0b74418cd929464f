package analyzer

import (
	"github.com/upwatch/upwatch/internal/domain"
)

// fallbackModel labels analyses produced by the rule table instead of the
// reasoning model.
const fallbackModel = "fallback-rules"

// fallbackConfidence is the fixed confidence of every rule-based analysis.
const fallbackConfidence = 0.7

// Fallback derives a complete analysis from the result's error kind alone.
// It never fails: whatever the input, all five fields come back filled, so
// a broken reasoning model can never block the pipeline.
func Fallback(result domain.CheckResult) domain.Analysis {
	a := domain.Analysis{
		FailureType:     domain.FailureUnknown,
		Severity:        domain.SeverityMedium,
		Summary:         "Website is experiencing downtime.",
		Recommendations: "Check server logs and network connectivity.",
		Confidence:      fallbackConfidence,
		Model:           fallbackModel,
	}

	if result.ErrorKind == nil {
		return a
	}

	switch *result.ErrorKind {
	case domain.ErrKindTimeout:
		a.FailureType = domain.FailureNetwork
		a.Severity = domain.SeverityHigh
		a.Summary = "Website is not responding within the expected time limit, indicating potential server overload or network issues."
		a.Recommendations = "1. Check server CPU and memory usage 2. Verify network connectivity 3. Review server logs for performance issues 4. Consider scaling resources if needed"

	case domain.ErrKindDNS:
		a.FailureType = domain.FailureDNS
		a.Severity = domain.SeverityCritical
		a.Summary = "DNS resolution is failing, making the website completely inaccessible to users."
		a.Recommendations = "1. Verify DNS configuration 2. Check domain registration status 3. Contact DNS provider 4. Ensure nameservers are responding"

	case domain.ErrKindSSL:
		a.FailureType = domain.FailureSSL
		a.Severity = domain.SeverityHigh
		a.Summary = "SSL certificate issues are preventing secure connections to the website."
		a.Recommendations = "1. Check SSL certificate expiration 2. Verify certificate installation 3. Test certificate chain 4. Renew certificate if needed"

	case domain.ErrKindConnectionRefused:
		a.FailureType = domain.FailureBackend
		a.Severity = domain.SeverityCritical
		a.Summary = "Server is actively refusing connections, indicating the web service is down or misconfigured."
		a.Recommendations = "1. Check if web server is running 2. Verify server configuration 3. Review firewall settings 4. Check for recent deployments"

	case domain.ErrKindConnectionReset:
		a.FailureType = domain.FailureNetwork
		a.Severity = domain.SeverityHigh
		a.Summary = "Connections to the website are being reset mid-request, pointing at an unstable server or intermediary."
		a.Recommendations = "1. Check load balancer and proxy health 2. Review server keep-alive settings 3. Look for crashing worker processes 4. Inspect recent network changes"

	case domain.ErrKindHTTP:
		code := 0
		if result.HTTPStatusCode != nil {
			code = *result.HTTPStatusCode
		}
		switch {
		case code >= 500:
			a.FailureType = domain.FailureBackend
			a.Severity = domain.SeverityHigh
			a.Summary = "Server is returning internal server errors, indicating backend application issues."
			a.Recommendations = "1. Check application logs 2. Verify database connectivity 3. Review recent code deployments 4. Monitor server resources"
		case code >= 400:
			a.FailureType = domain.FailureFrontend
			a.Severity = domain.SeverityMedium
			a.Summary = "Website is returning client error responses, possibly due to configuration or routing issues."
			a.Recommendations = "1. Check URL configuration 2. Verify routing rules 3. Review recent configuration changes 4. Test with different URLs"
		}
	}

	return a
}
