package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/upwatch/upwatch/internal/domain"
)

// Classify maps a transport error to its ErrorKind. Resolver and TLS
// failures are checked before the generic timeout so a DNS lookup that
// timed out still classifies as DNS_ERROR.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrKindUnknown
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.ErrKindDNS
	}

	if isTLSError(err) {
		return domain.ErrKindSSL
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return domain.ErrKindConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return domain.ErrKindConnectionReset
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrKindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrKindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return domain.ErrKindNetwork
	}

	return domain.ErrKindUnknown
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var authErr x509.UnknownAuthorityError
	if errors.As(err, &authErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

// retryable reports whether a failed attempt with this kind may succeed on
// a retry. Resolver and certificate problems are terminal on first sight.
func retryable(kind domain.ErrorKind) bool {
	switch kind {
	case domain.ErrKindTimeout, domain.ErrKindNetwork,
		domain.ErrKindConnectionRefused, domain.ErrKindConnectionReset,
		domain.ErrKindUnknown:
		return true
	}
	return false
}
