package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// expiryWarning is how close to expiry a certificate starts being reported.
const expiryWarning = 30 * 24 * time.Hour

// ValidateCertificate parses the leaf of cert and checks its validity window.
func ValidateCertificate(cert *tls.Certificate, now time.Time) (*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is nil")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("certificate chain is empty")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if err := ValidateX509Certificate(leaf, now); err != nil {
		return nil, err
	}
	return leaf, nil
}

// ValidateX509Certificate rejects certificates outside their validity window.
func ValidateX509Certificate(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// CheckCertificateExpiration returns the whole days until cert expires and
// a warning when fewer than 30 remain.
func CheckCertificateExpiration(cert *x509.Certificate, now time.Time) (daysUntilExpiry int, warning string) {
	remaining := cert.NotAfter.Sub(now)
	daysUntilExpiry = int(remaining.Hours() / 24)

	if remaining < expiryWarning {
		warning = fmt.Sprintf("certificate expires in %d days (on %s)",
			daysUntilExpiry, cert.NotAfter.Format("2006-01-02"))
	}
	return daysUntilExpiry, warning
}
