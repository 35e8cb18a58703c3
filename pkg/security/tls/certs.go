package tls

import (
	"crypto/x509"
	"fmt"
	"time"
)

// expiryWarningWindow is how far ahead of expiry a warning is logged.
const expiryWarningWindow = 30 * 24 * time.Hour

// CheckExpiration returns the whole days until leaf expires and a warning
// when it is expired, not yet valid or close to expiry.
func CheckExpiration(leaf *x509.Certificate, now time.Time) (days int, warning string) {
	days = int(leaf.NotAfter.Sub(now).Hours() / 24)

	switch {
	case now.After(leaf.NotAfter):
		return days, fmt.Sprintf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	case now.Before(leaf.NotBefore):
		return days, fmt.Sprintf("certificate not valid until %s", leaf.NotBefore.Format(time.RFC3339))
	case leaf.NotAfter.Sub(now) < expiryWarningWindow:
		return days, fmt.Sprintf("certificate expires in %d days", days)
	}
	return days, ""
}
