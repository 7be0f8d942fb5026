package stripe

import "strings"

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_..., evt_...) is
// safe to interpolate into a search query or URL path.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// CheckoutEmail returns the buyer's email from a checkout session, preferring
// the prefilled address over the one typed on the payment page.
func CheckoutEmail(session CheckoutSession) string {
	if email := strings.TrimSpace(session.CustomerEmail); email != "" {
		return email
	}
	return strings.TrimSpace(session.CustomerDetails.Email)
}
