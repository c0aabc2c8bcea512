package oauth

import (
	"strconv"
	"strings"

	"github.com/markbates/goth"

	"github.com/acastrillo/spotbuddy/internal/pkg/identity"
)

// Provider-specific keys reporting whether the email was verified.
var verifiedKeys = []string{"email_verified", "verified_email", "verified"}

// AssertionFromUser converts a completed goth login into an identity assertion.
func AssertionFromUser(u goth.User) identity.Assertion {
	given, family := u.FirstName, u.LastName
	if given == "" && family == "" && u.Name != "" {
		parts := strings.SplitN(strings.TrimSpace(u.Name), " ", 2)
		given = parts[0]
		if len(parts) == 2 {
			family = parts[1]
		}
	}
	return identity.Assertion{
		SubjectID:     u.UserID,
		Email:         u.Email,
		EmailVerified: emailVerified(u.RawData),
		GivenName:     given,
		FamilyName:    family,
		Provider:      u.Provider,
	}
}

// emailVerified returns nil when the provider says nothing about it.
func emailVerified(raw map[string]interface{}) *bool {
	for _, key := range verifiedKeys {
		switch v := raw[key].(type) {
		case bool:
			return &v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return &b
			}
		}
	}
	return nil
}
