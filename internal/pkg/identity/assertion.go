package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/acastrillo/spotbuddy/app/models"
)

var (
	ErrEmailNotVerified = errors.New("identity: email not verified")
	ErrValidation       = errors.New("identity: invalid assertion")
)

// Assertion is what a federated provider or the credential check vouches for.
type Assertion struct {
	SubjectID     string `json:"subjectId" validate:"max=255"`
	Email         string `json:"email" validate:"required,email,max=320"`
	EmailVerified *bool  `json:"emailVerified,omitempty"`
	GivenName     string `json:"givenName,omitempty" validate:"max=100"`
	FamilyName    string `json:"familyName,omitempty" validate:"max=100"`
	Provider      string `json:"provider" validate:"required,max=64"`
}

// Normalized trims every field and lower-cases the email and provider.
func (a Assertion) Normalized() Assertion {
	a.SubjectID = strings.TrimSpace(a.SubjectID)
	a.Email = models.NormalizeEmail(a.Email)
	a.GivenName = strings.TrimSpace(a.GivenName)
	a.FamilyName = strings.TrimSpace(a.FamilyName)
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
	return a
}

// Validate checks the assertion before any store access. An explicit
// emailVerified=false is ErrEmailNotVerified; absent or true proceeds.
func (a Assertion) Validate(v *validator.Validate) error {
	if a.EmailVerified != nil && !*a.EmailVerified {
		return ErrEmailNotVerified
	}
	if err := v.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
