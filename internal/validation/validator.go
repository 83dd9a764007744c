// Package validation checks accounts-file entries and sign-in input with validator/v10.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/listenupapp/listenup-sync/internal/domain"
	domainerrors "github.com/listenupapp/listenup-sync/internal/errors"
)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator configured for library accounts.
func New() *Validator {
	v := validator.New()

	// Field names in messages follow the accounts file (yaml tag), then json, then Go.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"yaml", "json"} {
			name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	v.RegisterStructValidation(validateLibraryAccount, domain.LibraryAccount{})

	return &Validator{v: v}
}

// validateLibraryAccount enforces the cross-field rules of external sign-in.
func validateLibraryAccount(sl validator.StructLevel) {
	acct := sl.Current().Interface().(domain.LibraryAccount)
	if !acct.AuthMethod.IsExternal() {
		return
	}
	if acct.AuthorizeURL == "" {
		sl.ReportError(acct.AuthorizeURL, "authorize_url", "AuthorizeURL", "required_external", "")
	}
	if acct.RedirectURI == "" {
		sl.ReportError(acct.RedirectURI, "redirect_uri", "RedirectURI", "required_external", "")
	}
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err, "")
	}
	return nil
}

// ValidateAccounts validates every account and rejects duplicate IDs. Field names in the
// error details are prefixed with the account's position, e.g. "accounts[1].profile_url".
func (v *Validator) ValidateAccounts(accounts []domain.LibraryAccount) error {
	fieldErrors := make(map[string]string)
	seen := make(map[string]int, len(accounts))

	for i, acct := range accounts {
		prefix := fmt.Sprintf("accounts[%d].", i)
		if err := v.v.Struct(acct); err != nil {
			var validationErrs validator.ValidationErrors
			if !errors.As(err, &validationErrs) {
				return err
			}
			for _, e := range validationErrs {
				fieldErrors[prefix+e.Field()] = v.friendlyMessage(e)
			}
		}
		if acct.ID == "" {
			continue
		}
		if first, dup := seen[acct.ID]; dup {
			fieldErrors[prefix+"id"] = fmt.Sprintf("duplicates accounts[%d]", first)
			continue
		}
		seen[acct.ID] = i
	}

	if len(fieldErrors) > 0 {
		return domainerrors.ValidationWithDetails(validationMessage(fieldErrors), fieldErrors)
	}
	return nil
}

// formatError converts validator errors to domain errors.
func (v *Validator) formatError(err error, prefix string) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string)
	for _, e := range validationErrs {
		fieldErrors[prefix+e.Field()] = v.friendlyMessage(e)
	}

	return domainerrors.ValidationWithDetails(validationMessage(fieldErrors), fieldErrors)
}

func validationMessage(fieldErrors map[string]string) string {
	names := make([]string, 0, len(fieldErrors))
	for name := range fieldErrors {
		names = append(names, name)
	}
	slices.Sort(names)
	return "validation failed: " + strings.Join(names, ", ")
}

//nolint:gocyclo // Switch statement covering validation tags is intentionally exhaustive.
func (v *Validator) friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + e.Param()
	case "required_external":
		return "is required for oauth and saml accounts"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	default:
		return "is invalid"
	}
}
