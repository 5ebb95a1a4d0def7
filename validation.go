package accounts

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Validatable is implemented by every inbound message
type Validatable interface {
	Validate() error
}

// validate runs msg.Validate and normalizes the result into FieldErrors
func validate(msg Validatable) error {
	return toFieldErrors(msg.Validate())
}

func toFieldErrors(err error) error {
	if err == nil {
		return nil
	}

	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		out := make(FieldErrors, len(verrs))
		for field, ferr := range verrs {
			if ferr == nil {
				continue
			}
			out[field] = ferr.Error()
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return internalError(internal.InternalError(), "validation rule failed")
	}

	return NewFieldError("non_field_errors", err.Error())
}

func validateEmail(email string) error {
	err := validation.Validate(email,
		validation.Required.Error("This field is required."),
		validation.Length(3, 254),
		is.Email.Error("Enter a valid email address."),
	)
	if err != nil {
		return NewFieldError("email", err.Error())
	}
	return nil
}

func validateIdentity(identity ExternalIdentity) error {
	providers := make([]any, 0, len(SupportedProviders()))
	for _, p := range SupportedProviders() {
		providers = append(providers, p)
	}

	return toFieldErrors(validation.ValidateStruct(&identity,
		validation.Field(&identity.Provider,
			validation.Required.Error("Provider and OAuth ID are required."),
			validation.In(providers...).Error("Unsupported OAuth provider."),
		),
		validation.Field(&identity.Subject,
			validation.Required.Error("Provider and OAuth ID are required."),
			validation.Length(1, 255),
		),
		validation.Field(&identity.Email, is.Email.Error("Enter a valid email address.")),
	))
}

// ValidateStringEquals makes sure a confirmation field matches str
func ValidateStringEquals(str, message string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New(message)
		}
		return nil
	}
}
