package shared

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/currency"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if code == "" {
			return true
		}
		_, err := currency.ParseISO(code)
		return err == nil
	})
	return v
}

// ValidateStruct runs the request DTO through validator tags and converts
// the first failure into a validation error before any transaction opens.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if ok := AsValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			fe := verrs[0]
			return Validationf("field %s failed %s", toSnake(fe.Field()), fe.Tag())
		}
		return Validationf("invalid payload: %v", err)
	}
	return nil
}

// AsValidationErrors is a narrow errors.As wrapper kept separate for tests.
func AsValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}

func toSnake(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidCurrency reports whether code is a known ISO-4217 currency.
func ValidCurrency(code string) bool {
	_, err := currency.ParseISO(code)
	return err == nil
}

// EnsureEnum rejects values outside the allowed set with a validation error.
func EnsureEnum(value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return Validationf("value %q not in allowed set [%s]", value, strings.Join(allowed, ", "))
}
