package core

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	phonePattern    = regexp.MustCompile(`^\+?\d{10,15}$`)
)

const dateLayout = "2006-01-02"

var registerValidatorsOnce sync.Once

// registerValidators adds the custom tags used by the input structs to gin's
// validator and reports fields by their JSON name.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			panic("gin binding validator is not go-playground/validator")
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		mustRegister(v, "notblank", validators.NotBlank)
		mustRegister(v, "username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "letterdigit", func(fl validator.FieldLevel) bool {
			return hasLetterAndDigit(fl.Field().String())
		})
	})
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			letter = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// validateInput runs the binding tags of v and returns a KindValidation error.
func validateInput(v any) error {
	registerValidators()
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return validationFailure(err)
	}
	return nil
}

// validationFailure turns validator output into a KindValidation error naming
// the first offending field.
func validationFailure(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &AppError{Kind: KindValidation, Message: "invalid request", Err: err}
	}
	return &AppError{Kind: KindValidation, Message: fieldMessage(fieldErrs[0]), Err: err}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "email":
		return field + " is not a valid address"
	case "username":
		return field + " may contain only letters, digits and underscore"
	case "letterdigit":
		return field + " must contain at least one letter and one digit"
	case "phone":
		return field + " must look like +71234567890"
	case "datetime":
		return field + " must be formatted as YYYY-MM-DD"
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// bindError maps a ShouldBindJSON failure to a client error.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return validationFailure(err)
	}
	return &AppError{Kind: KindValidation, Message: "invalid json", Err: err}
}

func parseBirthDate(s string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, validationError("dateOfBirth must be formatted as YYYY-MM-DD")
	}
	return &t, nil
}

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// checkImageType accepts JPEG and PNG only. Both the declared content type and
// the sniffed content must agree on an allowed type.
func checkImageType(declared string, data []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", fmt.Errorf("%w (declared %q)", ErrInvalidImage, declared)
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := allowedImageTypes[mediaType]; !ok {
		return "", fmt.Errorf("%w (declared %q)", ErrInvalidImage, declared)
	}
	if sniffed := http.DetectContentType(data); sniffed != mediaType {
		return "", fmt.Errorf("%w (content is %q)", ErrInvalidImage, sniffed)
	}
	return mediaType, nil
}
