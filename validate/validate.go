package validate

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// SanitizationPolicy strips all markup from user input. Comments are plain text.
var SanitizationPolicy = bluemonday.StrictPolicy()

// MaxCommentLength is the longest comment the server accepts, in characters.
const MaxCommentLength = 300

func RegisterCustomValidators(v *validator.Validate) {
	v.RegisterValidation("max_string_length", MaxStringLengthValidator)
	v.RegisterValidation("dbid", DBIDValidator)
	v.RegisterAlias("comment", fmt.Sprintf("max_string_length=%d", MaxCommentLength))
	v.RegisterAlias("search_query", "max_string_length=100")
}

// WithCustomValidators returns a validator with this package's validations registered.
func WithCustomValidators() *validator.Validate {
	v := validator.New()
	RegisterCustomValidators(v)
	return v
}

// MaxStringLengthValidator validates strings with a given maximum length, counted in characters
var MaxStringLengthValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()

	maxLength, err := strconv.Atoi(fl.Param())
	if err != nil {
		panic(fmt.Errorf("error parsing MaxStringLengthValidator parameter: %s", err))
	}

	return utf8.RuneCountInString(s) <= maxLength
}

// DBIDValidator rejects IDs containing whitespace. Empty IDs are left to "required".
var DBIDValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return !strings.ContainsAny(s, " \t\r\n")
}

// SanitizeText removes markup from user input while keeping its text, so "a & b" stays
// "a & b" rather than becoming "a &amp; b".
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(SanitizationPolicy.Sanitize(s)))
}

func SanitizeComment(s string) string {
	return SanitizeText(s)
}

type ValidationMap map[string]struct {
	Value interface{}
	Tag   string
}

// ValidateFields runs every field's tag and collects all failures into one error.
func ValidateFields(validator *validator.Validate, fields ValidationMap) error {
	validationErr := ErrInvalidInput{}
	foundErrors := false

	for k, v := range fields {
		err := validator.Var(v.Value, v.Tag)
		if err != nil {
			foundErrors = true
			validationErr.Append(k, err.Error())
		}
	}

	if foundErrors {
		return validationErr
	}

	return nil
}

type ErrInvalidInput struct {
	Parameters []string
	Reasons    []string
}

func (e *ErrInvalidInput) Append(parameter string, reason string) {
	e.Parameters = append(e.Parameters, parameter)
	e.Reasons = append(e.Reasons, reason)
}

func (e ErrInvalidInput) Error() string {
	str := "invalid input:\n"

	for i := range e.Parameters {
		str += fmt.Sprintf("    parameter: %s, reason: %s\n", e.Parameters[i], e.Reasons[i])
	}

	return str
}
