package mcp

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Input limits and defaults shared by the image tools.
const (
	MaxPromptLength = 10000
	DefaultSize     = 512
	DefaultDenoise  = 0.75
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	absPath      = regexp.MustCompile(`^([a-zA-Z]:\\|\\\\|/)`)
	safeFilename = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// inputValidator returns the shared validator. Field names in messages are
// the JSON names the caller used.
func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
			return absPath.MatchString(fl.Field().String())
		})
	})
	return validate
}

// validateInput checks the validate tags of in and joins every violation
// into one invalid_input error.
func validateInput(in any) error {
	err := inputValidator().Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ToolError{Code: CodeInvalidInput, Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &ToolError{Code: CodeInvalidInput, Err: errors.New(strings.Join(msgs, "; "))}
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", name, fe.Param(), unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", name, fe.Param(), unit)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be %s or more", name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be %s or less", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "abspath":
		return fmt.Sprintf("%s must be an absolute path, got %q", name, fe.Value())
	}
	return fmt.Sprintf("%s failed %s", name, fe.Tag())
}

// sanitizePrompt strips control characters other than tab, newline and
// carriage return, then trims surrounding space.
func sanitizePrompt(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

func sanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizePrompt(*s)
	return &v
}

// isSafeFilename reports whether name can be handed back to the caller as
// an output file name.
func isSafeFilename(name string) bool {
	return safeFilename.MatchString(name)
}
