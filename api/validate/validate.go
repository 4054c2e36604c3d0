package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"ferry/api/model"
)

var (
	safePathRe = regexp.MustCompile(`^/[A-Za-z0-9._/-]*$`)
	unixUserRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

var std = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("safepath", func(fl validator.FieldLevel) bool {
		return SafePath(fl.Field().String())
	})
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return unixUserRe.MatchString(fl.Field().String())
	})
	return v
}

// SafePath reports whether p is absolute, has no parent references and uses
// only characters that need no shell quoting.
func SafePath(p string) bool {
	if !safePathRe.MatchString(p) {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// Struct validates a request payload against its struct tags.
func Struct(payload any) *model.ValidationResult {
	result := &model.ValidationResult{}
	err := std.Struct(payload)
	if err == nil {
		return result
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		result.Add(model.ValidationFinding{
			Check:    "request.payload",
			Severity: model.SeverityError,
			Message:  "invalid payload",
		})
		return result
	}

	for _, e := range verrs {
		field := fieldPath(e)
		result.Add(model.ValidationFinding{
			Check:    "request." + field + "." + e.Tag(),
			Severity: model.SeverityError,
			Message:  messageFor(field, e),
			Field:    field,
		})
	}
	return result
}

// fieldPath drops the root type name from the namespace.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func messageFor(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "ipv4":
		return fmt.Sprintf("%s must be an IPv4 address", field)
	case "fqdn":
		return fmt.Sprintf("%s must be a fully qualified domain name", field)
	case "safepath":
		return fmt.Sprintf("%s must be an absolute path of letters, digits, '.', '_', '-' and '/'", field)
	case "username":
		return fmt.Sprintf("%s must be a unix user name", field)
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", field, e.Tag(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, e.Param())
	case "http_url":
		return fmt.Sprintf("%s must be an http or https URL", field)
	}
	return fmt.Sprintf("%s is invalid", field)
}
