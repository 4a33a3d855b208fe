package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is one invalid configuration key.
type FieldError struct {
	Key   string
	Rule  string
	Param string
	Value any
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		rule := f.Rule
		if f.Param != "" {
			rule += "=" + f.Param
		}
		sb.WriteString(fmt.Sprintf("  - %s: %v violates %s\n", f.Key, f.Value, rule))
	}
	return sb.String()
}

var validate = newValidator()

// newValidator reports fields by their config key instead of the Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags, then the notify section.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs.Fields = append(errs.Fields, FieldError{
				Key:   configKey(fe.Namespace()),
				Rule:  fe.Tag(),
				Param: fe.Param(),
				Value: fe.Value(),
			})
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return c.Notify.Validate()
}

// configKey turns "Config.poll.interval" into "poll.interval".
func configKey(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
