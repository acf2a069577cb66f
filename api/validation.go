package api

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+?\d{7,15}$`)

// minAge is read by the "adult" rule. The validator caches rule functions
// per struct, so the bound lives outside the closure.
var minAge atomic.Int64

func init() { minAge.Store(18) }

// RegisterValidators installs the custom binding rules on gin's validator:
//
//	phone        optional "+" followed by 7 to 15 digits
//	emaildomain  domain part has a dot and no empty labels
//	letterdigit  at least one letter and one digit
//	adult        integer strictly greater than the configured minimum age
//
// Field errors are reported under their JSON names.
func RegisterValidators(minimumAge int) error {
	minAge.Store(int64(minimumAge))

	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("api: unexpected validator engine %T", binding.Validator.Engine())
	}
	v.RegisterTagNameFunc(jsonFieldName)

	rules := map[string]validator.Func{
		"phone":       validatePhone,
		"emaildomain": validateEmailDomain,
		"letterdigit": validateLetterDigit,
		"adult":       validateAdult,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("api: register %s: %w", tag, err)
		}
	}
	return nil
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

func validateEmailDomain(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return false
	}
	domain := s[at+1:]
	if !strings.Contains(domain, ".") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return false
		}
	}
	return true
}

func validateLetterDigit(fl validator.FieldLevel) bool {
	var letter, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

func validateAdult(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int() > minAge.Load()
	default:
		return false
	}
}
