package library

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// validate checks BookFields and SignupRequest against their struct tags.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	mustRegister(v, "notblank", validators.NotBlank)
	mustRegister(v, "library_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(signupIDRules, SignupRequest{})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// signupIDRules ties the id format to the role: students carry an 8-digit
// number, faculty the literal "Faculty" in any case.
func signupIDRules(sl validator.StructLevel) {
	req := sl.Current().Interface().(SignupRequest)
	switch req.Role {
	case RoleStudent:
		if sl.Validator().Var(req.StudentID, "len=8,number") != nil {
			sl.ReportError(req.StudentID, "StudentID", "StudentID", "student_id", "")
		}
	case RoleFaculty:
		if !strings.EqualFold(req.StudentID, "faculty") {
			sl.ReportError(req.StudentID, "StudentID", "StudentID", "faculty_id", "")
		}
	}
}

// validationError turns the first failed rule into an ErrValidation with a
// message fit for the user.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fe := fields[0]

	var msg string
	switch fe.Tag() {
	case "required", "notblank":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "number":
		msg = fmt.Sprintf("%s must contain only digits", fe.Field())
	case "len":
		msg = fmt.Sprintf("%s must be %s digits", fe.Field(), fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "library_email":
		msg = "invalid email format"
	case "student_id":
		msg = "student id must be 8 digits"
	case "faculty_id":
		msg = fmt.Sprintf("faculty members must use %q as their id", "Faculty")
	default:
		msg = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func normalizeBookFields(f BookFields) BookFields {
	return BookFields{
		ISBN:   strings.TrimSpace(f.ISBN),
		Title:  strings.TrimSpace(f.Title),
		Author: strings.TrimSpace(f.Author),
		Genre:  strings.TrimSpace(f.Genre),
	}
}

func validateBookFields(f BookFields) error {
	if err := validate.Struct(f); err != nil {
		return validationError(err)
	}
	return nil
}

// normalizeSignup trims every field except the password.
func normalizeSignup(req SignupRequest) SignupRequest {
	req.Role = Role(strings.TrimSpace(string(req.Role)))
	for _, p := range []*string{&req.StudentID, &req.Name, &req.Username, &req.Email, &req.Contact, &req.Address, &req.Age} {
		*p = strings.TrimSpace(*p)
	}
	return req
}

func validateSignup(req SignupRequest) error {
	if err := validate.Struct(req); err != nil {
		return validationError(err)
	}
	return nil
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
