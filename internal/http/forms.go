package http

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"semaphore/portal/internal/store"
)

var (
	validate *validator.Validate

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?:\+33|0)[1-9]\d{8}$`), // France
		regexp.MustCompile(`^(?:\+?1)?[2-9]\d{9}$`),  // Canada
		regexp.MustCompile(`^\+228[0-9]{8}$`),        // Togo
	}
	courseCodePattern = regexp.MustCompile(`^[A-Z]{3}[0-9]{3}$`)
	whitespace        = regexp.MustCompile(`\s+`)
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return validPhone(fl.Field().String())
	})
	_ = validate.RegisterValidation("course_code", func(fl validator.FieldLevel) bool {
		return courseCodePattern.MatchString(fl.Field().String())
	})
}

func normalizePhone(value string) string {
	return whitespace.ReplaceAllString(value, "")
}

func validPhone(value string) bool {
	clean := normalizePhone(value)
	for _, pattern := range phonePatterns {
		if pattern.MatchString(clean) {
			return true
		}
	}
	return false
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	From     string `json:"from,omitempty"`
}

type registerForm struct {
	FirstName       string     `json:"firstName" validate:"required,min=2"`
	LastName        string     `json:"lastName" validate:"required,min=2"`
	Email           string     `json:"email" validate:"required,email"`
	Password        string     `json:"password" validate:"required,min=8"`
	ConfirmPassword string     `json:"confirmPassword" validate:"required,eqfield=Password"`
	Role            store.Role `json:"role" validate:"required,oneof=student professor parent major admin"`
	PhoneNumber     string     `json:"phoneNumber,omitempty" validate:"omitempty,phone"`
	Class           string     `json:"class,omitempty" validate:"required_if=Role student"`
}

type attendanceRecord struct {
	StudentID string `json:"studentId" validate:"required"`
	CourseID  string `json:"courseId,omitempty"`
	Status    string `json:"status" validate:"required,oneof=PRESENT ABSENT LATE"`
	Date      string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type attendanceForm struct {
	Records []attendanceRecord `json:"records" validate:"required,min=1,dive"`
}

type justifyForm struct {
	Reason   string `json:"reason" validate:"required,min=3,max=500"`
	Document string `json:"document,omitempty"`
}

// formErrors maps field names to the failed rule.
type formErrors map[string]string

func (e formErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "invalid fields: " + strings.Join(fields, ", ")
}

func checkForm(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := formErrors{}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// Collection payload rules, keyed by collection.
var (
	createRules = map[string]map[string]string{
		store.KeyCourses: {
			"title":       "required,min=3",
			"code":        "required,course_code",
			"description": "omitempty,max=500",
		},
		store.KeyDocuments: {
			"title": "required,min=3",
			"type":  "required",
		},
	}
	patchRules = map[string]map[string]string{
		store.KeyCourses: {
			"title":       "min=3",
			"code":        "course_code",
			"description": "max=500",
		},
		store.KeyDocuments: {
			"title": "min=3",
		},
	}
)

// checkEntity validates item against the rules of key. Patches only check the
// fields they carry.
func checkEntity(key string, item store.Entity, patch bool) error {
	rules := createRules[key]
	if patch {
		rules = map[string]string{}
		for field, rule := range patchRules[key] {
			if _, ok := item[field]; ok {
				rules[field] = rule
			}
		}
	}
	if len(rules) == 0 {
		return nil
	}
	out := formErrors{}
	for field, rule := range rules {
		value, ok := item[field]
		if ok && value != nil {
			if _, isString := value.(string); !isString {
				out[field] = "string"
				continue
			}
		}
		if err := validate.Var(value, rule); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				out[field] = verrs[0].Tag()
			} else {
				out[field] = "invalid"
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	return nil
}
