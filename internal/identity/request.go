package identity

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var platformPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// ResolveRequest is the input to Resolver.Resolve. At least one of Name,
// Email or Phone must survive normalization.
type ResolveRequest struct {
	Name               string `json:"name,omitempty" validate:"max=255"`
	Email              string `json:"email,omitempty" validate:"max=320"`
	Phone              string `json:"phone,omitempty" validate:"max=64"`
	Platform           string `json:"platform" validate:"required,platform"`
	PlatformIdentifier string `json:"platform_identifier,omitempty" validate:"max=255"`
	Context            string `json:"context,omitempty" validate:"max=8000"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return platformPattern.MatchString(fl.Field().String())
	})
	return v
}

// validationError flattens validator errors into one ErrInvalidRequest.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param()))
		case "platform":
			msgs = append(msgs, fmt.Sprintf("%s %q must be a lower-case channel name", fe.Field(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}
