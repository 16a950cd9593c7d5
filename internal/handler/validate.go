package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"marcaje/internal/attendance"
)

var registerOnce sync.Once

// registerValidators adds the domain tags to gin's validator:
// hhmm for "15:04" clock strings and weekday for 0 (Sunday) to 6.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			return attendance.ValidHHMM(fl.Field().String())
		})
		_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
			d := fl.Field().Int()
			return d >= 0 && d <= 6
		})
	})
}

// bindMessage turns validator errors into one readable line.
func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "hhmm":
			parts = append(parts, field+" must be HH:MM")
		case "weekday":
			parts = append(parts, field+" must be between 0 and 6")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
