package task

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kazi/core"
)

var (
	statusTag  = "taskstatus"
	statusText = "must be one of: Pending, In Progress, Completed"
)

// InitValidators registers the task validations & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(statusTag, statusValidation)
	core.RegisterCustomTranslation(validate, translator, statusTag, statusText)
}

func statusValidation(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case Status:
		return v.IsValid()
	case string:
		return Status(v).IsValid()
	}
	return false
}
