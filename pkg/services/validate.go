package services

import (
	"github.com/go-playground/validator/v10"
	"github.com/sovereignrag/process/pkg/models"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	tags := map[string]func(string) bool{
		"process_type":     func(v string) bool { return models.ProcessType(v).Valid() },
		"process_state":    func(v string) bool { return models.ProcessState(v).Valid() },
		"process_event":    func(v string) bool { return models.ProcessEvent(v).Valid() },
		"request_type":     func(v string) bool { return models.RequestType(v).Valid() },
		"data_name":        func(v string) bool { return models.DataName(v).Valid() },
		"stakeholder_type": func(v string) bool { return models.StakeholderType(v).Valid() },
		"channel":          func(v string) bool { return models.Channel(v).Valid() },
	}

	for tag, valid := range tags {
		err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
		if err != nil {
			panic(err)
		}
	}

	return validate
}
