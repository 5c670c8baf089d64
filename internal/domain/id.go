package domain

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// idPattern — допустимый формат внешнего идентификатора:
// латиница, цифры, точка, подчёркивание, дефис; от 1 до 64 символов.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateID проверяет идентификатор на соответствие формату.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return NewValidationError("INVALID_ID",
			fmt.Sprintf("id %q must match [A-Za-z0-9._-]{1,64}", id),
			"use only letters, digits, '.', '_' and '-'",
			"keep the id at 64 characters or less",
		)
	}
	return nil
}

// NewSessionID генерирует уникальный идентификатор сессии.
func NewSessionID() string {
	return "session_" + uuid.New().String()
}

// NewPlanID генерирует уникальный идентификатор плана.
func NewPlanID() string {
	return "plan_" + uuid.New().String()
}

// NewGroupID генерирует уникальный идентификатор параллельной группы.
func NewGroupID() string {
	return "group_" + uuid.New().String()
}
