package repositories_gorm

import (
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"

	"gitlab.com/lmn-dev/lmn/db/repositories"
)

// handleDBError translates GORM errors into repository errors, keeping the cause.
func handleDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.ErrNotFound
	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrInvalidField), errors.Is(err, gorm.ErrInvalidValue):
		return fmt.Errorf("%w: %v", repositories.ErrInvalidData, err)
	default:
		return fmt.Errorf("%w: %v", repositories.ErrDatabase, err)
	}
}

// isEmptyValue reports whether value is nil or the zero value of its type.
func isEmptyValue(value interface{}) bool {
	if value == nil {
		return true
	}
	val := reflect.ValueOf(value)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return true
		}
		val = val.Elem()
	}
	return val.IsZero()
}
