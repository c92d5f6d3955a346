package repositories_gorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"gitlab.com/lmn-dev/lmn/db/repositories"
)

func TestHandleDBError(t *testing.T) {
	assert.NoError(t, handleDBError(nil))
	assert.Equal(t, repositories.ErrNotFound, handleDBError(gorm.ErrRecordNotFound))
	assert.ErrorIs(t, handleDBError(gorm.ErrInvalidData), repositories.ErrInvalidData)
	assert.ErrorIs(t, handleDBError(gorm.ErrInvalidDB), repositories.ErrDatabase)
	assert.ErrorContains(t, handleDBError(errors.New("disk full")), "disk full")
}

func TestIsEmptyValue(t *testing.T) {
	var nilPtr *int
	one := 1
	assert.True(t, isEmptyValue(nil))
	assert.True(t, isEmptyValue(nilPtr))
	assert.True(t, isEmptyValue(""))
	assert.False(t, isEmptyValue(&one))
	assert.False(t, isEmptyValue("x"))
}
