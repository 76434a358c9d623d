package cerr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

func WrapGormError(target string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return NewError(AlreadyExists, fmt.Sprintf("%s already exists", target), err)
	}
	return NewError(Unavailable, "storage unavailable", fmt.Errorf("sql request on %s failed: %w", target, err))
}
