package service

import (
	"errors"
	"fmt"

	"github.com/channelhub/internal/guard"
	"github.com/channelhub/internal/repository"
)

// ErrValidation — пустой текст, отсутствует обязательное поле и т.п.
var ErrValidation = errors.New("validation failed")

func validation(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, v...))
}

// Kind — категория ошибки для вызывающей стороны.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindNotAMember
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotAMember:
		return "not_a_member"
	default:
		return "internal"
	}
}

// KindOf относит ошибку сервиса к ближайшей категории. Неизвестные ошибки — KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, guard.ErrNotMember):
		return KindNotAMember
	case errors.Is(err, guard.ErrForbidden), errors.Is(err, repository.ErrForbidden):
		return KindForbidden
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrAlreadyMember),
		errors.Is(err, repository.ErrNotMember),
		errors.Is(err, repository.ErrArchived),
		errors.Is(err, repository.ErrStaleVersion):
		return KindConflict
	default:
		return KindInternal
	}
}
