package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict — имя канала уже занято.
	ErrConflict      = errors.New("already exists")
	ErrAlreadyMember = errors.New("already a member")
	ErrNotMember     = errors.New("not a member")
	// ErrForbidden — изменение чужого сообщения.
	ErrForbidden = errors.New("forbidden")
	// ErrStaleVersion — сообщение изменилось с момента чтения (оптимистичная блокировка).
	ErrStaleVersion = errors.New("stale version")
	// ErrArchived — канал в архиве, запись запрещена.
	ErrArchived = errors.New("channel archived")
)
