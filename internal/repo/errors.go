package repo

import "errors"

// Общие ошибки слоя персистентности.
var (
	// ErrNotFound — снапшот не найден в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — запрос невозможен (например, неизвестное
	// поле сортировки).
	ErrInvalidState = errors.New("invalid state")
)
