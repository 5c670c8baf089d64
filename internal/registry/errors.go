package registry

import "errors"

// Ошибки реестра техник.
var (
	// ErrUnknownTechnique — техника не зарегистрирована.
	ErrUnknownTechnique = errors.New("unknown technique")

	// ErrInvalidStep — номер шага вне диапазона техники.
	ErrInvalidStep = errors.New("invalid step number")
)
