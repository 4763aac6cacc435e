package model

import "errors"

// Error taxonomy shared by every layer. Concrete errors wrap one of these with
// fmt.Errorf("...: %w", ...) and are matched with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInference        = errors.New("inference error")
	ErrResourceMissing  = errors.New("resource missing")
	ErrJobNotFound      = errors.New("job not found")
	ErrReloadFailed     = errors.New("reload failed")
)
