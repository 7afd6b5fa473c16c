package domain

import "errors"

var (
	ErrNoCredential = errors.New("no discord credential linked")
	ErrSuperseded   = errors.New("superseded by newer join request")
	ErrSessionLost  = errors.New("gateway session lost")
)
