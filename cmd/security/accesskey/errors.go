package accesskey

import "errors"

var (
	ErrKeyTooShort = errors.New("access key too short")
	ErrKeyTooLong  = errors.New("access key too long")
	ErrWeakKey     = errors.New("weak access key")
	ErrInvalidHash = errors.New("invalid access key hash")
)
