package store

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// KeyError annotates a storage failure with the operation and key involved.
type KeyError struct {
	Op  string
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }
