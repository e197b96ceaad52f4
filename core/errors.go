package core

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat marks wrong magic numbers, versions, flags or
	// layouts. The structure it was raised for cannot be used at all.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrIntegrity marks a hash or checksum mismatch.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrKeyNotFound marks an encrypted chunk whose decryption key is not
	// known. Callers may retry once the key has been supplied.
	ErrKeyNotFound = errors.New("decryption key not found")
)

// FormatError is returned when a structure does not follow the expected
// binary layout.
type FormatError struct {
	Structure string // e.g. "blte header", "index header"
	Detail    string
	Err       error // optional underlying cause (usually a short read)
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported %s: %s: %v", e.Structure, e.Detail, e.Err)
	}
	return fmt.Sprintf("unsupported %s: %s", e.Structure, e.Detail)
}

func (e *FormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

func (e *FormatError) Unwrap() error { return e.Err }

// IntegrityError is returned when a stored hash does not match the hash of
// the data it protects.
type IntegrityError struct {
	Structure string
	Want      string
	Got       string
}

func (e *IntegrityError) Error() string {
	if e.Want == "" && e.Got == "" {
		return fmt.Sprintf("integrity check failed for %s", e.Structure)
	}
	return fmt.Sprintf("integrity check failed for %s: want %s, got %s", e.Structure, e.Want, e.Got)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// KeyNotFoundError names the decryption key that could not be resolved.
type KeyNotFoundError struct {
	Name []byte
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("decryption key not found: %s", hex.EncodeToString(e.Name))
}

func (e *KeyNotFoundError) Unwrap() error { return ErrKeyNotFound }

// Formatf builds a FormatError.
func Formatf(structure, format string, args ...any) error {
	return &FormatError{Structure: structure, Detail: fmt.Sprintf(format, args...)}
}

// Integrityf builds an IntegrityError from two printable values.
func Integrityf(structure string, want, got any) error {
	return &IntegrityError{Structure: structure, Want: fmt.Sprintf("%v", want), Got: fmt.Sprintf("%v", got)}
}

// IsUnsupportedFormat checks if an error (or any error in its chain) is a
// format error.
func IsUnsupportedFormat(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

// IsIntegrityError checks if an error is an IntegrityError.
func IsIntegrityError(err error) bool {
	var integrityError *IntegrityError
	return errors.As(err, &integrityError)
}

// IsKeyNotFound checks if an error is a KeyNotFoundError.
func IsKeyNotFound(err error) bool {
	var keyNotFound *KeyNotFoundError
	return errors.As(err, &keyNotFound)
}
