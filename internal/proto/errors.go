package proto

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolMismatch is returned when a header does not start with Magic.
	// The stream cannot be resynchronised after this.
	ErrProtocolMismatch = errors.New("openrgb: protocol mismatch")

	// ErrUnknownCommand matches any *UnknownCommandError.
	ErrUnknownCommand = errors.New("openrgb: unknown command")

	// ErrMalformedText is returned for text fields that are not valid UTF-8.
	ErrMalformedText = errors.New("openrgb: malformed text")

	// ErrLengthMismatch is returned when length or count fields disagree with
	// the bytes actually available.
	ErrLengthMismatch = errors.New("openrgb: length mismatch")

	// ErrUnexpectedEOD is returned when a record is truncated.
	ErrUnexpectedEOD = errors.New("openrgb: unexpected end of data")

	// ErrInputTooLarge is returned when a value cannot be represented in its
	// wire length field.
	ErrInputTooLarge = errors.New("openrgb: input too large")

	// ErrUnexpectedVariant matches any *UnexpectedVariantError.
	ErrUnexpectedVariant = errors.New("openrgb: unexpected packet variant")
)

// UnknownCommandError reports a command id outside the registry.
type UnknownCommandError struct {
	ID uint32
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("openrgb: unknown command id %d", e.ID)
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand
}

// UnexpectedVariantError reports a response whose command differs from the
// one the caller was waiting for.
type UnexpectedVariantError struct {
	Want Command
	Got  Command
}

func (e *UnexpectedVariantError) Error() string {
	return fmt.Sprintf("openrgb: expected %s packet, got %s", e.Want, e.Got)
}

func (e *UnexpectedVariantError) Is(target error) bool {
	return target == ErrUnexpectedVariant
}
