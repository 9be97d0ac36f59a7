package security

import (
	"errors"
	"fmt"
)

// ErrorSeverity grades the events passed to SecureLogger.LogSecurityEvent.
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityCritical
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// CredentialError is a failed read, write or clear of a stored token set.
type CredentialError struct {
	Operation string // read, write or clear
	Message   string
	Err       error
}

func NewCredentialError(operation, message string) *CredentialError {
	return &CredentialError{Operation: operation, Message: message}
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("credentials %s: %s", e.Operation, e.Message)
}

func (e *CredentialError) Unwrap() error { return e.Err }

func (e *CredentialError) WithCause(err error) *CredentialError {
	e.Err = err
	return e
}

// CryptoError comes from sealing or opening the token file. The cause is kept
// out of Error so that ciphertext fragments never reach a log line.
type CryptoError struct {
	Operation string
	Message   string
	Err       error
}

func NewCryptoError(operation, message string) *CryptoError {
	return &CryptoError{Operation: operation, Message: message}
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("token encryption %s: %s", e.Operation, e.Message)
}

func (e *CryptoError) Unwrap() error { return e.Err }

func (e *CryptoError) WithCause(err error) *CryptoError {
	e.Err = err
	return e
}

// ConfigError names the config key that failed validation.
type ConfigError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) WithCause(err error) *ConfigError {
	e.Err = err
	return e
}

// IsCriticalError reports whether err, anywhere in its chain, means the
// token file is corrupted, tampered with or sealed on another machine.
func IsCriticalError(err error) bool {
	var cryptoErr *CryptoError
	return errors.As(err, &cryptoErr)
}
