// Package errors classifies driver failures so callers can decide whether a
// pass should be retried on the next schedule or surfaced to the user.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Transient errors indicate temporary conditions. The scheduler retries them on
// its next pass; the driver itself never retries.

// ErrTransientConnection indicates a transient connection error.
// This includes timeouts, connection refused, DNS resolution failures, and network unreachable errors.
var ErrTransientConnection = errors.New("transient connection error")

// ErrTransientKubernetesAPI indicates a transient management cluster API error.
var ErrTransientKubernetesAPI = errors.New("transient Kubernetes API error")

// Permanent errors indicate configuration problems that require user intervention.

// ErrPermanentConfig indicates a user-facing configuration error, such as an image
// without a kube_version property or a flavor below the configured minimums.
var ErrPermanentConfig = errors.New("configuration error")

// ErrPermanentPrerequisitesMissing indicates that the management cluster lacks
// something the driver depends on, such as the Cluster API CRDs.
var ErrPermanentPrerequisitesMissing = errors.New("prerequisites missing")

// ErrNotSupported is returned by operations the driver does not implement.
var ErrNotSupported = errors.New("operation not supported")

// IsTransientConnection checks if an error is a transient connection error.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientConnection) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"context deadline exceeded",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsTransientKubernetesAPI checks if an error is a transient Kubernetes API error.
func IsTransientKubernetesAPI(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientKubernetesAPI) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"rate limit",
		"too many requests",
		"service unavailable",
		"internal server error",
		"the object has been modified",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// WrapTransientConnection wraps an error as a transient connection error.
// If the error is already a transient connection error, it is returned as-is.
func WrapTransientConnection(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientConnection(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientConnection, err)
}

// WrapTransientKubernetesAPI wraps an error as a transient Kubernetes API error.
func WrapTransientKubernetesAPI(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientKubernetesAPI(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientKubernetesAPI, err)
}

// WrapPermanentConfig wraps an error as a permanent configuration error.
func WrapPermanentConfig(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPermanentConfig, err)
}

// NewConfigError builds a user-facing configuration error.
func NewConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanentConfig, fmt.Sprintf(format, args...))
}

// NewNotSupported reports that the named operation is not implemented by the driver.
func NewNotSupported(operation string) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, operation)
}

// IsTransient checks if an error is transient (should be retried).
func IsTransient(err error) bool {
	return IsTransientConnection(err) || IsTransientKubernetesAPI(err)
}

// IsPermanent checks if an error is permanent (requires user intervention).
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrPermanentConfig) ||
		errors.Is(err, ErrPermanentPrerequisitesMissing) ||
		errors.Is(err, ErrNotSupported)
}

// IsNotSupported reports whether err came from an unimplemented operation.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// ShouldRetry determines if the scheduler should run the failed pass again
// before its next regular interval. Returns (shouldRetry, retryAfter).
func ShouldRetry(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	if IsPermanent(err) {
		return false, 0
	}

	if IsTransient(err) {
		return true, 5 * time.Second
	}

	// Unknown errors wait for the next regular pass.
	return false, 0
}

// IsCRDMissingError checks if an error indicates that a CRD is not installed.
func IsCRDMissingError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no matches for kind") ||
		strings.Contains(errStr, "no kind is registered for the type") ||
		strings.Contains(errStr, "could not find the requested resource")
}

// WrapCRDMissing wraps an error as a permanent prerequisites error for missing CRDs.
func WrapCRDMissing(err error) error {
	if err == nil {
		return nil
	}

	if IsCRDMissingError(err) {
		return fmt.Errorf("%w: CRD not installed: %w", ErrPermanentPrerequisitesMissing, err)
	}

	return err
}

// Reason maps an error onto a low-cardinality label for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermanentConfig):
		return "ConfigError"
	case errors.Is(err, ErrPermanentPrerequisitesMissing):
		return "PrerequisitesMissing"
	case errors.Is(err, ErrNotSupported):
		return "NotSupported"
	case IsTransientConnection(err):
		return "TransientConnection"
	case IsTransientKubernetesAPI(err):
		return "KubernetesAPIError"
	default:
		return "Unknown"
	}
}
