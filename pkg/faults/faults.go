// Package faults defines the closed error taxonomy observed at component
// boundaries. Adapters classify every raw failure into one of these codes
// before returning; the scheduler and retry layer dispatch on the code alone.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Code identifies a failure class.
type Code string

const (
	// Retryable codes.
	CodeDeadlineExceeded Code = "DEADLINE_EXCEEDED"
	CodeTimeout          Code = "TIMEOUT"
	CodeNetwork          Code = "NETWORK"
	CodeTransient5xx     Code = "TRANSIENT_5XX"
	CodeStaleTab         Code = "STALE_TAB"

	// Terminal codes.
	CodeTabContended Code = "TAB_CONTENDED"
	CodeAuthFailed   Code = "AUTH_FAILED"
	CodePlatformDown Code = "PLATFORM_DOWN"
	CodeCircuitOpen  Code = "CIRCUIT_OPEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeParseError   Code = "PARSE_ERROR"

	// Pipeline-level outcomes.
	CodeVehicleUnresolved   Code = "VEHICLE_UNRESOLVED"
	CodeFailedPricingSource Code = "FAILED_PRICING_SOURCE"
	CodePipelineFailed      Code = "PIPELINE_FAILED"

	// Data-quality codes attached to results, never thrown.
	CodeInvalidLabor       Code = "INVALID_LABOR"
	CodeNoPrice            Code = "NO_PRICE"
	CodePricingGateBlocked Code = "PRICING_GATE_BLOCKED"
)

// Fault is a classified failure. Platform is the source tag of the adapter
// that produced it, when known.
type Fault struct {
	Code     Code
	Platform string
	Err      error
}

func (f *Fault) Error() string {
	switch {
	case f.Platform != "" && f.Err != nil:
		return fmt.Sprintf("%s [%s]: %v", f.Code, f.Platform, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Code, f.Err)
	case f.Platform != "":
		return fmt.Sprintf("%s [%s]", f.Code, f.Platform)
	default:
		return string(f.Code)
	}
}

func (f *Fault) Unwrap() error { return f.Err }

// New creates a Fault with a formatted message.
func New(code Code, platform, format string, args ...any) *Fault {
	return &Fault{Code: code, Platform: platform, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields a bare Fault.
func Wrap(code Code, platform string, err error) *Fault {
	return &Fault{Code: code, Platform: platform, Err: err}
}

// CodeOf extracts the failure code from err, classifying unrecognized errors
// on the way: context deadline/cancellation map to DEADLINE_EXCEEDED, net
// errors to NETWORK or TIMEOUT, everything else to PLATFORM_DOWN.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeDeadlineExceeded
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeTimeout
	}
	return CodePlatformDown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether a failure with this code may be retried.
func Retryable(code Code) bool {
	switch code {
	case CodeTimeout, CodeNetwork, CodeTransient5xx, CodeStaleTab:
		return true
	case CodeDeadlineExceeded:
		// Retryable at most once within its budget; the retry layer
		// enforces the single-attempt cap.
		return true
	default:
		return false
	}
}

// CountsForBreaker reports whether a failure with this code should count
// toward a platform's circuit breaker. Data-shaped outcomes (NOT_FOUND,
// PARSE_ERROR) and auth problems do not trip the breaker.
func CountsForBreaker(code Code) bool {
	switch code {
	case CodeTimeout, CodeNetwork, CodeTransient5xx, CodePlatformDown:
		return true
	default:
		return false
	}
}
