// Package errors defines the typed error kinds the runtime trio (registry,
// lifecycle manager, dependency manager) surface to callers, following the
// same plain-struct-plus-Is-helper shape used throughout the framework's
// controller packages.
package errors

import "fmt"

// InvalidArgumentError signals malformed input: an unparsable filter or
// version string, or a property value of an unknown type.
type InvalidArgumentError struct {
	Op      string
	Message string
}

func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument: %s", e.Op, e.Message)
}

func NewInvalidArgument(op, format string, args ...interface{}) InvalidArgumentError {
	return InvalidArgumentError{Op: op, Message: fmt.Sprintf(format, args...)}
}

func IsInvalidArgument(err error) bool {
	_, ok := err.(InvalidArgumentError)
	return ok
}

// IllegalStateError signals an operation invalid for the target's current
// state: a double unregister, use after uninstall, or a listener trying to
// unregister the service it is currently being notified about.
type IllegalStateError struct {
	Op      string
	Message string
}

func (e IllegalStateError) Error() string {
	return fmt.Sprintf("%s: illegal state: %s", e.Op, e.Message)
}

func NewIllegalState(op, format string, args ...interface{}) IllegalStateError {
	return IllegalStateError{Op: op, Message: fmt.Sprintf(format, args...)}
}

func IsIllegalState(err error) bool {
	_, ok := err.(IllegalStateError)
	return ok
}

// NotFoundError signals no such service reference or bundle id.
type NotFoundError struct {
	Op      string
	Message string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found: %s", e.Op, e.Message)
}

func NewNotFound(op, format string, args ...interface{}) NotFoundError {
	return NotFoundError{Op: op, Message: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	_, ok := err.(NotFoundError)
	return ok
}

// InstallFailedError signals the bundle archive was unreadable or its
// manifest invalid.
type InstallFailedError struct {
	Location string
	Cause    error
}

func (e InstallFailedError) Error() string {
	return fmt.Sprintf("install %s failed: %v", e.Location, e.Cause)
}

func (e InstallFailedError) Unwrap() error { return e.Cause }

func NewInstallFailed(location string, cause error) InstallFailedError {
	return InstallFailedError{Location: location, Cause: cause}
}

func IsInstallFailed(err error) bool {
	_, ok := err.(InstallFailedError)
	return ok
}

// ActivatorFailedError signals a bundle activator returned non-success or
// panicked. Diagnostic carries the underlying cause, recovered if the
// activator panicked.
type ActivatorFailedError struct {
	BundleID   uint64
	Diagnostic string
}

func (e ActivatorFailedError) Error() string {
	return fmt.Sprintf("bundle %d activator failed: %s", e.BundleID, e.Diagnostic)
}

func NewActivatorFailed(bundleID uint64, diagnostic string) ActivatorFailedError {
	return ActivatorFailedError{BundleID: bundleID, Diagnostic: diagnostic}
}

func IsActivatorFailed(err error) bool {
	_, ok := err.(ActivatorFailedError)
	return ok
}

// DependencyUnsatisfiedError signals a component cannot activate because a
// required service dependency has no bound reference.
type DependencyUnsatisfiedError struct {
	Component string
	Interface string
}

func (e DependencyUnsatisfiedError) Error() string {
	return fmt.Sprintf("component %s: required dependency %s is unsatisfied", e.Component, e.Interface)
}

func NewDependencyUnsatisfied(component, iface string) DependencyUnsatisfiedError {
	return DependencyUnsatisfiedError{Component: component, Interface: iface}
}

func IsDependencyUnsatisfied(err error) bool {
	_, ok := err.(DependencyUnsatisfiedError)
	return ok
}

// FrameworkShutdownError signals the operation was invoked after the
// framework stopped, or that the registry lock was found poisoned.
type FrameworkShutdownError struct {
	Op string
}

func (e FrameworkShutdownError) Error() string {
	return fmt.Sprintf("%s: framework is shut down", e.Op)
}

func NewFrameworkShutdown(op string) FrameworkShutdownError {
	return FrameworkShutdownError{Op: op}
}

func IsFrameworkShutdown(err error) bool {
	_, ok := err.(FrameworkShutdownError)
	return ok
}
