/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package walarcerr gives spec.md §7's error taxonomy a Go type, so a kind
// survives the worker wire protocol (as the error response's numeric code,
// alongside its message and optional stack) instead of being collapsed to a
// bare string.
package walarcerr

import "fmt"

// Kind enumerates the taxonomy from §7. Values double as the numeric error
// code carried in the wire protocol's error response.
type Kind int32

const (
	InvalidArgument Kind = iota + 1
	ConfigEnv
	LockContention
	NotFound
	TransientIO
	Integrity
	Protocol
	Assertion
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid-argument"
	case ConfigEnv:
		return "config-env"
	case LockContention:
		return "lock-contention"
	case NotFound:
		return "not-found"
	case TransientIO:
		return "transient-io"
	case Integrity:
		return "integrity"
	case Protocol:
		return "protocol"
	case Assertion:
		return "assertion"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// Error is the typed error every fallible operation in this module that
// crosses a package or process boundary returns.
type Error struct {
	Kind    Kind
	Code    int32
	Message string
	Stack   string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: int32(kind), Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of kind around cause, keeping cause reachable via
// errors.Unwrap/errors.Is.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: int32(kind), Message: fmt.Sprintf(format, args...), cause: cause}
}

// ExitCode maps a Kind to the foreground command's process exit code:
// anything the database should treat as "try again" exits 1 (not found),
// everything else that reaches the top level is a hard failure (exit 2),
// per spec.md §6/§7 (exit 0 is success and is never produced by an Error).
func (e *Error) ExitCode() int {
	if e.Kind == NotFound {
		return 1
	}
	return 2
}
