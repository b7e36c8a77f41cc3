// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/nbolt/internal/codec"
)

// Code is a stable integer identifier for an nbolt error, per spec.md §6.
type Code int

const (
	CodeUnexpectedError Code = iota + 1
	CodeInvalidURI
	CodeUnknownURIScheme
	CodeUnknownHost
	CodeProtocolNegotiationFailed
	CodeInvalidCredentials
	CodeConnectionClosed
	CodeSessionFailed
	CodeSessionEnded
	CodeSessionReset
	CodeSessionBusy
	CodeUnclosedResultStream
	CodeStatementEvaluationFailed
	CodeStatementPreviousFailure
	CodeTlsNotSupported
	CodeTlsVerificationFailed
	CodeNoServerTlsSupport
	CodeServerRequiresSecure
	CodeInvalidMapKeyType
	CodeInvalidLabelType
	CodeInvalidPathNodeType
	CodeInvalidPathRelationshipType
	CodeInvalidPathSequenceLength
	CodeInvalidPathSequenceIdxType
	CodeInvalidPathSequenceIdxRange
	CodeAuthRateLimit
	CodeTlsMalformedCertificate
	CodeNoBufs
)

func (c Code) String() string {
	switch c {
	case CodeUnexpectedError:
		return "UnexpectedError"
	case CodeInvalidURI:
		return "InvalidUri"
	case CodeUnknownURIScheme:
		return "UnknownUriScheme"
	case CodeUnknownHost:
		return "UnknownHost"
	case CodeProtocolNegotiationFailed:
		return "ProtocolNegotiationFailed"
	case CodeInvalidCredentials:
		return "InvalidCredentials"
	case CodeConnectionClosed:
		return "ConnectionClosed"
	case CodeSessionFailed:
		return "SessionFailed"
	case CodeSessionEnded:
		return "SessionEnded"
	case CodeSessionReset:
		return "SessionReset"
	case CodeSessionBusy:
		return "SessionBusy"
	case CodeUnclosedResultStream:
		return "UnclosedResultStream"
	case CodeStatementEvaluationFailed:
		return "StatementEvaluationFailed"
	case CodeStatementPreviousFailure:
		return "StatementPreviousFailure"
	case CodeTlsNotSupported:
		return "TlsNotSupported"
	case CodeTlsVerificationFailed:
		return "TlsVerificationFailed"
	case CodeNoServerTlsSupport:
		return "NoServerTlsSupport"
	case CodeServerRequiresSecure:
		return "ServerRequiresSecure"
	case CodeInvalidMapKeyType:
		return "InvalidMapKeyType"
	case CodeInvalidLabelType:
		return "InvalidLabelType"
	case CodeInvalidPathNodeType:
		return "InvalidPathNodeType"
	case CodeInvalidPathRelationshipType:
		return "InvalidPathRelationshipType"
	case CodeInvalidPathSequenceLength:
		return "InvalidPathSequenceLength"
	case CodeInvalidPathSequenceIdxType:
		return "InvalidPathSequenceIdxType"
	case CodeInvalidPathSequenceIdxRange:
		return "InvalidPathSequenceIdxRange"
	case CodeAuthRateLimit:
		return "AuthRateLimit"
	case CodeTlsMalformedCertificate:
		return "TlsMalformedCertificate"
	case CodeNoBufs:
		return "NoBufs"
	default:
		return "Unknown"
	}
}

// Error wraps a Code with the operation that raised it and the underlying
// cause, if any. Use errors.As (or CodeOf) to get at the *Error and its
// Code, or errors.Is with an *Error target carrying the Code to match, to
// classify a failure per spec.md §7's three error bands.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nbolt: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("nbolt: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Code: c}) match any *Error carrying the
// same Code, whatever its Op and Err.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

func newErr(op string, code Code, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the Code carried by err, or CodeUnexpectedError if err is
// not (or does not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpectedError
}

// wrapCodecErr translates a codec package decode failure into this
// package's stable Code vocabulary. codec cannot import this package (it
// would create a cycle), so the translation lives here instead.
func wrapCodecErr(op string, err error) *Error {
	var de *codec.DecodeError
	if !errors.As(err, &de) {
		return newErr(op, CodeConnectionClosed, err)
	}
	switch de.Kind {
	case codec.ErrInvalidMapKeyType:
		return newErr(op, CodeInvalidMapKeyType, err)
	case codec.ErrInvalidLabelType:
		return newErr(op, CodeInvalidLabelType, err)
	case codec.ErrInvalidPathNodeType:
		return newErr(op, CodeInvalidPathNodeType, err)
	case codec.ErrInvalidPathRelationshipType:
		return newErr(op, CodeInvalidPathRelationshipType, err)
	case codec.ErrInvalidPathSequenceLength:
		return newErr(op, CodeInvalidPathSequenceLength, err)
	case codec.ErrInvalidPathSequenceIdxType:
		return newErr(op, CodeInvalidPathSequenceIdxType, err)
	case codec.ErrInvalidPathSequenceIdxRange:
		return newErr(op, CodeInvalidPathSequenceIdxRange, err)
	default:
		return newErr(op, CodeUnexpectedError, err)
	}
}

// sentinel errors used as errors.Is targets without needing an Op string.
var (
	errSessionFailed = &Error{Code: CodeSessionFailed}
	errSessionBusy   = &Error{Code: CodeSessionBusy}
	errSessionEnded  = &Error{Code: CodeSessionEnded}
	errSessionReset  = &Error{Code: CodeSessionReset}
	errNoBufs        = &Error{Code: CodeNoBufs}
)
