// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import "fmt"

// ErrKind classifies a decode-time failure so callers (the nbolt package)
// can map it onto the stable error Codes of spec.md §6 without this
// package importing that one.
type ErrKind int

const (
	ErrProtocol ErrKind = iota
	ErrInvalidMapKeyType
	ErrInvalidLabelType
	ErrInvalidPathNodeType
	ErrInvalidPathRelationshipType
	ErrInvalidPathSequenceLength
	ErrInvalidPathSequenceIdxType
	ErrInvalidPathSequenceIdxRange
)

// DecodeError is returned by Decoder.Decode and DecodeMessage for any
// malformed input: unassigned markers, field-type mismatches inside a
// recognized struct signature, or a non-String Map key (spec.md §4.4).
type DecodeError struct {
	Kind ErrKind
	Msg  string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("codec: %s", e.Msg) }

func decodeErr(kind ErrKind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
