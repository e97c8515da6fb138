// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

package pdf

import "fmt"

// A LexError reports a malformed token in the input: an unterminated
// string, an invalid hex digit, a number with more than one sign or
// decimal point. It is fatal to the enclosing parse attempt only; the
// Reader converts it into a null Value for the object being resolved.
type LexError struct {
	Offset int64
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("pdf: lex error at offset %d: %s", e.Offset, e.Msg)
}

// A ParseError reports a structural violation while assembling an
// object: a wrong keyword, a non-name dictionary key, an object header
// that does not match the cross-reference entry. Like LexError it is
// fatal to the enclosing object only.
type ParseError struct {
	Offset int64
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pdf: parse error at offset %d: %s", e.Offset, e.Msg)
}

// A FilterError reports a stream decode failure. Offset is the byte
// offset within the failing filter's own input, not within the file.
// The stream's header dictionary and raw bytes remain accessible.
type FilterError struct {
	Filter string
	Offset int64
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("pdf: %s: decode error at input offset %d: %v", e.Filter, e.Offset, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// An XRefError reports that the structured cross-reference path could
// not be walked. In best-effort mode it triggers the recovery scan
// instead of propagating out of NewReader.
type XRefError struct {
	Offset int64
	Msg    string
}

func (e *XRefError) Error() string {
	return fmt.Sprintf("pdf: xref error at offset %d: %s", e.Offset, e.Msg)
}

// A CycleError reports that resolving an indirect object re-entered
// itself, directly or through a chain of references. The caller
// receives it in place of the cyclic value; resolution never loops.
type CycleError struct {
	Number     uint32
	Generation uint16
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pdf: reference cycle through object %d %d", e.Number, e.Generation)
}
