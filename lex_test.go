// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

package pdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(s string) *buffer {
	b := newBuffer(strings.NewReader(s), 0)
	b.allowEOF = true
	return b
}

// catchLexError runs fn and returns the *LexError it panics with,
// failing the test if it panics with anything else or not at all.
func catchLexError(t *testing.T, fn func()) *LexError {
	t.Helper()
	var le *LexError
	func() {
		defer func() {
			e := recover()
			require.NotNil(t, e, "expected a lex error")
			var ok bool
			le, ok = e.(*LexError)
			require.True(t, ok, "expected *LexError, got %T: %v", e, e)
		}()
		fn()
	}()
	return le
}

func TestReadToken_Basics(t *testing.T) {
	b := newTestBuffer("true false null 123 -17 +5 3.14 -.5 /Name (hi) <686921> [ ] << >> R")
	want := []token{
		true,
		false,
		keyword("null"),
		int64(123),
		int64(-17),
		int64(5),
		float64(3.14),
		float64(-0.5),
		name("Name"),
		"hi",
		"hi!",
		keyword("["),
		keyword("]"),
		keyword("<<"),
		keyword(">>"),
		keyword("R"),
	}
	for i, w := range want {
		assert.Equalf(t, w, b.readToken(), "token %d", i)
	}
}

func TestReadToken_SkipsCommentsAndWhitespace(t *testing.T) {
	b := newTestBuffer("% a comment\n\t\x00 42 % trailing\r7")
	assert.Equal(t, int64(42), b.readToken())
	assert.Equal(t, int64(7), b.readToken())
}

func TestReadToken_TracksOffsets(t *testing.T) {
	b := newTestBuffer("abc def")
	b.readToken()
	assert.Equal(t, int64(3), b.readOffset())
	b.readToken()
	assert.Equal(t, int64(7), b.readOffset())
}

func TestLiteralString_Escapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`(Hello \(World\)\051)`, "Hello (World))"},
		{"(nested (parens) balance)", "nested (parens) balance"},
		{`(\n\r\t\b\f)`, "\n\r\t\b\f"},
		{`(\0053)`, "\0053"},
		{`(\53)`, "+"},
		{"(split \\\nline)", "split line"},
		{"(split \\\r\nline)", "split line"},
		{"(empty: ())", "empty: ()"},
	}
	for _, tt := range tests {
		b := newTestBuffer(tt.in)
		assert.Equalf(t, tt.want, b.readToken(), "input %q", tt.in)
	}
}

func TestLiteralString_Unterminated(t *testing.T) {
	le := catchLexError(t, func() {
		newTestBuffer("(no closing paren").readToken()
	})
	assert.Contains(t, le.Msg, "unterminated")
}

func TestHexString_OddDigitsPadded(t *testing.T) {
	b := newTestBuffer("<48 65 6C\n6C 6F 7>")
	assert.Equal(t, "Hellop", b.readToken())
}

func TestHexString_InvalidDigit(t *testing.T) {
	le := catchLexError(t, func() {
		newTestBuffer("<48xx>").readToken()
	})
	assert.Contains(t, le.Msg, "invalid hex string digit")
}

func TestName_HashEscapes(t *testing.T) {
	b := newTestBuffer("/A#20B /Lime#20Green /Name1/Name2")
	assert.Equal(t, name("A B"), b.readToken())
	assert.Equal(t, name("Lime Green"), b.readToken())
	assert.Equal(t, name("Name1"), b.readToken())
	assert.Equal(t, name("Name2"), b.readToken())
}

func TestMalformedNumbers(t *testing.T) {
	for _, in := range []string{"--5", "1.2.3", "+-1", "4-2"} {
		le := catchLexError(t, func() {
			newTestBuffer(in).readToken()
		})
		assert.Containsf(t, le.Msg, "malformed number", "input %q", in)
	}
	// a lone dot or sign carries no digits: plain keyword, not a number
	b := newTestBuffer(".")
	assert.Equal(t, keyword("."), b.readToken())
}

func TestReadObject_Reference(t *testing.T) {
	b := newTestBuffer("12 0 R")
	assert.Equal(t, objptr{12, 0}, b.readObject())
}

func TestReadObject_BareIntegersAreNotReferences(t *testing.T) {
	b := newTestBuffer("1 2 3")
	assert.Equal(t, int64(1), b.readObject())
	assert.Equal(t, int64(2), b.readObject())
	assert.Equal(t, int64(3), b.readObject())
}

func TestReadObject_Definition(t *testing.T) {
	b := newTestBuffer("7 0 obj << /A [1 2 3] /B (s) >> endobj")
	def, ok := b.readObject().(objdef)
	require.True(t, ok)
	assert.Equal(t, objptr{7, 0}, def.ptr)
	d, ok := def.obj.(dict)
	require.True(t, ok)
	assert.Equal(t, array{int64(1), int64(2), int64(3)}, d[name("A")])
	assert.Equal(t, "s", d[name("B")])
}

func TestReadObject_MissingEndobjTolerated(t *testing.T) {
	b := newTestBuffer("7 0 obj (payload) 8 0 obj (next) endobj")
	def, ok := b.readObject().(objdef)
	require.True(t, ok)
	assert.Equal(t, "payload", def.obj)

	def2, ok := b.readObject().(objdef)
	require.True(t, ok)
	assert.Equal(t, objptr{8, 0}, def2.ptr)
	assert.Equal(t, "next", def2.obj)
}

func TestReadObject_NestedContainers(t *testing.T) {
	b := newTestBuffer("<< /Kids [<< /P 1 0 R >> null true] /Size 3 >>")
	d, ok := b.readObject().(dict)
	require.True(t, ok)
	kids, ok := d[name("Kids")].(array)
	require.True(t, ok)
	require.Len(t, kids, 3)
	inner, ok := kids[0].(dict)
	require.True(t, ok)
	assert.Equal(t, objptr{1, 0}, inner[name("P")])
	assert.Nil(t, kids[1])
	assert.Equal(t, true, kids[2])
}

func TestReadObject_NonNameDictKey(t *testing.T) {
	defer func() {
		e := recover()
		require.NotNil(t, e)
		_, ok := e.(*ParseError)
		assert.True(t, ok, "expected *ParseError, got %T", e)
	}()
	newTestBuffer("<< (oops) 1 >>").readObject()
}

func TestReadObject_StreamRecordsPayloadOffset(t *testing.T) {
	src := "5 0 obj << /Length 3 >>\nstream\r\nabc\nendstream endobj"
	b := newTestBuffer(src)
	def, ok := b.readObject().(objdef)
	require.True(t, ok)
	strm, ok := def.obj.(stream)
	require.True(t, ok)
	assert.Equal(t, objptr{5, 0}, strm.ptr)
	assert.Equal(t, int64(strings.Index(src, "abc")), strm.offset)
	assert.Equal(t, int64(3), strm.hdr[name("Length")])
}

func TestBuffer_SeekForward(t *testing.T) {
	b := newTestBuffer("0123456789")
	b.seekForward(5)
	assert.Equal(t, byte('5'), b.readByte())
}

func TestBuffer_UnreadToken(t *testing.T) {
	b := newTestBuffer("1 2")
	tok := b.readToken()
	b.unreadToken(tok)
	assert.Equal(t, tok, b.readToken())
	assert.Equal(t, int64(2), b.readToken())
}
