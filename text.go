// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

// Decoding of PDF “text strings”: PDFDocEncoding and UTF-16BE.

package pdf

import "unicode/utf16"

// pdfDocEncoding maps PDFDocEncoding bytes to runes. A zero entry marks
// a byte with no defined meaning; strings containing such a byte are
// not PDFDocEncoded.
var pdfDocEncoding [256]rune

func init() {
	for i := 0x20; i <= 0x7e; i++ {
		pdfDocEncoding[i] = rune(i)
	}
	for i := 0xa1; i <= 0xff; i++ {
		pdfDocEncoding[i] = rune(i)
	}
	for b, r := range map[byte]rune{
		0x09: '\t', 0x0a: '\n', 0x0d: '\r',
		0x18: 0x02d8, 0x19: 0x02c7, 0x1a: 0x02c6, 0x1b: 0x02d9,
		0x1c: 0x02dd, 0x1d: 0x02db, 0x1e: 0x02da, 0x1f: 0x02dc,
		0x80: 0x2022, 0x81: 0x2020, 0x82: 0x2021, 0x83: 0x2026,
		0x84: 0x2014, 0x85: 0x2013, 0x86: 0x0192, 0x87: 0x2044,
		0x88: 0x2039, 0x89: 0x203a, 0x8a: 0x2212, 0x8b: 0x2030,
		0x8c: 0x201e, 0x8d: 0x201c, 0x8e: 0x201d, 0x8f: 0x2018,
		0x90: 0x2019, 0x91: 0x201a, 0x92: 0x2122, 0x93: 0xfb01,
		0x94: 0xfb02, 0x95: 0x0141, 0x96: 0x0152, 0x97: 0x0160,
		0x98: 0x0178, 0x99: 0x017d, 0x9a: 0x0131, 0x9b: 0x0142,
		0x9c: 0x0153, 0x9d: 0x0161, 0x9e: 0x017e, 0xa0: 0x20ac,
	} {
		pdfDocEncoding[b] = r
	}
	pdfDocEncoding[0xad] = 0 // soft hyphen slot is undefined in PDFDocEncoding
}

func isPDFDocEncoded(s string) bool {
	if isUTF16(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if pdfDocEncoding[s[i]] == 0 {
			return false
		}
	}
	return true
}

func pdfDocDecode(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || pdfDocEncoding[s[i]] != rune(s[i]) {
			goto Decode
		}
	}
	return s

Decode:
	r := make([]rune, 0, len(s))
	for i := 0; i < len(s); i++ {
		r = append(r, pdfDocEncoding[s[i]])
	}
	return string(r)
}

func isUTF16(s string) bool {
	return len(s) >= 2 && s[0] == 0xfe && s[1] == 0xff && len(s)%2 == 0
}

// utf16Decode interprets s as big-endian UTF-16 without the byte order
// mark and converts it to UTF-8, pairing surrogates where present.
func utf16Decode(s string) string {
	if len(s)%2 == 1 {
		s = s[:len(s)-1]
	}
	u := make([]uint16, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		u = append(u, uint16(s[i])<<8|uint16(s[i+1]))
	}
	return string(utf16.Decode(u))
}
