// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

package pdf

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lzwCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func ascii85Encode(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ascii85.NewEncoder(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	buf.WriteString("~>")
	return buf.Bytes()
}

// paramDict builds a direct DecodeParms value; no Reader involved since
// every entry is a direct object.
func paramDict(entries dict) Value {
	return Value{nil, objptr{}, entries}
}

func decodeFilter(t *testing.T, enc []byte, fname string, param Value) ([]byte, error) {
	t.Helper()
	return io.ReadAll(applyFilter(bytes.NewReader(enc), fname, param))
}

func TestFlateDecode(t *testing.T) {
	plain := []byte("flate round trip with some repetition repetition repetition")
	got, err := decodeFilter(t, zlibCompress(t, plain), "FlateDecode", Value{})
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestFlateDecode_CorruptInputIsFilterError(t *testing.T) {
	_, err := decodeFilter(t, []byte("this is not zlib data"), "FlateDecode", Value{})
	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "FlateDecode", ferr.Filter)
}

func TestLZWDecode(t *testing.T) {
	plain := []byte("lzw is the other compression filter, msb first, 8 bit literals")
	got, err := decodeFilter(t, lzwCompress(t, plain), "LZWDecode", Value{})
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestASCIIHexDecode(t *testing.T) {
	plain := []byte("Hello, hex!")
	enc := []byte(hex.EncodeToString(plain) + ">")
	got, err := decodeFilter(t, enc, "ASCIIHexDecode", Value{})
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestASCIIHexDecode_WhitespaceAndOddPadding(t *testing.T) {
	got, err := decodeFilter(t, []byte("4 86\t56C6C 6F7>"), "ASCIIHexDecode", Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte("Hellop"), got)
}

func TestASCIIHexDecode_InvalidDigit(t *testing.T) {
	_, err := decodeFilter(t, []byte("48x>"), "ASCIIHexDecode", Value{})
	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "ASCIIHexDecode", ferr.Filter)
}

func TestASCII85Decode(t *testing.T) {
	plain := []byte("ascii85 carries four bytes in five characters")
	got, err := decodeFilter(t, ascii85Encode(t, plain), "ASCII85Decode", Value{})
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestASCII85Decode_IgnoresEmbeddedWhitespace(t *testing.T) {
	plain := []byte("whitespace everywhere")
	enc := ascii85Encode(t, plain)
	var spaced bytes.Buffer
	for i, c := range enc {
		spaced.WriteByte(c)
		if i%5 == 0 {
			spaced.WriteString("\r\n ")
		}
	}
	got, err := decodeFilter(t, spaced.Bytes(), "ASCII85Decode", Value{})
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestRunLengthDecode(t *testing.T) {
	// 4×'a' (replicate), "xyz" (literal of 3), 2×'b' (replicate), EOD
	enc := []byte{253, 'a', 2, 'x', 'y', 'z', 255, 'b', 128}
	got, err := decodeFilter(t, enc, "RunLengthDecode", Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaxyzbb"), got)
}

func TestRunLengthDecode_RunsSurviveSmallReads(t *testing.T) {
	enc := []byte{253, 'a', 2, 'x', 'y', 'z', 128}
	rd := applyFilter(bytes.NewReader(enc), "RunLengthDecode", Value{})
	var out []byte
	buf := make([]byte, 1)
	for {
		n, err := rd.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, []byte("aaaaxyz"), out)
}

func TestRunLengthDecode_TruncatedLiteral(t *testing.T) {
	_, err := decodeFilter(t, []byte{5, 'a', 'b'}, "RunLengthDecode", Value{})
	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "RunLengthDecode", ferr.Filter)
}

func TestImageFiltersPassThrough(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'e', 'g'}
	for _, fname := range []string{"DCTDecode", "CCITTFaxDecode", "JPXDecode"} {
		got, err := decodeFilter(t, raw, fname, Value{})
		require.NoError(t, err)
		assert.Equalf(t, raw, got, "%s must pass data through unmodified", fname)
	}
}

func TestUnknownFilter(t *testing.T) {
	_, err := decodeFilter(t, []byte("data"), "NoSuchDecode", Value{})
	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "NoSuchDecode", ferr.Filter)
}

func TestPredictor_TIFFHorizontal(t *testing.T) {
	// two rows of four columns, stored as horizontal differences
	diffed := []byte{
		10, 1, 1, 1,
		20, 2, 2, 2,
	}
	enc := zlibCompress(t, diffed)
	param := paramDict(dict{
		name("Predictor"): int64(2),
		name("Columns"):   int64(4),
	})
	got, err := decodeFilter(t, enc, "FlateDecode", param)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 11, 12, 13, 20, 22, 24, 26}, got)
}

func TestPredictor_PNGRows(t *testing.T) {
	// row tags: None, Sub, Up, Paeth — each row 3 columns wide
	encoded := []byte{
		0, 5, 6, 7, // None: 5 6 7
		1, 10, 1, 1, // Sub:  10 11 12
		2, 1, 1, 1, // Up:   11 12 13
		4, 1, 1, 1, // Paeth (left/up/diag): 12 13 14
	}
	enc := zlibCompress(t, encoded)
	param := paramDict(dict{
		name("Predictor"): int64(15),
		name("Columns"):   int64(3),
	})
	got, err := decodeFilter(t, enc, "FlateDecode", param)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		5, 6, 7,
		10, 11, 12,
		11, 12, 13,
		12, 13, 14,
	}, got)
}

func TestPredictor_InvalidRowTag(t *testing.T) {
	enc := zlibCompress(t, []byte{9, 1, 1, 1})
	param := paramDict(dict{
		name("Predictor"): int64(15),
		name("Columns"):   int64(3),
	})
	_, err := decodeFilter(t, enc, "FlateDecode", param)
	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
}

func TestPredictor_UnsupportedValue(t *testing.T) {
	enc := zlibCompress(t, []byte{1, 2, 3})
	param := paramDict(dict{name("Predictor"): int64(5)})
	_, err := decodeFilter(t, enc, "FlateDecode", param)
	require.Error(t, err)
}

func TestFilterChain_InDocument(t *testing.T) {
	plain := []byte("chained: flate inside ascii85")
	enc := ascii85Encode(t, zlibCompress(t, plain))

	b := simpleDoc()
	b.addStream(3, "/Filter [/ASCII85Decode /FlateDecode]", enc)
	data := b.finish("/Root 1 0 R")
	r := openDoc(t, data, nil)

	v, err := r.Resolve(ObjectID{3, 0})
	require.NoError(t, err)
	got, err := v.DecodedBytes()
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	// the raw bytes stay available alongside
	raw, err := v.RawBytes()
	require.NoError(t, err)
	assert.Equal(t, enc, raw)
}

func TestFlateStream_InDocument(t *testing.T) {
	plain := bytes.Repeat([]byte("compressible "), 50)
	b := simpleDoc()
	b.addStream(3, "/Filter /FlateDecode", zlibCompress(t, plain))
	data := b.finish("/Root 1 0 R")
	r := openDoc(t, data, nil)

	v, err := r.Resolve(ObjectID{3, 0})
	require.NoError(t, err)

	// streaming access
	rc := v.Reader()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, plain, got)

	// cached access
	got2, err := v.DecodedBytes()
	require.NoError(t, err)
	assert.Equal(t, plain, got2)
}

func TestAlphaReader_StopsAtMarker(t *testing.T) {
	r := newAlphaReader(bytes.NewReader([]byte("!u \n#~>after")))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("!u#"), got)
}
