// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

// The stream filter pipeline: decode-only byte transforms, composable
// left to right, with predictor post-processing for Flate and LZW.

package pdf

import (
	"bufio"
	"compress/lzw"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"

	"github.com/Halolegend94/pdf4go/logger"
)

type errorReadCloser struct {
	err error
}

func (e *errorReadCloser) Read([]byte) (int, error) {
	return 0, e.err
}

func (e *errorReadCloser) Close() error {
	return e.err
}

// Reader returns the decoded data contained in the stream v, applying
// each named filter in order, each filter's output feeding the next.
// Filters carrying opaque image data (DCTDecode, CCITTFaxDecode,
// JPXDecode) are passed through unmodified.
// If v.Kind() != Stream, Reader returns a ReadCloser that responds to
// all reads with a “stream not present” error.
func (v Value) Reader() io.ReadCloser {
	x, ok := v.data.(stream)
	if !ok {
		return &errorReadCloser{fmt.Errorf("pdf: stream not present")}
	}
	if !v.Key("F").IsNull() {
		// stream data lives in an external file; no resolution step for
		// that is wired up
		return &errorReadCloser{&FilterError{Filter: "F", Err: fmt.Errorf("external file streams are not supported")}}
	}
	var rd io.Reader
	rd = io.NewSectionReader(v.r.f, x.offset, v.Key("Length").Int64())
	filter := v.Key("Filter")
	param := v.Key("DecodeParms")
	switch filter.Kind() {
	default:
		logger.Error(fmt.Sprintf("invalid Filter value %v", filter))
		return &errorReadCloser{&FilterError{Filter: filter.String(), Err: fmt.Errorf("invalid Filter value")}}
	case Null:
		// ok
	case Name:
		rd = applyFilter(rd, filter.Name(), param)
	case Array:
		for i := 0; i < filter.Len(); i++ {
			rd = applyFilter(rd, filter.Index(i).Name(), param.Index(i))
		}
	}

	return io.NopCloser(rd)
}

// RawBytes returns the still filter-encoded payload of the stream v.
// A decode failure never invalidates the raw bytes.
func (v Value) RawBytes() ([]byte, error) {
	x, ok := v.data.(stream)
	if !ok {
		return nil, fmt.Errorf("pdf: stream not present")
	}
	n := v.Key("Length").Int64()
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(v.r.f, x.offset, n), buf); err != nil {
		return nil, fmt.Errorf("pdf: reading raw stream bytes: %w", err)
	}
	return buf, nil
}

// applyFilter wraps rd in the decoder for one named filter. Decode
// errors surface as *FilterError naming the filter and the byte offset
// reached in the filter's input.
func applyFilter(rd io.Reader, fname string, param Value) io.Reader {
	in := &countingReader{r: rd}
	var out io.Reader
	switch fname {
	default:
		logger.Error("unknown filter " + fname)
		return &errorReadCloser{&FilterError{Filter: fname, Err: fmt.Errorf("unknown filter")}}
	case "FlateDecode":
		zr, err := zlib.NewReader(in)
		if err != nil {
			return &errorReadCloser{&FilterError{Filter: fname, Offset: in.n, Err: err}}
		}
		out = withPredictor(zr, param)
	case "LZWDecode":
		// the stdlib reader speaks the MSB-first 8-bit variant used by PDF
		out = withPredictor(lzw.NewReader(in, lzw.MSB, 8), param)
	case "ASCIIHexDecode":
		out = newASCIIHexReader(in)
	case "ASCII85Decode":
		out = ascii85.NewDecoder(newAlphaReader(in))
	case "RunLengthDecode":
		out = newRunLengthReader(in)
	case "DCTDecode", "CCITTFaxDecode", "JPXDecode":
		// inherently image-opaque: left encoded for the consumer
		return rd
	}
	return &filterReader{name: fname, in: in, r: out}
}

// withPredictor layers the Predictor post-process from DecodeParms over
// an already-decompressed reader.
func withPredictor(rd io.Reader, param Value) io.Reader {
	pred := param.Key("Predictor")
	if pred.Kind() == Null || pred.Int64() == 1 {
		return rd
	}
	colors := int(param.Key("Colors").Int64())
	if colors == 0 {
		colors = 1
	}
	bpc := int(param.Key("BitsPerComponent").Int64())
	if bpc == 0 {
		bpc = 8
	}
	columns := int(param.Key("Columns").Int64())
	if columns == 0 {
		columns = 1
	}
	p := int(pred.Int64())
	if p != 2 && p < 10 {
		return &errorReadCloser{fmt.Errorf("pdf: unsupported predictor %d", p)}
	}
	bpp := (colors*bpc + 7) / 8
	rowBytes := (columns*colors*bpc + 7) / 8
	return &predReader{
		r:         rd,
		predictor: p,
		bpp:       bpp,
		prev:      make([]byte, rowBytes),
		cur:       make([]byte, rowBytes),
	}
}

// countingReader tracks how many input bytes a filter has consumed so
// that decode failures can report an offset.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// filterReader tags every non-EOF error from the wrapped decoder with
// the filter name and input offset.
type filterReader struct {
	name string
	in   *countingReader
	r    io.Reader
}

func (f *filterReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err != nil && err != io.EOF {
		if _, ok := err.(*FilterError); !ok {
			err = &FilterError{Filter: f.name, Offset: f.in.n, Err: err}
		}
	}
	return n, err
}

// predReader reverses the row-wise prediction transform.
// Predictor 2 is TIFF horizontal differencing; predictors 10 and up are
// the PNG reconstruction filters, where each row is prefixed by a
// one-byte tag selecting None, Sub, Up, Average, or Paeth.
type predReader struct {
	r         io.Reader
	predictor int
	bpp       int
	prev      []byte
	cur       []byte
	pend      []byte
	err       error
}

func (p *predReader) Read(b []byte) (int, error) {
	n := 0
	for len(b) > 0 {
		if len(p.pend) > 0 {
			m := copy(b, p.pend)
			n += m
			b = b[m:]
			p.pend = p.pend[m:]
			continue
		}
		if p.err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, p.err
		}
		if err := p.nextRow(); err != nil {
			p.err = err
			if err != io.EOF {
				return n, err
			}
		}
	}
	return n, nil
}

func (p *predReader) nextRow() error {
	if p.predictor == 2 {
		if _, err := io.ReadFull(p.r, p.cur); err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			return err
		}
		for i := p.bpp; i < len(p.cur); i++ {
			p.cur[i] += p.cur[i-p.bpp]
		}
		p.pend = p.cur
		return nil
	}

	var tag [1]byte
	if _, err := io.ReadFull(p.r, tag[:]); err != nil {
		return io.EOF
	}
	if _, err := io.ReadFull(p.r, p.cur); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return err
	}
	switch tag[0] {
	case 0: // None
	case 1: // Sub
		for i := p.bpp; i < len(p.cur); i++ {
			p.cur[i] += p.cur[i-p.bpp]
		}
	case 2: // Up
		for i := range p.cur {
			p.cur[i] += p.prev[i]
		}
	case 3: // Average
		for i := 0; i < p.bpp && i < len(p.cur); i++ {
			p.cur[i] += p.prev[i] / 2
		}
		for i := p.bpp; i < len(p.cur); i++ {
			p.cur[i] += byte((int(p.cur[i-p.bpp]) + int(p.prev[i])) / 2)
		}
	case 4: // Paeth
		for i := 0; i < p.bpp && i < len(p.cur); i++ {
			p.cur[i] += paeth(0, p.prev[i], 0)
		}
		for i := p.bpp; i < len(p.cur); i++ {
			p.cur[i] += paeth(p.cur[i-p.bpp], p.prev[i], p.prev[i-p.bpp])
		}
	default:
		return fmt.Errorf("pdf: invalid PNG predictor row tag %d", tag[0])
	}
	copy(p.prev, p.cur)
	p.pend = p.cur
	return nil
}

func paeth(a, b, c byte) byte {
	pa := abs(int(b) - int(c))
	pb := abs(int(a) - int(c))
	pc := abs(int(a) + int(b) - 2*int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// asciiHexReader decodes ASCIIHexDecode data: hex digit pairs with
// whitespace skipped, terminated by '>', an odd trailing digit padded
// with a zero nibble.
type asciiHexReader struct {
	br  *bufio.Reader
	err error
}

func newASCIIHexReader(r io.Reader) io.Reader {
	return &asciiHexReader{br: bufio.NewReader(r)}
}

func (r *asciiHexReader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	for n < len(p) {
		c, err := r.br.ReadByte()
		if err != nil {
			r.err = io.EOF
			return n, io.EOF
		}
		if isSpace(c) {
			continue
		}
		if c == '>' {
			r.err = io.EOF
			return n, io.EOF
		}
		hi := unhex(c)
		if hi < 0 {
			r.err = fmt.Errorf("invalid hex digit %#q", rune(c))
			return n, r.err
		}
		lo := 0
		for {
			c2, err := r.br.ReadByte()
			if err != nil || c2 == '>' {
				// odd digit count: pad with zero nibble and stop
				p[n] = byte(hi << 4)
				n++
				r.err = io.EOF
				return n, io.EOF
			}
			if isSpace(c2) {
				continue
			}
			lo = unhex(c2)
			if lo < 0 {
				r.err = fmt.Errorf("invalid hex digit %#q", rune(c2))
				return n, r.err
			}
			break
		}
		p[n] = byte(hi<<4 | lo)
		n++
	}
	return n, nil
}

// alphaReader strips everything that is not part of the ASCII85
// alphabet before the data reaches the decoder, and stops at the '~>'
// end marker, which encoding/ascii85 does not consume itself.
type alphaReader struct {
	r    io.Reader
	done bool
}

func newAlphaReader(r io.Reader) io.Reader {
	return &alphaReader{r: r}
}

func (a *alphaReader) Read(p []byte) (int, error) {
	if a.done {
		return 0, io.EOF
	}
	buf := make([]byte, len(p))
	n, err := a.r.Read(buf)
	k := 0
	for _, c := range buf[:n] {
		if c == '~' {
			a.done = true
			break
		}
		if (c >= '!' && c <= 'u') || c == 'z' {
			p[k] = c
			k++
		}
	}
	if k == 0 && a.done {
		return 0, io.EOF
	}
	if k == 0 && err == nil && n > 0 {
		return a.Read(p)
	}
	return k, err
}

// runLengthReader decodes RunLengthDecode data: a length byte below 128
// introduces that many+1 literal bytes, above 128 repeats the next byte
// 257-length times, and 128 ends the data. Run state is kept across
// Read calls so partially delivered runs resume correctly.
type runLengthReader struct {
	br      *bufio.Reader
	err     error
	literal bool
	count   int
	value   byte
}

func newRunLengthReader(r io.Reader) io.Reader {
	return &runLengthReader{br: bufio.NewReader(r)}
}

func (r *runLengthReader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(p) > 0 {
		if r.count > 0 {
			count := r.count
			if count > len(p) {
				count = len(p)
			}
			if r.literal {
				m, err := io.ReadFull(r.br, p[:count])
				n += m
				r.count -= m
				p = p[m:]
				if err != nil {
					r.err = fmt.Errorf("truncated literal run: %w", err)
					return n, r.err
				}
			} else {
				for i := 0; i < count; i++ {
					p[i] = r.value
				}
				n += count
				r.count -= count
				p = p[count:]
			}
			continue
		}

		length, err := r.br.ReadByte()
		if err != nil {
			r.err = io.EOF
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		switch {
		case length == 128: // end of data
			r.err = io.EOF
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF

		case length < 128:
			r.count = int(length) + 1
			r.literal = true

		default:
			v, err := r.br.ReadByte()
			if err != nil {
				r.err = fmt.Errorf("truncated repeat run: %w", err)
				return n, r.err
			}
			r.count = 257 - int(length)
			r.literal = false
			r.value = v
		}
	}
	return n, nil
}
