// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

// Package pdf implements reading of PDF files.
//
// # Overview
//
// PDF is Adobe's Portable Document Format, ubiquitous on the internet.
// A PDF document is a complex data format built on a fairly simple
// structure: a graph of indirect objects indexed by a cross-reference
// table. This package exposes that structure.
//
// Specifically, a PDF is a data structure built from Values, each of
// which has one of the following Kinds:
//
//	Null, for the null object.
//	Integer, for an integer.
//	Real, for a floating-point number.
//	Bool, for a boolean value.
//	Name, for a name constant (as in /Helvetica).
//	String, for a string constant.
//	Dict, for a dictionary of name-value pairs.
//	Array, for an array of values.
//	Stream, for an opaque data stream and associated header dictionary.
//
// The accessors on Value—Int64, Float64, Bool, Name, and so on—return
// a view of the data as the given type. When there is no appropriate
// view, the accessor returns a zero result. For example, the Name
// accessor returns the empty string if called on a Value v for which
// v.Kind() != Name. Returning zero values this way, especially from the
// Dict and Array accessors, which themselves return Values, makes it
// possible to traverse a PDF quickly without writing any error
// checking.
//
// A Reader is constructed once from a byte source. Its cross-reference
// table is built (or recovered) eagerly at construction; individual
// objects are parsed lazily and cached for the Reader's lifetime, so
// each indirect object is materialized at most once no matter how many
// references point at it. The Reader is read-only and safe for
// concurrent use after construction. Higher-level interpretation of
// the object graph — page trees, fonts, content streams — can be built
// on top of the Value API in other packages.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Halolegend94/pdf4go/logger"
)

// A Reader is a single PDF file open for reading.
type Reader struct {
	f          io.ReaderAt
	end        int64
	cfg        *Config
	version    string
	trailerptr objptr

	mu        sync.RWMutex
	xref      []xref
	trailer   dict
	objCache  map[objptr]object
	strmCache map[objptr][]byte

	flight    singleflight.Group
	rescanMu  sync.Mutex
	rescanned bool
}

// Open opens the named file for reading as a PDF document with the
// default configuration. The caller owns the returned file handle and
// must keep it open for as long as the Reader is in use.
func Open(file string) (*os.File, *Reader, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	logger.Debug(fmt.Sprintf("document: file:%s -- opened (size=%d)", file, fi.Size()), true)
	r, err := NewReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, r, nil
}

// NewReader opens a document for reading, using the data in f with the
// given total size and the default configuration.
func NewReader(f io.ReaderAt, size int64) (*Reader, error) {
	return NewReaderWithConfig(f, size, NewDefaultConfig())
}

// NewReaderWithConfig opens a document for reading with an explicit
// configuration. In best-effort mode a failure of the structured
// cross-reference path falls back to a full-file recovery scan; only a
// byte source yielding no objects at all is a fatal construction
// failure. In strict mode the first structural error is returned.
func NewReaderWithConfig(f io.ReaderAt, size int64, cfg *Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pdf: invalid config: %w", err)
	}
	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}
	if size <= 0 {
		return nil, errors.New("not a PDF file: empty")
	}

	r := &Reader{
		f:         f,
		end:       size,
		cfg:       cfg,
		objCache:  make(map[objptr]object),
		strmCache: make(map[objptr][]byte),
	}
	strict := cfg.ParsingMode == Strict

	version, err := readHeaderVersion(f)
	if err != nil {
		if strict {
			return nil, err
		}
		logger.Error(fmt.Sprintf("header check failed, continuing: %v", err))
	}
	r.version = version

	if err := ValidateEOFMarker(f, size); err != nil {
		if strict {
			return nil, err
		}
		logger.Error(fmt.Sprintf("EOF marker check failed, continuing: %v", err))
	}

	if err := r.buildXref(); err != nil {
		if strict {
			return nil, err
		}
		logger.Error(fmt.Sprintf("cross-reference chain unusable (%v), scanning whole file", err))
		table, trailer, serr := r.scanAllObjects()
		if serr != nil {
			return nil, fmt.Errorf("pdf: unparsable file: %w", serr)
		}
		r.xref, r.trailer = table, trailer
		r.rescanned = true
	}
	return r, nil
}

// buildXref runs the structured cross-reference path: locate startxref,
// walk the section chain, and validate the resulting offsets.
func (r *Reader) buildXref() error {
	startxref, err := FindStartXref(r.f, r.end)
	if err != nil {
		return err
	}
	table, trailerptr, trailer, err := r.safeReadXrefChain(startxref)
	if err != nil {
		return err
	}
	if window := r.cfg.RepairWindow; window > 0 {
		repaired, invalid := r.validateXrefEntries(table, window)
		if repaired > 0 {
			logger.Debug(fmt.Sprintf("xref: repaired %d entry offsets", repaired), true)
		}
		if invalid > 0 {
			return &XRefError{Offset: startxref, Msg: fmt.Sprintf("%d entries point at nothing recognizable", invalid)}
		}
	}
	r.xref, r.trailerptr, r.trailer = table, trailerptr, trailer
	return nil
}

// safeReadXrefChain confines lex and parse panics raised while walking
// the chain; any such failure becomes an XRefError, which the caller
// turns into the recovery scan.
func (r *Reader) safeReadXrefChain(start int64) (t []xref, p objptr, d dict, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = &XRefError{Offset: start, Msg: fmt.Sprint(e)}
		}
	}()
	return r.readXrefChain(start)
}

// readHeaderVersion validates the PDF header at the beginning of the
// file and returns the version it declares. The header token may be
// preceded by a BOM or other producer garbage within the first few
// bytes.
func readHeaderVersion(f io.ReaderAt) (string, error) {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read error: %w", err)
	}
	if n == 0 {
		return "", errors.New("not a PDF file: empty")
	}
	buf = buf[:n]
	p := bytes.Index(buf, []byte("%PDF-"))
	if p < 0 {
		return "", errors.New("not a PDF file: missing %PDF- header")
	}
	line := buf[p:]
	if i := bytes.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t\x00")
	var major, minor int
	if _, err := fmt.Sscanf(string(line), "%%PDF-%d.%d", &major, &minor); err != nil {
		return "", errors.New("not a PDF file: malformed version in header")
	}
	if !(major == 1 && minor >= 0 && minor <= 7) && !(major == 2 && minor == 0) {
		return "", fmt.Errorf("unsupported PDF version %d.%d", major, minor)
	}
	return fmt.Sprintf("%d.%d", major, minor), nil
}

// CheckHeader validates the PDF header at the beginning of the file:
// it must declare a version within 1.0–1.7 or 2.0.
func CheckHeader(f io.ReaderAt) error {
	_, err := readHeaderVersion(f)
	return err
}

// ValidateEOFMarker checks the tail of the file for the "%%EOF"
// marker, tolerating the trailing whitespace real-world producers emit.
func ValidateEOFMarker(f io.ReaderAt, size int64) error {
	chunk := int64(1024)
	if chunk > size {
		chunk = size
	}
	buf := make([]byte, chunk)
	n, err := f.ReadAt(buf, size-chunk)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read error: %w", err)
	}
	buf = bytes.TrimRight(buf[:n], " \t\r\n\x00")
	if !bytes.HasSuffix(buf, []byte("%%EOF")) {
		return errors.New("not a PDF file: missing %%EOF")
	}
	return nil
}

// FindStartXref locates and parses the startxref pointer near the end
// of the file, returning the byte offset where the newest
// cross-reference section begins.
func FindStartXref(f io.ReaderAt, size int64) (int64, error) {
	chunk := int64(1024)
	if chunk > size {
		chunk = size
	}
	buf := make([]byte, chunk)
	n, err := f.ReadAt(buf, size-chunk)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("read error: %w", err)
	}
	buf = buf[:n]
	i := findLastLine(buf, "startxref")
	if i < 0 {
		return 0, errors.New("malformed PDF file: missing final startxref")
	}
	pos := size - int64(len(buf)) + int64(i)
	b := newBuffer(io.NewSectionReader(f, pos, size-pos), pos)
	b.allowEOF = true
	if tok := safeReadToken(b); tok != keyword("startxref") {
		return 0, fmt.Errorf("malformed PDF file: missing startxref: %v", tok)
	}
	startxref, ok := safeReadToken(b).(int64)
	if !ok {
		return 0, errors.New("malformed PDF file: startxref not followed by integer")
	}
	logger.Debug(fmt.Sprintf("xref: startxref=%d", startxref), true)
	return startxref, nil
}

func safeReadToken(b *buffer) (tok token) {
	defer func() {
		if e := recover(); e != nil {
			tok = nil
		}
	}()
	return b.readToken()
}

// findLastLine searches buf for the last occurrence of the keyword s
// followed by whitespace that includes a proper line ending. Producers
// often insert spaces, tabs, or NULs between the keyword and the
// newline; those are accepted as long as an EOL is among them.
func findLastLine(buf []byte, s string) int {
	bs := []byte(s)
	var indices []int
	for i := 0; ; {
		j := bytes.Index(buf[i:], bs)
		if j < 0 {
			break
		}
		indices = append(indices, i+j)
		i += j + 1
	}
	for k := len(indices) - 1; k >= 0; k-- {
		i := indices[k]
		j := i + len(bs)
		sawEOL := false
		for j < len(buf) && isSpace(buf[j]) {
			if buf[j] == '\r' || buf[j] == '\n' {
				sawEOL = true
			}
			j++
		}
		if sawEOL || j == len(buf) {
			return i
		}
	}
	return -1
}

// Version returns the version declared by the file header, such as
// "1.7", or the empty string if the header was unreadable.
func (r *Reader) Version() string {
	return r.version
}

// Trailer returns the file's merged trailer dictionary. Its Root entry
// references the document catalog; Info and Encrypt are optional and
// passed through uninterpreted.
func (r *Reader) Trailer() Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Value{r, r.trailerptr, r.trailer}
}

// Objects lists the identifiers of all live objects in the merged
// cross-reference table.
func (r *Reader) Objects() []ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ObjectID, 0, len(r.xref))
	for i, ent := range r.xref {
		if ent.ptr == (objptr{}) || ent.ptr == freeEntry.ptr || int64(ent.ptr.id) != int64(i) {
			continue
		}
		ids = append(ids, ObjectID{ent.ptr.id, ent.ptr.gen})
	}
	return ids
}

// Resolve returns the value of the indirect object with the given
// identifier. A free or unknown identifier resolves to the null Value,
// never an error: dangling references are legal in PDF. A reference
// cycle yields a *CycleError naming the first revisited identifier.
func (r *Reader) Resolve(id ObjectID) (Value, error) {
	ptr := objptr{id.Number, id.Generation}
	obj, err := r.cachedResolve(ptr, nil)
	if err != nil {
		return Value{}, err
	}
	return Value{r, ptr, obj}, nil
}

// resolve materializes x in the context of parent: indirect references
// go through the object cache, everything else is wrapped as-is. This
// is the path behind the Value accessors, which have no error channel;
// a failed load logs and degrades to the null Value.
func (r *Reader) resolve(parent objptr, x object) Value {
	if ptr, ok := x.(objptr); ok {
		obj, err := r.cachedResolve(ptr, nil)
		if err != nil {
			logger.Error(fmt.Sprintf("resolve %d %d R: %v", ptr.id, ptr.gen, err))
			return Value{}
		}
		x = obj
		parent = ptr
	}
	switch x.(type) {
	case nil, bool, int64, float64, string, name, dict, array, stream:
		return Value{r, parent, x}
	default:
		logger.Error(fmt.Sprintf("unexpected value type %T in resolve", x))
		return Value{}
	}
}

// cachedResolve is the get-or-parse core of the object cache.
// Concurrent calls for the same identifier are collapsed by the
// singleflight group so parsing happens at most once; calls for
// different identifiers proceed independently. seen is the
// per-resolution-chain visiting set: re-entering an identifier already
// on the chain is a reference cycle, detected before entering the
// flight group so a self-referential chain can never deadlock on its
// own key.
//
// A flight function never resolves another object. Compressed members,
// which resolve their container back through this cache, load outside
// the flight group: holding one key while waiting on another would let
// two chains chasing mutually dependent containers block each other
// forever. Member extraction is idempotent, so racing loads of the
// same member simply store the same value.
func (r *Reader) cachedResolve(ptr objptr, seen map[objptr]bool) (object, error) {
	if seen[ptr] {
		return nil, &CycleError{Number: ptr.id, Generation: ptr.gen}
	}
	if seen == nil {
		seen = make(map[objptr]bool)
	}
	seen[ptr] = true
	defer delete(seen, ptr)

	r.mu.RLock()
	obj, ok := r.objCache[ptr]
	r.mu.RUnlock()
	if !ok {
		if ent, found := r.lookup(ptr); found && ent.inStream {
			loaded, err := r.load(ptr, seen)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			if cached, ok := r.objCache[ptr]; ok {
				loaded = cached
			} else {
				r.objCache[ptr] = loaded
			}
			r.mu.Unlock()
			obj = loaded
		} else {
			key := fmt.Sprintf("%d/%d", ptr.id, ptr.gen)
			res, err, _ := r.flight.Do(key, func() (interface{}, error) {
				r.mu.RLock()
				obj, ok := r.objCache[ptr]
				r.mu.RUnlock()
				if ok {
					return obj, nil
				}
				obj, err := r.load(ptr, seen)
				if err != nil {
					return nil, err
				}
				r.mu.Lock()
				r.objCache[ptr] = obj
				r.mu.Unlock()
				return obj, nil
			})
			if err != nil {
				return nil, err
			}
			obj = res
		}
	}
	// An object body may itself be a bare reference, cached as such;
	// chase it on the same chain so 1 -> 2 -> 1 trips the cycle check.
	if next, ok := obj.(objptr); ok {
		return r.cachedResolve(next, seen)
	}
	return obj, nil
}

// lookup finds the cross-reference entry for ptr. A stale generation —
// one superseded by a later incremental update — does not match.
func (r *Reader) lookup(ptr objptr) (xref, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int64(ptr.id) >= int64(len(r.xref)) {
		return xref{}, false
	}
	ent := r.xref[ptr.id]
	if ent.ptr != ptr || (!ent.inStream && ent.offset == 0) {
		return xref{}, false
	}
	return ent, true
}

// load parses the object ptr points at. Lex and parse panics are
// confined here: a failure loading one object surfaces as an error for
// that object only and never aborts resolution of its siblings.
func (r *Reader) load(ptr objptr, seen map[objptr]bool) (obj object, err error) {
	defer func() {
		if e := recover(); e != nil {
			switch pe := e.(type) {
			case *LexError:
				err = pe
			case *ParseError:
				err = pe
			default:
				err = &ParseError{Msg: fmt.Sprint(e)}
			}
		}
	}()

	ent, ok := r.lookup(ptr)
	if !ok {
		return nil, nil
	}
	if ent.inStream {
		return r.loadFromObjectStream(ptr, ent.stream, seen)
	}
	if obj, ok := r.loadAt(ptr, ent.offset); ok {
		return obj, nil
	}
	// The claimed offset does not hold this object. Try a small-window
	// scan around it, then a one-time whole-file rescan.
	if found := r.scanForObjectAt(ptr.id, ptr.gen, ent.offset, r.cfg.RepairWindow); found >= 0 {
		if obj, ok := r.loadAt(ptr, found); ok {
			return obj, nil
		}
	}
	if r.rescanFromScan() {
		if ent, ok := r.lookup(ptr); ok && !ent.inStream {
			if obj, ok := r.loadAt(ptr, ent.offset); ok {
				return obj, nil
			}
		}
	}
	return nil, &ParseError{Offset: ent.offset, Msg: fmt.Sprintf("object %d %d not found at claimed offset", ptr.id, ptr.gen)}
}

// loadAt parses the object definition expected at offset and reports
// whether it carried the wanted identifier.
func (r *Reader) loadAt(ptr objptr, offset int64) (object, bool) {
	b := newBuffer(io.NewSectionReader(r.f, offset, r.end-offset), offset)
	def, ok := safeReadObject(b).(objdef)
	if !ok || def.ptr != ptr {
		return nil, false
	}
	return def.obj, true
}

// rescanFromScan rebuilds the cross-reference table with the recovery
// scan, at most once per Reader and only in best-effort mode. Already
// cached objects stay valid; entries found by the scan override the
// broken table.
func (r *Reader) rescanFromScan() bool {
	r.rescanMu.Lock()
	defer r.rescanMu.Unlock()
	if r.rescanned || r.cfg.ParsingMode == Strict {
		return false
	}
	r.rescanned = true
	logger.Error("cross-reference table is inconsistent, rescanning whole file")
	table, trailer, err := r.scanAllObjects()
	if err != nil {
		logger.Error(fmt.Sprintf("recovery rescan failed: %v", err))
		return false
	}
	r.mu.Lock()
	r.xref = table
	r.trailer = mergeTrailer(r.trailer, trailer)
	r.mu.Unlock()
	return true
}

// loadFromObjectStream extracts ptr from the object stream held in
// container, following the /Extends chain when the member is not in
// the first container. Members carry no obj/endobj framing: each is a
// bare value at an offset recorded in the container's leading pair
// table, relative to /First.
func (r *Reader) loadFromObjectStream(ptr objptr, container objptr, seen map[objptr]bool) (object, error) {
	for depth := 0; depth < 32; depth++ {
		cobj, err := r.cachedResolve(container, seen)
		if err != nil {
			return nil, err
		}
		strm, ok := cobj.(stream)
		if !ok {
			return nil, &ParseError{Msg: fmt.Sprintf("object stream container %d %d is not a stream", container.id, container.gen)}
		}
		if strm.hdr[name("Type")] != name("ObjStm") {
			return nil, &ParseError{Offset: strm.offset, Msg: "object stream container does not have /Type /ObjStm"}
		}
		nObj, err := r.streamInt(strm, "N", seen)
		if err != nil {
			return nil, err
		}
		first, err := r.streamInt(strm, "First", seen)
		if err != nil {
			return nil, err
		}
		data, err := r.decodeStream(strm, seen)
		if err != nil {
			return nil, err
		}

		b := newBuffer(bytes.NewReader(data), 0)
		b.allowEOF = true
		memberOff := int64(-1)
		for i := int64(0); i < nObj; i++ {
			id, ok1 := b.readToken().(int64)
			off, ok2 := b.readToken().(int64)
			if !ok1 || !ok2 {
				return nil, &ParseError{Offset: strm.offset, Msg: "malformed object stream pair table"}
			}
			if uint32(id) == ptr.id {
				memberOff = first + off
				break
			}
		}
		if memberOff >= 0 && memberOff < int64(len(data)) {
			ob := newBuffer(bytes.NewReader(data[memberOff:]), memberOff)
			ob.allowEOF = true
			ob.allowStream = false
			return ob.readObject(), nil
		}

		ext, ok := strm.hdr[name("Extends")].(objptr)
		if !ok {
			return nil, &ParseError{Offset: strm.offset, Msg: fmt.Sprintf("object %d %d not found in object stream chain", ptr.id, ptr.gen)}
		}
		container = ext
	}
	return nil, &ParseError{Msg: "object stream /Extends chain too deep"}
}

// streamInt resolves an integer entry of a stream header, following one
// indirect reference through the object cache if needed.
func (r *Reader) streamInt(strm stream, key string, seen map[objptr]bool) (int64, error) {
	x := strm.hdr[name(key)]
	if ptr, ok := x.(objptr); ok {
		obj, err := r.cachedResolve(ptr, seen)
		if err != nil {
			return 0, err
		}
		x = obj
	}
	if n, ok := x.(int64); ok {
		return n, nil
	}
	return 0, &ParseError{Offset: strm.offset, Msg: fmt.Sprintf("stream header /%s is not an integer", key)}
}

// DecodedBytes returns the fully decoded payload of the stream v,
// running the filter pipeline on first use and reusing the cached
// result on every later call. When decoding fails the stream's
// dictionary and raw bytes stay usable through Key and RawBytes.
func (v Value) DecodedBytes() ([]byte, error) {
	strm, ok := v.data.(stream)
	if !ok {
		return nil, fmt.Errorf("pdf: stream not present")
	}
	return v.r.decodeStream(strm, nil)
}

func (r *Reader) decodeStream(strm stream, seen map[objptr]bool) ([]byte, error) {
	if strm.ptr != (objptr{}) {
		r.mu.RLock()
		cached, ok := r.strmCache[strm.ptr]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
	}

	if _, ok := strm.hdr[name("F")]; ok {
		return nil, &FilterError{Filter: "F", Offset: 0, Err: errors.New("external file streams are not supported")}
	}
	length, err := r.streamInt(strm, "Length", seen)
	if err != nil || length < 0 || strm.offset+length > r.end {
		logger.Error(fmt.Sprintf("stream at %d: unusable /Length, scanning for endstream", strm.offset))
		length = r.scanForEndstream(strm.offset)
		if length < 0 {
			return nil, &ParseError{Offset: strm.offset, Msg: "stream has no usable /Length and no endstream keyword"}
		}
	}
	r.checkEndstream(strm.offset, length)

	var rd io.Reader = io.NewSectionReader(r.f, strm.offset, length)
	filters := strm.hdr[name("Filter")]
	params := strm.hdr[name("DecodeParms")]
	switch f := filters.(type) {
	case nil:
		// unfiltered
	case name:
		rd = applyFilter(rd, string(f), Value{r, strm.ptr, params})
	case array:
		pa, _ := params.(array)
		for i, fn := range f {
			n, ok := fn.(name)
			if !ok {
				return nil, &FilterError{Filter: objfmt(fn), Err: errors.New("filter name is not a name object")}
			}
			var p object
			if i < len(pa) {
				p = pa[i]
			}
			rd = applyFilter(rd, string(n), Value{r, strm.ptr, p})
		}
	default:
		return nil, &FilterError{Filter: objfmt(filters), Err: errors.New("invalid /Filter value")}
	}

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if strm.ptr != (objptr{}) {
		r.mu.Lock()
		r.strmCache[strm.ptr] = data
		r.mu.Unlock()
	}
	return data, nil
}

// checkEndstream verifies that the endstream keyword follows the
// declared payload. Its absence means the declared /Length is fishy;
// that is logged and recovered past rather than failing the stream.
func (r *Reader) checkEndstream(offset, length int64) {
	buf := make([]byte, 32)
	n, err := r.f.ReadAt(buf, offset+length)
	if err != nil && err != io.EOF {
		return
	}
	s := bytes.TrimLeft(buf[:n], " \t\r\n\f\x00")
	if !bytes.HasPrefix(s, []byte("endstream")) {
		logger.Debug(fmt.Sprintf("stream at %d: no endstream after %d payload bytes, continuing", offset, length), true)
	}
}

// scanForEndstream measures a stream whose /Length is missing or junk
// by locating the endstream keyword. Returns -1 if there is none.
func (r *Reader) scanForEndstream(offset int64) int64 {
	data := readAll(io.NewSectionReader(r.f, offset, r.end-offset), r.end-offset)
	i := bytes.Index(data, []byte("endstream"))
	if i < 0 {
		return -1
	}
	n := int64(i)
	// trim the EOL separating payload from keyword
	if n > 0 && data[n-1] == '\n' {
		n--
	}
	if n > 0 && data[n-1] == '\r' {
		n--
	}
	return n
}
