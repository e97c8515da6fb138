// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

// Locating, parsing, and merging cross-reference information: classical
// tables, cross-reference streams, hybrid files, and the recovery scan
// used when the structured path fails.

package pdf

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/Halolegend94/pdf4go/logger"
)

// An xref entry locates one indirect object: either directly at a byte
// offset, or compressed inside an object stream. A zero ptr marks an
// empty slot; the pair {0, 65535} marks a slot recorded as free, which
// masks the same object number in older sections.
type xref struct {
	ptr      objptr
	inStream bool
	stream   objptr
	offset   int64
}

var freeEntry = xref{ptr: objptr{0, 65535}}

// readXrefChain walks the chain of cross-reference sections starting at
// the newest one, merging entries and trailer keys newest-wins. The
// visited set guards against /Prev cycles in malformed files.
func (r *Reader) readXrefChain(start int64) ([]xref, objptr, dict, error) {
	var (
		table      []xref
		trailer    dict
		trailerptr objptr
	)
	visited := make(map[int64]bool)
	queue := []int64{start}

	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]
		if off < 0 || off >= r.end {
			return nil, objptr{}, nil, &XRefError{Offset: off, Msg: "xref offset out of range"}
		}
		if visited[off] {
			logger.Debug(fmt.Sprintf("xref: offset %d already visited, breaking chain", off), true)
			continue
		}
		visited[off] = true

		b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
		tok := b.readToken()

		var (
			sectionTrailer dict
			err            error
		)
		if tok == keyword("xref") {
			logger.Debug(fmt.Sprintf("xref: classical table at %d", off), true)
			table, sectionTrailer, err = r.readXrefTableSection(b, table)
		} else if _, ok := tok.(int64); ok {
			logger.Debug(fmt.Sprintf("xref: stream at %d", off), true)
			b.unreadToken(tok)
			var ptr objptr
			table, ptr, sectionTrailer, err = r.readXrefStreamSection(b, table)
			if trailerptr == (objptr{}) {
				trailerptr = ptr
			}
		} else {
			err = &XRefError{Offset: off, Msg: fmt.Sprintf("neither xref table nor xref stream found: %v", tok)}
		}
		if err != nil {
			return nil, objptr{}, nil, err
		}

		// A hybrid file's XRefStm is newer than the same section's Prev
		// and must be merged first.
		if x, ok := sectionTrailer[name("XRefStm")].(int64); ok {
			queue = append(queue, x)
		}
		if prev, ok := sectionTrailer[name("Prev")].(int64); ok {
			queue = append(queue, prev)
		}
		trailer = mergeTrailer(trailer, sectionTrailer)
	}

	if trailer == nil {
		return nil, objptr{}, nil, &XRefError{Offset: start, Msg: "no trailer found"}
	}
	if size, ok := trailer[name("Size")].(int64); ok && size >= 0 && size < int64(len(table)) {
		table = table[:size]
	}
	return table, trailerptr, trailer, nil
}

// objNumLimit bounds the object numbers accepted from the byte source.
// Every object definition costs several bytes, so a source of end bytes
// cannot define objects numbered far beyond that; a number past the
// bound would size the table from a handful of digits in the file.
func (r *Reader) objNumLimit() int64 {
	lim := r.end/4 + 512
	if lim > int64(^uint32(0)) {
		lim = int64(^uint32(0))
	}
	return lim
}

// mergeTrailer copies into dst the keys of src that dst does not have
// yet. dst keys win: pass the newer dictionary as dst.
func mergeTrailer(dst, src dict) dict {
	if dst == nil {
		dst = make(dict, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}

// readXrefTableSection parses one classical table section — the xref
// keyword already consumed — followed by its trailer dictionary.
func (r *Reader) readXrefTableSection(b *buffer, table []xref) ([]xref, dict, error) {
	var err error
	table, err = r.readXrefTableData(b, table)
	if err != nil {
		return nil, nil, err
	}
	trailer, ok := safeReadObject(b).(dict)
	if !ok {
		return nil, nil, &XRefError{Offset: b.readOffset(), Msg: "xref table not followed by trailer dictionary"}
	}
	return table, trailer, nil
}

func (r *Reader) readXrefTableData(b *buffer, table []xref) ([]xref, error) {
	limit := r.objNumLimit()
	for {
		tok := b.readToken()
		if tok == keyword("trailer") {
			break
		}
		start, ok1 := tok.(int64)
		count, ok2 := b.readToken().(int64)
		if !ok1 || !ok2 || start < 0 || count < 0 {
			return nil, &XRefError{Offset: b.readOffset(), Msg: "malformed xref subsection header"}
		}
		if count > limit || start > limit-count {
			return nil, &XRefError{Offset: b.readOffset(), Msg: fmt.Sprintf("implausible xref subsection %d +%d in a %d-byte file", start, count, r.end)}
		}
		for i := 0; i < int(count); i++ {
			off, okOff := b.readToken().(int64)
			gen, okGen := b.readToken().(int64)
			alloc, okAlloc := b.readToken().(keyword)
			if !okOff || !okGen || !okAlloc {
				return nil, &XRefError{Offset: b.readOffset(), Msg: fmt.Sprintf("malformed xref entry in subsection starting at %d", start)}
			}
			idx := int(start) + i
			switch alloc {
			case keyword("n"):
				setIfEmpty(&table, idx, xref{ptr: objptr{uint32(idx), uint16(gen)}, offset: off})
			case keyword("f"):
				// a newer free entry masks older in-use ones
				setIfEmpty(&table, idx, freeEntry)
			default:
				return nil, &XRefError{Offset: b.readOffset(), Msg: fmt.Sprintf("unexpected xref entry marker %v", alloc)}
			}
		}
	}
	return table, nil
}

// readXrefStreamSection parses one cross-reference stream section: an
// indirect object whose dictionary has /Type /XRef and doubles as the
// trailer, with fixed-width binary records in the decoded body.
func (r *Reader) readXrefStreamSection(b *buffer, table []xref) ([]xref, objptr, dict, error) {
	obj := safeReadObject(b)
	od, ok := obj.(objdef)
	if !ok {
		return nil, objptr{}, nil, &XRefError{Offset: b.readOffset(), Msg: fmt.Sprintf("xref stream object definition not found: %v", objfmt(obj))}
	}
	strm, ok := od.obj.(stream)
	if !ok {
		return nil, objptr{}, nil, &XRefError{Offset: b.readOffset(), Msg: "xref stream object is not a stream"}
	}
	if strm.hdr[name("Type")] != name("XRef") {
		return nil, objptr{}, nil, &XRefError{Offset: b.readOffset(), Msg: "xref stream does not have /Type /XRef"}
	}
	table, err := r.readXrefStreamData(strm, table)
	if err != nil {
		return nil, objptr{}, nil, err
	}
	return table, od.ptr, strm.hdr, nil
}

func (r *Reader) readXrefStreamData(strm stream, table []xref) ([]xref, error) {
	size, ok := strm.hdr[name("Size")].(int64)
	if !ok {
		return nil, &XRefError{Offset: strm.offset, Msg: "xref stream missing /Size"}
	}
	index, _ := strm.hdr[name("Index")].(array)
	if index == nil {
		index = array{int64(0), size}
	}
	if len(index)%2 != 0 {
		return nil, &XRefError{Offset: strm.offset, Msg: fmt.Sprintf("invalid Index array %v", objfmt(index))}
	}
	ww, ok := strm.hdr[name("W")].(array)
	if !ok {
		return nil, &XRefError{Offset: strm.offset, Msg: "xref stream missing /W array"}
	}
	var w []int
	for _, x := range ww {
		i, ok := x.(int64)
		if !ok || int64(int(i)) != i || i < 0 {
			return nil, &XRefError{Offset: strm.offset, Msg: fmt.Sprintf("invalid W array %v", objfmt(ww))}
		}
		w = append(w, int(i))
	}
	if len(w) < 3 {
		return nil, &XRefError{Offset: strm.offset, Msg: fmt.Sprintf("invalid W array %v", objfmt(ww))}
	}
	wtotal := 0
	for _, wid := range w {
		wtotal += wid
	}

	v := Value{r, objptr{}, strm}
	data := v.Reader()
	defer data.Close()
	buf := make([]byte, wtotal)
	limit := r.objNumLimit()
	for len(index) > 0 {
		start, ok1 := index[0].(int64)
		n, ok2 := index[1].(int64)
		if !ok1 || !ok2 || start < 0 || n < 0 {
			return nil, &XRefError{Offset: strm.offset, Msg: fmt.Sprintf("malformed Index pair %v %v", objfmt(index[0]), objfmt(index[1]))}
		}
		if n > limit || start > limit-n {
			return nil, &XRefError{Offset: strm.offset, Msg: fmt.Sprintf("implausible Index pair %d +%d in a %d-byte file", start, n, r.end)}
		}
		index = index[2:]
		for i := 0; i < int(n); i++ {
			if _, err := io.ReadFull(data, buf); err != nil {
				return nil, &XRefError{Offset: strm.offset, Msg: fmt.Sprintf("reading xref stream records: %v", err)}
			}
			v1 := decodeInt(buf[0:w[0]])
			if w[0] == 0 {
				// a missing first field defaults to type 1
				v1 = 1
			}
			v2 := decodeInt(buf[w[0] : w[0]+w[1]])
			v3 := decodeInt(buf[w[0]+w[1] : w[0]+w[1]+w[2]])
			x := int(start) + i
			switch v1 {
			case 0:
				setIfEmpty(&table, x, freeEntry)
			case 1:
				setIfEmpty(&table, x, xref{ptr: objptr{uint32(x), uint16(v3)}, offset: int64(v2)})
			case 2:
				setIfEmpty(&table, x, xref{ptr: objptr{uint32(x), 0}, inStream: true, stream: objptr{uint32(v2), 0}, offset: int64(v3)})
			default:
				logger.Debug(fmt.Sprintf("xref: invalid stream entry type %d: %x", v1, buf), true)
			}
		}
	}
	return table, nil
}

func decodeInt(b []byte) int {
	x := 0
	for _, c := range b {
		x = x<<8 | int(c)
	}
	return x
}

// ensureLen makes sure s has length at least n (growing capacity if
// needed) and returns the possibly-reallocated slice.
func ensureLen[T any](s []T, n int) []T {
	if n <= len(s) {
		return s
	}
	if cap(s) < n {
		ns := make([]T, n)
		copy(ns, s)
		return ns
	}
	return s[:n]
}

// setIfEmpty sets table[x] to val only if the slot is currently empty.
// Sections are walked newest to oldest, so the first writer wins and
// older sections never overwrite newer ones.
func setIfEmpty(table *[]xref, x int, val xref) {
	if x < 0 {
		return
	}
	*table = ensureLen(*table, x+1)
	if (*table)[x].ptr == (objptr{}) {
		(*table)[x] = val
	}
}

// setAlways sets table[x] unconditionally. The recovery scan walks the
// file front to back, where a later occurrence is the more recent one.
func setAlways(table *[]xref, x int, val xref) {
	if x < 0 {
		return
	}
	*table = ensureLen(*table, x+1)
	(*table)[x] = val
}

// safeReadObject reads one object, converting lex and parse panics into
// a nil result.
func safeReadObject(b *buffer) (obj object) {
	defer func() {
		if e := recover(); e != nil {
			logger.Debug(fmt.Sprintf("object at offset %d unreadable: %v", b.readOffset(), e), true)
			obj = nil
		}
	}()
	return b.readObject()
}

// isLikelyObjectAt performs a lightweight check whether an object
// header or dictionary begins at off.
func (r *Reader) isLikelyObjectAt(off int64) bool {
	if off < 0 || off >= r.end {
		return false
	}
	buf := make([]byte, 64)
	n, err := r.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return false
	}
	if n == 0 {
		return false
	}
	s := bytes.TrimLeft(buf[:n], " \t\r\n\f\x00")
	return objHeaderAtStartRE.Match(s) || bytes.HasPrefix(s, []byte("<<"))
}

var objHeaderAtStartRE = regexp.MustCompile(`^\d+\s+\d+\s+obj\b`)

// scanForObjectAt searches a ±window around approx for "<id> <gen> obj"
// and returns the found offset, or -1.
func (r *Reader) scanForObjectAt(id uint32, gen uint16, approx, window int64) int64 {
	start := approx - window
	if start < 0 {
		start = 0
	}
	end := approx + window
	if end > r.end {
		end = r.end
	}
	if end <= start {
		return -1
	}
	buf := make([]byte, end-start)
	n, err := r.f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return -1
	}
	buf = buf[:n]
	re := regexp.MustCompile(fmt.Sprintf(`\b%d\s+%d\s+obj\b`, id, gen))
	loc := re.FindIndex(buf)
	if loc == nil {
		return -1
	}
	return start + int64(loc[0])
}

// validateXrefEntries checks that each in-use entry's offset actually
// points at an object header, repairing with a small-window scan where
// it does not. It reports how many entries were repaired and how many
// remain invalid.
func (r *Reader) validateXrefEntries(table []xref, window int64) (repaired, invalid int) {
	for i := range table {
		ent := table[i]
		if ent.ptr == (objptr{}) || ent.inStream || ent.ptr == freeEntry.ptr {
			continue
		}
		if r.isLikelyObjectAt(ent.offset) {
			continue
		}
		if found := r.scanForObjectAt(ent.ptr.id, ent.ptr.gen, ent.offset, window); found >= 0 {
			table[i].offset = found
			repaired++
			continue
		}
		invalid++
	}
	return repaired, invalid
}

var objHeaderRE = regexp.MustCompile(`(?:^|[^0-9])(\d{1,10})[ \t\r\n\f\x00]+(\d{1,5})[ \t\r\n\f\x00]+obj\b`)

// scanAllObjects is the recovery path: a full linear scan of the byte
// source collecting every "N G obj" occurrence, where the last
// occurrence of an object number — later in the file, hence more
// recent — wins. Trailer dictionaries found along the way are merged
// newest-wins; if none carries a document root, the object dictionaries
// themselves are searched for /Type /Catalog.
func (r *Reader) scanAllObjects() ([]xref, dict, error) {
	logger.Debug("xref: structured path failed, running recovery scan", true)
	data := readAll(r.f, r.end)

	var table []xref
	limit := r.objNumLimit()
	for _, m := range objHeaderRE.FindAllSubmatchIndex(data, -1) {
		num, err1 := strconv.ParseInt(string(data[m[2]:m[3]]), 10, 64)
		gen, err2 := strconv.ParseInt(string(data[m[4]:m[5]]), 10, 64)
		if err1 != nil || err2 != nil || num <= 0 || num > limit || gen > 65535 {
			continue
		}
		setAlways(&table, int(num), xref{ptr: objptr{uint32(num), uint16(gen)}, offset: int64(m[2])})
	}
	if len(table) == 0 {
		return nil, nil, &XRefError{Msg: "recovery scan found no objects"}
	}

	var trailer dict
	for idx := 0; ; {
		j := bytes.Index(data[idx:], []byte("trailer"))
		if j < 0 {
			break
		}
		pos := int64(idx + j + len("trailer"))
		idx += j + len("trailer")
		b := newBuffer(io.NewSectionReader(r.f, pos, r.end-pos), pos)
		b.allowEOF = true
		if d, ok := safeReadObject(b).(dict); ok {
			// this trailer is newer than everything seen so far
			trailer = mergeTrailer(d, trailer)
		}
	}
	if trailer == nil {
		trailer = make(dict)
	}
	if _, ok := trailer[name("Root")]; !ok {
		if root, ok := r.findCatalog(table); ok {
			trailer[name("Root")] = root
		} else {
			return nil, nil, &XRefError{Msg: "recovery scan found no trailer and no catalog"}
		}
	}
	if _, ok := trailer[name("Size")]; !ok {
		trailer[name("Size")] = int64(len(table))
	}
	return table, trailer, nil
}

// findCatalog scans the recovered objects for a /Type /Catalog
// dictionary to stand in for a missing trailer root.
func (r *Reader) findCatalog(table []xref) (objptr, bool) {
	for _, ent := range table {
		if ent.ptr == (objptr{}) || ent.ptr == freeEntry.ptr {
			continue
		}
		b := newBuffer(io.NewSectionReader(r.f, ent.offset, r.end-ent.offset), ent.offset)
		b.allowEOF = true
		def, ok := safeReadObject(b).(objdef)
		if !ok {
			continue
		}
		if d, ok := def.obj.(dict); ok && d[name("Type")] == name("Catalog") {
			return ent.ptr, true
		}
	}
	return objptr{}, false
}

// readAll slurps the byte source in fixed-size chunks.
func readAll(f io.ReaderAt, size int64) []byte {
	const chunk = 64 * 1024
	data := make([]byte, 0, size)
	buf := make([]byte, chunk)
	for off := int64(0); off < size; off += chunk {
		n, err := f.ReadAt(buf, off)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return data
}
