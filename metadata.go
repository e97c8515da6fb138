// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

package pdf

import (
	"encoding/json"
	"io"

	"github.com/Halolegend94/pdf4go/logger"
)

// Meta is the document metadata model, built from the trailer's /Info
// dictionary plus a few structural facts.
type Meta struct {
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	CreationDate string `json:"creationDate,omitempty"`
	ModDate      string `json:"modDate,omitempty"`

	// Structural
	PDFVersion string `json:"pdf:PDFVersion,omitempty"`
	Encrypted  bool   `json:"pdf:encrypted"`

	// Access permissions (Standard Security)
	AccessPermission AccessPermission `json:"access_permission"`
}

// ---- access permissions (Standard Security) --------------------------------
// Based on ISO 32000-1 §7.6.3:
// P bits (least significant bit is 1):
// bit 3 (1<<2): print
// bit 4 (1<<3): modify
// bit 5 (1<<4): extract
// bit 6 (1<<5): annotate / fill forms
// bit 9 (1<<8): fill forms (older revs fold with annotate)
// bit 10 (1<<9): extract for accessibility
// bit 11 (1<<10): assemble
// bit 12 (1<<11): print high quality
// In Standard Security a bit set to 1 means the permission is granted.

type AccessPermission struct {
	CanPrint                bool `json:"can_print"`
	CanPrintFaithful        bool `json:"can_print_faithful"`
	CanModify               bool `json:"can_modify"`
	ExtractContent          bool `json:"extract_content"`
	ModifyAnnotations       bool `json:"modify_annotations"`
	FillInForm              bool `json:"fill_in_form"`
	ExtractForAccessibility bool `json:"extract_for_accessibility"`
	AssembleDocument        bool `json:"assemble_document"`
}

// InfoDict returns the raw /Info dictionary as a Value (may be Null).
func (r *Reader) InfoDict() Value {
	return r.Trailer().Key("Info")
}

// Metadata extracts the metadata stored in the document's /Info
// dictionary along with the header version and encryption facts held
// in the trailer. Encrypted documents yield their raw (undecrypted)
// Info strings.
func (r *Reader) Metadata() Meta {
	logger.Debug("reading Info dictionary")
	info := r.InfoDict()
	m := Meta{
		Title:        info.Key("Title").Text(),
		Author:       info.Key("Author").Text(),
		Subject:      info.Key("Subject").Text(),
		Keywords:     info.Key("Keywords").Text(),
		Creator:      info.Key("Creator").Text(),
		Producer:     info.Key("Producer").Text(),
		CreationDate: info.Key("CreationDate").Text(),
		ModDate:      info.Key("ModDate").Text(),
		PDFVersion:   r.Version(),
	}
	encrypt := r.Trailer().Key("Encrypt")
	if !encrypt.IsNull() {
		m.Encrypted = true
		m.AccessPermission = permissionsFromP(encrypt.Key("P").Int64())
	} else {
		// no security handler: everything is allowed
		m.AccessPermission = permissionsFromP(-1)
	}
	return m
}

func permissionsFromP(p int64) AccessPermission {
	bit := func(n uint) bool { return p&(1<<(n-1)) != 0 }
	return AccessPermission{
		CanPrint:                bit(3),
		CanModify:               bit(4),
		ExtractContent:          bit(5),
		ModifyAnnotations:       bit(6),
		FillInForm:              bit(9),
		ExtractForAccessibility: bit(10),
		AssembleDocument:        bit(11),
		CanPrintFaithful:        bit(12),
	}
}

// MetadataJSON writes the document metadata as indented JSON.
func (r *Reader) MetadataJSON(w io.Writer) error {
	m := r.Metadata()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		logger.Error("failed to encode metadata as JSON")
		return err
	}
	return nil
}
