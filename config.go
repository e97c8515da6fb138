// Copyright © 2026, Cristian Di Pietrantonio. All Rights Reserved.
// SPDX-License-Identifier: MIT

package pdf

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Halolegend94/pdf4go/logger"
)

// ParsingMode selects how a Reader reacts to structural damage.
type ParsingMode string

const (
	// Strict fails construction and resolution on the first structural
	// error instead of attempting recovery.
	Strict ParsingMode = "strict"
	// BestEffort recovers whatever the file still carries: broken
	// cross-reference chains fall back to a whole-file scan, wrong
	// offsets are repaired, damaged objects degrade to null.
	BestEffort ParsingMode = "best-effort"
)

// Config carries the tunables of a Reader and of the Preloader built
// on top of it.
type Config struct {
	// MaxConcurrentPDFs bounds how many documents a Preloader pool
	// warms at once.
	MaxConcurrentPDFs int `validate:"min=1,max=64"`
	// MaxWorkersPerPDF bounds the resolver goroutines used while
	// warming a single document's object cache.
	MaxWorkersPerPDF int           `validate:"min=1,max=64"`
	WorkerTimeout    time.Duration `validate:"required"`
	ParsingMode      ParsingMode   `validate:"oneof=strict best-effort"`
	// RepairWindow is the number of bytes searched around a wrong
	// cross-reference offset before giving up on it. Zero disables the
	// per-entry offset validation and repair.
	RepairWindow int64 `validate:"min=0,max=1048576"`
	DebugOn      bool
	Logger       logger.LogFunc
}

// NewDefaultConfig returns the configuration used by NewReader:
// best-effort parsing with a 1 KiB repair window.
func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrentPDFs: 5,
		MaxWorkersPerPDF:  4,
		WorkerTimeout:     5 * time.Second,
		ParsingMode:       BestEffort,
		RepairWindow:      1024,
		DebugOn:           false,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}
