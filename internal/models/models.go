// Package models provides domain models for the backtesting engine.
package models

import (
	"sort"
	"time"

	apperrors "hedge-backtester/internal/errors"
)

// Instrument holds the contract metadata of a tradeable instrument.
type Instrument struct {
	Symbol        string  `json:"symbol" csv:"symbol"`
	Description   string  `json:"description" csv:"description"`
	PointValue    float64 `json:"point_value" csv:"pointValue"`
	Currency      string  `json:"currency" csv:"currency"`
	Exchange      string  `json:"exchange" csv:"exchange"`
	InitialMargin float64 `json:"initial_margin" csv:"initialMargin"`
	MaintMargin   float64 `json:"maint_margin" csv:"maintMargin"`
	Sector        string  `json:"sector" csv:"sector"`
	DataFile      string  `json:"data_file" csv:"datafile"`
}

// InstrumentDB is a read-only instrument lookup built once at startup.
type InstrumentDB struct {
	instruments map[string]Instrument
}

// NewInstrumentDB builds the lookup. Duplicate symbols and non-positive point values fail.
func NewInstrumentDB(instruments ...Instrument) (*InstrumentDB, error) {
	db := &InstrumentDB{instruments: make(map[string]Instrument, len(instruments))}
	for _, inst := range instruments {
		if inst.Symbol == "" {
			return nil, apperrors.NewDataError("instrument", "", "empty symbol", apperrors.ErrInvalidBar)
		}
		if _, exists := db.instruments[inst.Symbol]; exists {
			return nil, apperrors.NewDataError("instrument", inst.Symbol, "duplicate instrument", apperrors.ErrDuplicateSymbol)
		}
		if inst.PointValue <= 0 {
			inst.PointValue = 1
		}
		db.instruments[inst.Symbol] = inst
	}
	return db, nil
}

// Get returns the instrument for symbol.
func (db *InstrumentDB) Get(symbol string) (Instrument, error) {
	inst, ok := db.instruments[symbol]
	if !ok {
		return Instrument{}, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "instrument %s", symbol)
	}
	return inst, nil
}

// PointValue returns the point value for symbol, or 1 if the symbol is unknown.
func (db *InstrumentDB) PointValue(symbol string) float64 {
	if db == nil {
		return 1
	}
	if inst, ok := db.instruments[symbol]; ok {
		return inst.PointValue
	}
	return 1
}

// Symbols returns all symbols, sorted.
func (db *InstrumentDB) Symbols() []string {
	syms := make([]string, 0, len(db.instruments))
	for s := range db.instruments {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// BySector groups symbols by sector.
func (db *InstrumentDB) BySector() map[string][]string {
	out := make(map[string][]string)
	for _, s := range db.Symbols() {
		sec := db.instruments[s].Sector
		out[sec] = append(out[sec], s)
	}
	return out
}

// Len returns the number of instruments.
func (db *InstrumentDB) Len() int {
	return len(db.instruments)
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}
