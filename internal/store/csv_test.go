package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

const manifest = `description,symbol,pointValue,currency,exchange,initialMargin,maintMargin,sector,datafile
Crude Oil,CL,1000,USD,NYMEX,5000,4000,Energy,CL.csv
Gold,GC,100,USD,COMEX,6000,5000,Metals,GC.csv
Placeholder,??,1,USD,X,0,0,None,none.csv
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestCSVSourceInstruments(t *testing.T) {
	dir := writeFiles(t, map[string]string{"manifest.csv": manifest})
	src := NewCSVSource(filepath.Join(dir, "manifest.csv"), "", zerolog.Nop())

	insts, err := src.Instruments(context.Background())
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "CL", insts[0].Symbol)
	assert.Equal(t, "Crude Oil", insts[0].Description)
	assert.Equal(t, 1000.0, insts[0].PointValue)
	assert.Equal(t, 5000.0, insts[0].InitialMargin)
	assert.Equal(t, 4000.0, insts[0].MaintMargin)
	assert.Equal(t, "Energy", insts[0].Sector)
	assert.Equal(t, "GC.csv", insts[1].DataFile)
}

func TestCSVSourceBars(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"manifest.csv": manifest,
		"CL.csv":       "20240102,70.5,72,70,71.5,1000,500\n2024-01-03,71.5,73,71,72,1100,510\n",
		"GC.csv":       "Date,Open,High,Low,Close,Volume,Open Interest\n2024-01-02,2000,2010,1990,2005,10,20\n",
	})
	src := NewCSVSource(filepath.Join(dir, "manifest.csv"), "", zerolog.Nop())
	ctx := context.Background()

	bars, err := src.Bars(ctx, "CL")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Timestamp().Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 70.5, bars[0].Open())
	assert.Equal(t, 72.0, bars[0].High())
	assert.Equal(t, 1000.0, bars[0].Volume())
	assert.Equal(t, 500.0, bars[0].OpenInterest())
	assert.True(t, bars[1].Timestamp().Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))

	gold, err := src.Bars(ctx, "GC")
	require.NoError(t, err)
	require.Len(t, gold, 1)
	assert.Equal(t, 2005.0, gold[0].Close())

	_, err = src.Bars(ctx, "ES")
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
}

func TestReadBarsRejectsInvalidRows(t *testing.T) {
	_, err := ReadBars("CL", strings.NewReader("2024-01-02,70,69,68,70,0,0\n"))
	require.Error(t, err)
	var dataErr *apperrors.DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, "CL", dataErr.Symbol)
	assert.ErrorIs(t, err, apperrors.ErrInvalidBar)

	_, err = ReadBars("CL", strings.NewReader("01/02/2024,70,71,69,70,0,0\n"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidBar)
}

func TestReadBarsEmpty(t *testing.T) {
	bars, err := ReadBars("CL", strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestWriteTradesCSV(t *testing.T) {
	db, err := models.NewInstrumentDB(models.Instrument{Symbol: "CL", Description: "Crude Oil", PointValue: 1000})
	require.NoError(t, err)
	trades := []models.TradeRecord{{
		Symbol:      "CL",
		Units:       -2,
		EntryDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EntryPrice:  71.5,
		ExitDate:    time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		ExitPrice:   70,
		Commissions: 10,
		NetProfit:   2990,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, trades, db))

	var rows []tradeRow
	require.NoError(t, gocsv.Unmarshal(&buf, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Crude Oil", rows[0].Description)
	assert.Equal(t, -2, rows[0].Units)
	assert.Equal(t, "2024-01-02", rows[0].EntryDate)
	assert.Equal(t, "2024-01-09", rows[0].ExitDate)
	assert.Equal(t, 2990.0, rows[0].ProfitLoss)
}
