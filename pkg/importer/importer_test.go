package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

// buildSheet round-trips rows through a real workbook, the same way
// ImportExcel loads uploads via OpenBinary.
func buildSheet(t *testing.T, rows [][]string) *xlsx.Sheet {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Registry")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	reloaded, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	return reloaded.Sheet["Registry"]
}

// GetCell never returns nil in tealeg v3, so the scan loops must stop at
// the sheet dimensions instead of waiting for one.
func TestProcessSheetScansRealWorkbook(t *testing.T) {
	sheet := buildSheet(t, [][]string{
		{"PRODUCT", "", "PURCHASE DATE", "NOTES"},
		{"Petzl Spirit", "unmapped", "not-a-date", "spare"},
		{},
		{"Mammut Crag Classic", "", "", "date column left blank"},
	})
	require.NotNil(t, sheet)

	config := SheetConfig{
		Type:    "carabiner",
		Aliases: map[string][]string{"NAME": {"PRODUCT"}},
		Columns: map[string]ColumnConfig{
			"NAME":          {Field: "name", Type: "TEXT"},
			"PURCHASE DATE": {Field: "purchase_date", Type: "TIMESTAMP"},
		},
	}

	// Every data row stops before the database: bad rows error out and the
	// blank row is skipped.
	summary := processSheet(context.Background(), nil, sheet, config,
		ImportOptions{OwnerID: 1, DryRun: true}, nil)

	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Inserted)
	assert.Zero(t, summary.Updated)

	require.Len(t, summary.Samples, 2)
	assert.Equal(t, 2, summary.Samples[0].Row)
	assert.Contains(t, summary.Samples[0].Message, "invalid date format")
	assert.Equal(t, 4, summary.Samples[1].Row)
	assert.Contains(t, summary.Samples[1].Message, "missing required column")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2022-04-01", time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC), true},
		{"2022-04-01 10:30:00", time.Date(2022, 4, 1, 10, 30, 0, 0, time.UTC), true},
		{"01/04/2022", time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC), true},
		{"April 1st", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if tt.ok {
			require.NoError(t, err, "input %q", tt.in)
			assert.Equal(t, tt.want, got, "input %q", tt.in)
		} else {
			assert.Error(t, err, "input %q", tt.in)
		}
	}
}

func TestBuildRowDefaults(t *testing.T) {
	cols := map[int]ColumnConfig{
		0: {Field: "name", Type: "TEXT"},
		1: {Field: "purchase_date", Type: "TIMESTAMP"},
		2: {Field: "type", Type: "TEXT?"},
	}
	values := map[string]string{
		"name":          "Mammut Crag Classic",
		"purchase_date": "2022-04-01",
		"type":          "rope",
	}

	rec, err := buildRow(values, SheetConfig{}, cols, map[string]int{"rope": 5})
	require.NoError(t, err)

	assert.Equal(t, "rope", rec.Type)
	assert.Equal(t, 5, rec.LifespanYears, "lifespan should come from the per-type table")
	assert.Equal(t, rec.PurchaseDate, rec.ServiceStartDate, "service start defaults to purchase date")
	assert.Equal(t, time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC), rec.EndOfLife)
	assert.NotEmpty(t, rec.Description)
}

func TestBuildRowSheetTypeAndFallbackLifespan(t *testing.T) {
	cols := map[int]ColumnConfig{
		0: {Field: "name", Type: "TEXT"},
		1: {Field: "purchase_date", Type: "TIMESTAMP"},
	}
	values := map[string]string{
		"name":          "Petzl Spirit",
		"purchase_date": "2023-01-10",
	}

	rec, err := buildRow(values, SheetConfig{Type: "quickdraw"}, cols, map[string]int{})
	require.NoError(t, err)
	assert.Equal(t, "quickdraw", rec.Type)
	assert.Equal(t, 10, rec.LifespanYears, "unknown type falls back to 10 years")
}

func TestBuildRowRejectsBadRows(t *testing.T) {
	cols := map[int]ColumnConfig{
		0: {Field: "name", Type: "TEXT"},
		1: {Field: "purchase_date", Type: "TIMESTAMP"},
		2: {Field: "type", Type: "TEXT?"},
		3: {Field: "lifespan_years", Type: "INT?"},
	}

	t.Run("missing purchase date", func(t *testing.T) {
		_, err := buildRow(map[string]string{"name": "X"}, SheetConfig{}, cols, nil)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := buildRow(map[string]string{
			"name": "X", "purchase_date": "2023-01-10", "type": "parachute",
		}, SheetConfig{}, cols, nil)
		assert.Error(t, err)
	})

	t.Run("bad lifespan", func(t *testing.T) {
		_, err := buildRow(map[string]string{
			"name": "X", "purchase_date": "2023-01-10", "lifespan_years": "zero",
		}, SheetConfig{}, cols, nil)
		assert.Error(t, err)
	})
}

func TestLoadMappingConfig(t *testing.T) {
	t.Run("missing file yields default mapping", func(t *testing.T) {
		cfg, err := loadMappingConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Contains(t, cfg.Sheets, "Registry")
	})

	t.Run("reads yaml from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mapping.yaml")
		content := `
version: 1
sheets:
  Helmets:
    type: helmet
    natural_key: [serial_number]
    columns:
      Name: { field: name, type: TEXT }
      Purchased: { field: purchase_date, type: TIMESTAMP }
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := loadMappingConfig(path)
		require.NoError(t, err)
		require.Contains(t, cfg.Sheets, "Helmets")
		assert.Equal(t, "helmet", cfg.Sheets["Helmets"].Type)
		assert.Equal(t, "name", cfg.Sheets["Helmets"].Columns["Name"].Field)
	})

	t.Run("rejects mapping without sheets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

		_, err := loadMappingConfig(path)
		assert.Error(t, err)
	})
}

func TestLoadLifespans(t *testing.T) {
	t.Run("missing file yields empty table", func(t *testing.T) {
		out := loadLifespans(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Empty(t, out)
	})

	t.Run("reads table from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lifespans.yaml")
		require.NoError(t, os.WriteFile(path, []byte("rope: 10\ncarabiner: 15\n"), 0o644))

		out := loadLifespans(path)
		assert.Equal(t, 10, out["rope"])
		assert.Equal(t, 15, out["carabiner"])
	})
}
