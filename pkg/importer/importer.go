package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"

	"gear-guardian-api/internal/lifecycle"
	"gear-guardian-api/internal/models"
)

// ImportOptions defines the configuration for Excel registry imports
type ImportOptions struct {
	OwnerID       int64
	MappingPath   string // default "configs/mapping/epi_registry.yaml"
	LifespansPath string // default "configs/lifespans.yaml"
	DryRun        bool
	MaxErrors     int // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// SheetSummary contains the import statistics for a single sheet
type SheetSummary struct {
	Name     string     `json:"name"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Skipped  int        `json:"skipped"`
	Errors   int        `json:"errors"`
	Samples  []RowError `json:"error_samples,omitempty"`
}

// ImportSummary contains the overall import statistics
type ImportSummary struct {
	Inserted int            `json:"inserted"`
	Updated  int            `json:"updated"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Sheets   []SheetSummary `json:"sheets"`
	DryRun   bool           `json:"dry_run"`
}

// MappingConfig represents the YAML mapping configuration
type MappingConfig struct {
	Version int                    `yaml:"version"`
	Sheets  map[string]SheetConfig `yaml:"sheets"`
}

// SheetConfig maps one workbook sheet to equipment rows.
type SheetConfig struct {
	// Type is the equipment type applied to every row of the sheet unless
	// a Type column overrides it.
	Type       string                  `yaml:"type"`
	NaturalKey []string                `yaml:"natural_key"`
	Aliases    map[string][]string     `yaml:"aliases"`
	Columns    map[string]ColumnConfig `yaml:"columns"`
}

type ColumnConfig struct {
	Field string `yaml:"field"`
	Type  string `yaml:"type"`
}

// equipmentRow is one parsed, validated workbook row.
type equipmentRow struct {
	Name             string
	Type             string
	SerialNumber     string
	PurchaseDate     time.Time
	ServiceStartDate time.Time
	LifespanYears    int
	Description      string
	ManufacturerData string
	EndOfLife        time.Time
}

// ImportExcel processes an Excel registry workbook and imports equipment rows
// for the given owner.
func ImportExcel(ctx context.Context, db *pgxpool.Pool, r io.Reader, opts ImportOptions) (ImportSummary, error) {
	summary := ImportSummary{
		DryRun: opts.DryRun,
		Sheets: []SheetSummary{},
	}

	if opts.MappingPath == "" {
		opts.MappingPath = "configs/mapping/epi_registry.yaml"
	}
	if opts.LifespansPath == "" {
		opts.LifespansPath = "configs/lifespans.yaml"
	}
	if opts.MaxErrors == 0 {
		opts.MaxErrors = 50
	}
	if opts.OwnerID <= 0 {
		return summary, errors.New("owner id is required")
	}

	mapping, err := loadMappingConfig(opts.MappingPath)
	if err != nil {
		return summary, fmt.Errorf("failed to load mapping config: %w", err)
	}
	lifespans := loadLifespans(opts.LifespansPath)

	// xlsx needs an io.ReaderAt, so buffer the upload
	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("failed to read Excel file: %w", err)
	}

	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return summary, fmt.Errorf("failed to open Excel file: %w", err)
	}

	// Pin the owner context so row-level policies apply during the import
	conn, err := db.Acquire(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", strconv.FormatInt(opts.OwnerID, 10)); err != nil {
		return summary, fmt.Errorf("failed to set user context: %w", err)
	}

	for _, sheet := range xlFile.Sheets {
		sheetConfig, exists := mapping.Sheets[sheet.Name]
		if !exists {
			continue // Skip sheets without mapping
		}

		sheetSummary := processSheet(ctx, conn, sheet, sheetConfig, opts, lifespans)
		summary.Sheets = append(summary.Sheets, sheetSummary)

		summary.Inserted += sheetSummary.Inserted
		summary.Updated += sheetSummary.Updated
		summary.Skipped += sheetSummary.Skipped
		summary.Errors += sheetSummary.Errors

		if summary.Errors > opts.MaxErrors {
			return summary, fmt.Errorf("too many errors (%d), stopping import", summary.Errors)
		}
	}

	return summary, nil
}

func loadMappingConfig(path string) (*MappingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultMapping(), nil
		}
		return nil, err
	}

	var cfg MappingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid mapping yaml: %w", err)
	}
	if len(cfg.Sheets) == 0 {
		return nil, errors.New("mapping defines no sheets")
	}
	return &cfg, nil
}

// defaultMapping covers the common single-sheet registry layout.
func defaultMapping() *MappingConfig {
	return &MappingConfig{
		Version: 1,
		Sheets: map[string]SheetConfig{
			"Registry": {
				NaturalKey: []string{"serial_number", "name"},
				Aliases: map[string][]string{
					"Serial": {"Serial Number", "S/N"},
					"Name":   {"Equipment", "Item"},
				},
				Columns: map[string]ColumnConfig{
					"Name":         {Field: "name", Type: "TEXT"},
					"Type":         {Field: "type", Type: "TEXT"},
					"Serial":       {Field: "serial_number", Type: "TEXT?"},
					"Purchased":    {Field: "purchase_date", Type: "TIMESTAMP"},
					"InService":    {Field: "service_start_date", Type: "TIMESTAMP?"},
					"Lifespan":     {Field: "lifespan_years", Type: "INT?"},
					"Description":  {Field: "description", Type: "TEXT?"},
					"Manufacturer": {Field: "manufacturer_data", Type: "TEXT?"},
				},
			},
		},
	}
}

// loadLifespans reads the per-type default lifespan table. Missing file or
// entries fall back to a conservative 10 years.
func loadLifespans(path string) map[string]int {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]int{}
	}
	out := map[string]int{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return map[string]int{}
	}
	return out
}

func processSheet(ctx context.Context, conn *pgxpool.Conn, sheet *xlsx.Sheet, config SheetConfig, opts ImportOptions, lifespans map[string]int) SheetSummary {
	summary := SheetSummary{Name: sheet.Name}

	headerRow, err := sheet.Row(0)
	if err != nil {
		summary.Errors++
		summary.Samples = append(summary.Samples, RowError{
			Sheet:   sheet.Name,
			Row:     1,
			Message: "Failed to read header row: " + err.Error(),
		})
		return summary
	}

	// Map normalized header name to the configured field
	fieldByHeader := make(map[string]ColumnConfig)
	for headerName, col := range config.Columns {
		fieldByHeader[strings.ToUpper(headerName)] = col
		for _, alias := range config.Aliases[headerName] {
			fieldByHeader[strings.ToUpper(alias)] = col
		}
	}

	// GetCell grows the row on demand and never returns nil, so both
	// cell loops must be bounded by the sheet dimensions.
	headerCols := make(map[int]ColumnConfig)
	for colIdx := 0; colIdx < sheet.MaxCol; colIdx++ {
		name := strings.ToUpper(strings.TrimSpace(headerRow.GetCell(colIdx).String()))
		if name == "" {
			continue
		}
		if col, ok := fieldByHeader[name]; ok {
			headerCols[colIdx] = col
		}
	}

	for rowIdx := 1; rowIdx < sheet.MaxRow; rowIdx++ {
		row, err := sheet.Row(rowIdx)
		if err != nil {
			break // No more rows
		}

		values := make(map[string]string)
		empty := true
		for colIdx := 0; colIdx < sheet.MaxCol; colIdx++ {
			v := strings.TrimSpace(row.GetCell(colIdx).String())
			if v == "" {
				continue
			}
			empty = false
			if col, ok := headerCols[colIdx]; ok {
				values[col.Field] = v
			}
		}
		if empty {
			summary.Skipped++
			continue
		}

		rec, err := buildRow(values, config, headerCols, lifespans)
		if err != nil {
			summary.Errors++
			summary.Samples = append(summary.Samples, RowError{
				Sheet:   sheet.Name,
				Row:     rowIdx + 1,
				Message: err.Error(),
			})
			continue
		}

		existingID, err := findExisting(ctx, conn, rec, config.NaturalKey, opts.OwnerID)
		if err != nil {
			summary.Errors++
			summary.Samples = append(summary.Samples, RowError{
				Sheet:   sheet.Name,
				Row:     rowIdx + 1,
				Message: err.Error(),
			})
			continue
		}

		if existingID > 0 {
			if !opts.DryRun {
				if err := updateEquipment(ctx, conn, existingID, rec); err != nil {
					summary.Errors++
					summary.Samples = append(summary.Samples, RowError{
						Sheet:   sheet.Name,
						Row:     rowIdx + 1,
						Message: err.Error(),
					})
					continue
				}
			}
			summary.Updated++
		} else {
			if !opts.DryRun {
				if err := insertEquipment(ctx, conn, rec, opts.OwnerID); err != nil {
					summary.Errors++
					summary.Samples = append(summary.Samples, RowError{
						Sheet:   sheet.Name,
						Row:     rowIdx + 1,
						Message: err.Error(),
					})
					continue
				}
			}
			summary.Inserted++
		}
	}

	return summary
}

func buildRow(values map[string]string, config SheetConfig, headerCols map[int]ColumnConfig, lifespans map[string]int) (equipmentRow, error) {
	var rec equipmentRow

	for _, col := range headerCols {
		raw, ok := values[col.Field]
		if !ok || raw == "" {
			if !strings.HasSuffix(col.Type, "?") && col.Field != "type" {
				return rec, fmt.Errorf("missing required column %q", col.Field)
			}
			continue
		}
		if err := assignField(&rec, col, raw); err != nil {
			return rec, err
		}
	}

	if rec.Type == "" {
		rec.Type = config.Type
	}
	if rec.Type == "" {
		rec.Type = string(models.TypeOther)
	}
	rec.Type = strings.ToLower(rec.Type)
	if !models.IsValidEquipmentType(models.EquipmentType(rec.Type)) {
		return rec, fmt.Errorf("unknown equipment type %q", rec.Type)
	}

	if rec.Name == "" {
		return rec, errors.New("name is required")
	}
	if rec.PurchaseDate.IsZero() {
		return rec, errors.New("purchase date is required")
	}
	if rec.ServiceStartDate.IsZero() {
		rec.ServiceStartDate = rec.PurchaseDate
	}
	if rec.LifespanYears <= 0 {
		if years, ok := lifespans[rec.Type]; ok && years > 0 {
			rec.LifespanYears = years
		} else {
			rec.LifespanYears = 10
		}
	}
	if rec.Description == "" {
		rec.Description = "Imported from registry workbook"
	}
	rec.EndOfLife = lifecycle.ExpectedEndOfLife(rec.ServiceStartDate, rec.LifespanYears)

	return rec, nil
}

func assignField(rec *equipmentRow, col ColumnConfig, raw string) error {
	switch col.Field {
	case "name":
		rec.Name = raw
	case "type":
		rec.Type = raw
	case "serial_number":
		rec.SerialNumber = raw
	case "description":
		rec.Description = raw
	case "manufacturer_data":
		rec.ManufacturerData = raw
	case "lifespan_years":
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid lifespan %q", raw)
		}
		rec.LifespanYears = n
	case "purchase_date", "service_start_date":
		t, err := parseDate(raw)
		if err != nil {
			return err
		}
		if col.Field == "purchase_date" {
			rec.PurchaseDate = t
		} else {
			rec.ServiceStartDate = t
		}
	default:
		return fmt.Errorf("unmapped field %q", col.Field)
	}
	return nil
}

func parseDate(value string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"02/01/2006",
		"01/02/2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date format: %s", value)
}

func findExisting(ctx context.Context, conn *pgxpool.Conn, rec equipmentRow, naturalKey []string, ownerID int64) (int64, error) {
	if len(naturalKey) == 0 {
		naturalKey = []string{"serial_number", "name"}
	}
	for _, key := range naturalKey {
		var query string
		var args []interface{}

		switch key {
		case "serial_number":
			if rec.SerialNumber == "" {
				continue
			}
			query = "SELECT id FROM equipment WHERE user_id = $1 AND serial_number = $2"
			args = []interface{}{ownerID, rec.SerialNumber}
		case "name":
			query = "SELECT id FROM equipment WHERE user_id = $1 AND name = $2 AND type = $3"
			args = []interface{}{ownerID, rec.Name, rec.Type}
		default:
			continue
		}

		var id int64
		err := conn.QueryRow(ctx, query, args...).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
	}
	return 0, nil // Not found
}

func insertEquipment(ctx context.Context, conn *pgxpool.Conn, rec equipmentRow, ownerID int64) error {
	_, err := conn.Exec(ctx, `
		INSERT INTO equipment (user_id, name, type, serial_number, purchase_date,
			service_start_date, expected_end_of_life, description, manufacturer_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ownerID, rec.Name, rec.Type, nullable(rec.SerialNumber),
		rec.PurchaseDate, rec.ServiceStartDate, rec.EndOfLife,
		rec.Description, rec.ManufacturerData)
	return err
}

func updateEquipment(ctx context.Context, conn *pgxpool.Conn, id int64, rec equipmentRow) error {
	_, err := conn.Exec(ctx, `
		UPDATE equipment SET name = $1, type = $2, serial_number = $3,
			purchase_date = $4, service_start_date = $5, expected_end_of_life = $6,
			description = $7, manufacturer_data = $8, updated_at = now()
		WHERE id = $9`,
		rec.Name, rec.Type, nullable(rec.SerialNumber),
		rec.PurchaseDate, rec.ServiceStartDate, rec.EndOfLife,
		rec.Description, rec.ManufacturerData, id)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
