package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gear-guardian-api/internal/lifecycle"
)

// EquipmentType is the closed enumeration of tracked gear categories.
type EquipmentType string

const (
	TypeHelmet    EquipmentType = "helmet"
	TypeRope      EquipmentType = "rope"
	TypeHarness   EquipmentType = "harness"
	TypeSling     EquipmentType = "sling"
	TypeCarabiner EquipmentType = "carabiner"
	TypeDescender EquipmentType = "descender"
	TypeQuickdraw EquipmentType = "quickdraw"
	TypeOther     EquipmentType = "other"
)

// AllEquipmentTypes lists the valid equipment types.
var AllEquipmentTypes = []EquipmentType{
	TypeHelmet, TypeRope, TypeHarness, TypeSling,
	TypeCarabiner, TypeDescender, TypeQuickdraw, TypeOther,
}

// IsValidEquipmentType checks membership in the closed enumeration.
func IsValidEquipmentType(t EquipmentType) bool {
	for _, v := range AllEquipmentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// HealthAnalysis is the advisory verdict from an AI gear-safety check.
// It is attached to a record post-hoc and never drives archived or status.
type HealthAnalysis struct {
	NeedsReplacement bool      `json:"needs_replacement"`
	Reason           string    `json:"reason"`
	Recommendation   string    `json:"recommendation,omitempty"`
	Confidence       float64   `json:"confidence"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
}

// Equipment is the central EPI record. PercentageUsed and Status are derived
// at read time on the server, which owns "now"; clients treat them as
// read-only input and never recompute-and-disagree.
type Equipment struct {
	ID                int64            `json:"id"`
	UserID            int64            `json:"user_id"`
	Name              string           `json:"name"`
	Type              EquipmentType    `json:"type"`
	SerialNumber      *string          `json:"serial_number,omitempty"`
	PurchaseDate      time.Time        `json:"purchase_date"`
	ServiceStartDate  time.Time        `json:"service_start_date"`
	ExpectedEndOfLife time.Time        `json:"expected_end_of_life"`
	Description       string           `json:"description"`
	ManufacturerData  string           `json:"manufacturer_data,omitempty"`
	Archived          bool             `json:"archived"`
	PercentageUsed    float64          `json:"percentage_used"`
	Status            lifecycle.Status `json:"status"`
	HasPhoto          bool             `json:"has_photo"`
	HealthAnalysis    *HealthAnalysis  `json:"health_analysis,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Derive fills in the two derived fields from the stored dates and the
// archived flag.
func (e *Equipment) Derive(now time.Time) {
	e.PercentageUsed = lifecycle.PercentageUsed(now, e.ServiceStartDate, e.ExpectedEndOfLife)
	e.Status = lifecycle.DeriveStatus(e.Archived, e.PercentageUsed)
}

// FilterExpiring selects the subset of list suitable for the expiration
// alert banner: not archived, not expired, and at or past the threshold.
// The input records must already have Derive applied.
func FilterExpiring(list []Equipment, threshold float64) []Equipment {
	out := []Equipment{}
	for _, e := range list {
		if lifecycle.Alertable(e.Archived, e.PercentageUsed, threshold) {
			out = append(out, e)
		}
	}
	return out
}

// FormMode distinguishes create and edit submissions: the photo is required
// on create and optional on edit (omission preserves the stored photo).
type FormMode int

const (
	ModeCreate FormMode = iota
	ModeEdit
)

// FieldErrors maps a field name to a validation message. A nil/empty map
// means the form is valid.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "valid"
	}
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, fe[f]))
	}
	return strings.Join(parts, "; ")
}

// EquipmentForm is a create/edit submission. Dates are pointers so a missing
// field is distinguishable from the zero time. Photo carries a base64 data
// URI; on edit an empty value keeps the existing photo.
type EquipmentForm struct {
	Name             string        `json:"name"`
	Type             EquipmentType `json:"type"`
	SerialNumber     *string       `json:"serial_number,omitempty"`
	PurchaseDate     *time.Time    `json:"purchase_date"`
	ServiceStartDate *time.Time    `json:"service_start_date"`
	LifespanYears    int           `json:"lifespan_years"`
	Description      string        `json:"description"`
	ManufacturerData string        `json:"manufacturer_data"`
	Archived         bool          `json:"archived"`
	Photo            string        `json:"photo,omitempty"`
}

const (
	minNameLen        = 3
	minDescriptionLen = 10
)

// Validate checks the form against the submission contract and returns
// field-level errors. It does not enforce serviceStartDate >= purchaseDate;
// that relationship is informational only.
func (f *EquipmentForm) Validate(mode FormMode) FieldErrors {
	errs := FieldErrors{}

	if len(strings.TrimSpace(f.Name)) < minNameLen {
		errs["name"] = fmt.Sprintf("must be at least %d characters", minNameLen)
	}
	if !IsValidEquipmentType(f.Type) {
		errs["type"] = "must be one of: " + joinTypes()
	}
	if f.PurchaseDate == nil || f.PurchaseDate.IsZero() {
		errs["purchase_date"] = "is required"
	}
	if f.ServiceStartDate == nil || f.ServiceStartDate.IsZero() {
		errs["service_start_date"] = "is required"
	}
	if f.LifespanYears < 1 {
		errs["lifespan_years"] = "must be at least 1 year"
	}
	if len(strings.TrimSpace(f.Description)) < minDescriptionLen {
		errs["description"] = fmt.Sprintf("must be at least %d characters", minDescriptionLen)
	}
	if mode == ModeCreate && strings.TrimSpace(f.Photo) == "" {
		errs["photo"] = "is required"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// EndOfLife derives the persisted expected_end_of_life from the validated
// form. The lifespan itself is not stored; status derivation works off the
// date from here on.
func (f *EquipmentForm) EndOfLife() time.Time {
	return lifecycle.ExpectedEndOfLife(*f.ServiceStartDate, f.LifespanYears)
}

func joinTypes() string {
	names := make([]string, len(AllEquipmentTypes))
	for i, t := range AllEquipmentTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
