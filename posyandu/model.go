// Package posyandu is the data layer of the posyandu dashboards: the reads
// each screen makes (as cacheable queries) and the writes that change them
// (as mutations that invalidate by resource tag).
package posyandu

import (
	"errors"
	"time"
)

var (
	ErrForbidden = errors.New("posyandu: not allowed for this role")
	ErrInvalid   = errors.New("posyandu: invalid input")
)

// Role is what a dashboard user may see and do.
type Role string

const (
	SuperAdmin Role = "super_admin"
	Kader      Role = "kader"
)

type Posyandu struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Village   string    `json:"village"`
	District  string    `json:"district"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type PosyanduInput struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Village  string `json:"village"`
	District string `json:"district"`
}

// PosyanduFilter narrows the posyandu list.
type PosyanduFilter string

const (
	// FilterDefault is the unfiltered list the overview page shows.
	FilterDefault  PosyanduFilter = ""
	FilterAll      PosyanduFilter = "all"
	FilterActive   PosyanduFilter = "active"
	FilterInactive PosyanduFilter = "inactive"
)

type Gender string

const (
	Male   Gender = "L"
	Female Gender = "P"
)

type Child struct {
	ID         string    `json:"id"`
	NIK        string    `json:"nik"`
	Name       string    `json:"name"`
	Gender     Gender    `json:"gender"`
	BirthDate  time.Time `json:"birth_date"`
	ParentName string    `json:"parent_name"`
	PosyanduID string    `json:"posyandu_id"`
}

// AgeInMonths is the child's completed months of age at t.
func (c Child) AgeInMonths(t time.Time) int {
	months := (t.Year()-c.BirthDate.Year())*12 + int(t.Month()-c.BirthDate.Month())
	if t.Day() < c.BirthDate.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

type ChildInput struct {
	NIK        string    `json:"nik"`
	Name       string    `json:"name"`
	Gender     Gender    `json:"gender"`
	BirthDate  time.Time `json:"birth_date"`
	ParentName string    `json:"parent_name"`
	PosyanduID string    `json:"posyandu_id"`
}

type GrowthRecord struct {
	ID         string          `json:"id"`
	ChildID    string          `json:"child_id"`
	MeasuredAt time.Time       `json:"measured_at"`
	WeightKg   float64         `json:"weight_kg"`
	HeightCm   float64         `json:"height_cm"`
	HeadCm     float64         `json:"head_circumference_cm,omitempty"`
	ZScore     float64         `json:"weight_for_age_z"`
	Status     NutritionStatus `json:"status"`
}

type GrowthInput struct {
	MeasuredAt time.Time `json:"measured_at"`
	WeightKg   float64   `json:"weight_kg"`
	HeightCm   float64   `json:"height_cm"`
	HeadCm     float64   `json:"head_circumference_cm,omitempty"`

	// Reference median and standard deviation of weight for the child's age and sex.
	RefMedianKg float64 `json:"ref_median_kg"`
	RefSDKg     float64 `json:"ref_sd_kg"`
}

type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	PosyanduID string `json:"posyandu_id,omitempty"`
	Active     bool   `json:"active"`
}

type UserInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password,omitempty"`
	Role       Role   `json:"role"`
	PosyanduID string `json:"posyandu_id,omitempty"`
}

type DashboardSummary struct {
	PosyanduID     string                  `json:"posyandu_id,omitempty"`
	TotalPosyandu  int                     `json:"total_posyandu"`
	ActivePosyandu int                     `json:"active_posyandu"`
	TotalChildren  int                     `json:"total_children"`
	TotalCadres    int                     `json:"total_cadres"`
	StatusCounts   map[NutritionStatus]int `json:"status_counts"`
}

// ReportRow is one child's latest measurement within a report period.
type ReportRow struct {
	ChildID  string          `json:"child_id"`
	Name     string          `json:"name"`
	AgeMonth int             `json:"age_months"`
	WeightKg float64         `json:"weight_kg"`
	HeightCm float64         `json:"height_cm"`
	Status   NutritionStatus `json:"status"`
}

type MonthlyReport struct {
	PosyanduID   string                  `json:"posyandu_id"`
	Period       string                  `json:"period"`
	Rows         []ReportRow             `json:"rows"`
	StatusCounts map[NutritionStatus]int `json:"status_counts"`
}
