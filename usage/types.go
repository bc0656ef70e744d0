/*
types.go - Core data model for COUNTER usage loading

PURPOSE:
  Defines the normalized shapes every report generation is reduced to.
  Readers produce CanonicalRow values; the resolver and upsert engine
  turn them into TitleEntity and MetricFact records; the inventory
  ledger records one LedgerEntry per loaded file.

KEY CONCEPTS:
  Generation:  R4 (legacy JR1) or R5 (Title Master). Drives identity key
               choice and access/metric defaults.
  ReportKind:  Journal or Book. Stored as the one-letter title type.
  AccessType:  Closed enum with stable integer codes.
  MetricType:  Closed enum with stable integer codes.

SEE ALSO:
  - canonical.go: Produces CanonicalRow from raw sheet cells
  - identity.go: Which CanonicalRow fields identify a title
*/
package usage

import (
	"fmt"
	"time"
)

// =============================================================================
// REPORT CLASSIFICATION
// =============================================================================

// Generation identifies the COUNTER release a report was produced under.
type Generation int

const (
	GenerationR4 Generation = 4
	GenerationR5 Generation = 5
)

func (g Generation) String() string {
	return fmt.Sprintf("R%d", int(g))
}

// ReportKind is the title type carried by every row.
type ReportKind string

const (
	KindJournal ReportKind = "J"
	KindBook    ReportKind = "B"
)

// =============================================================================
// ACCESS AND METRIC TYPES
// =============================================================================

// AccessType codes are persisted and must never be renumbered.
type AccessType int

const (
	AccessControlled      AccessType = 1
	AccessOAGold          AccessType = 2
	AccessOtherFreeToRead AccessType = 3
)

var accessTypeNames = map[AccessType]string{
	AccessControlled:      "Controlled",
	AccessOAGold:          "OA_Gold",
	AccessOtherFreeToRead: "Other_Free_To_Read",
}

func (a AccessType) String() string {
	if name, ok := accessTypeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AccessType(%d)", int(a))
}

// Valid reports whether a is one of the known codes.
func (a AccessType) Valid() bool {
	_, ok := accessTypeNames[a]
	return ok
}

// ParseAccessType maps a sheet value to its code. Blank means Controlled.
func ParseAccessType(s string) (AccessType, bool) {
	if s == "" {
		return AccessControlled, true
	}
	for code, name := range accessTypeNames {
		if name == s {
			return code, true
		}
	}
	return 0, false
}

// MetricType codes are persisted and must never be renumbered.
type MetricType int

const (
	MetricTotalItemInvestigations   MetricType = 1
	MetricTotalItemRequests         MetricType = 2
	MetricUniqueItemInvestigations  MetricType = 3
	MetricUniqueItemRequests        MetricType = 4
	MetricUniqueTitleInvestigations MetricType = 5
	MetricUniqueTitleRequests       MetricType = 6
	MetricLimitExceeded             MetricType = 7
	MetricNoLicense                 MetricType = 8
)

var metricTypeNames = map[MetricType]string{
	MetricTotalItemInvestigations:   "Total_Item_Investigations",
	MetricTotalItemRequests:         "Total_Item_Requests",
	MetricUniqueItemInvestigations:  "Unique_Item_Investigations",
	MetricUniqueItemRequests:        "Unique_Item_Requests",
	MetricUniqueTitleInvestigations: "Unique_Title_Investigations",
	MetricUniqueTitleRequests:       "Unique_Title_Requests",
	MetricLimitExceeded:             "Limit_Exceeded",
	MetricNoLicense:                 "No_License",
}

func (m MetricType) String() string {
	if name, ok := metricTypeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MetricType(%d)", int(m))
}

// Valid reports whether m is one of the known codes.
func (m MetricType) Valid() bool {
	_, ok := metricTypeNames[m]
	return ok
}

// ParseMetricType maps a sheet value to its code.
func ParseMetricType(s string) (MetricType, bool) {
	for code, name := range metricTypeNames {
		if name == s {
			return code, true
		}
	}
	return 0, false
}

// =============================================================================
// CANONICAL ROW - Reader output, format independent
// =============================================================================

// MonthCount is the usage count for one calendar month of the report period.
type MonthCount struct {
	Month time.Month
	Count int64
}

// CanonicalRow is one data row after cleaning. Absent optional strings are "".
type CanonicalRow struct {
	SourceFile string
	SourceRow  int
	Generation Generation
	ReportID   string
	Kind       ReportKind

	Title         string
	Publisher     string
	PublisherID   string
	Platform      string
	DOI           string
	ProprietaryID string
	ISBN          string
	PrintISSN     string
	OnlineISSN    string
	URI           string
	YOP           string

	AccessType AccessType
	MetricType MetricType

	// Counts holds one entry per month of the report period, in order.
	Counts []MonthCount
}

// =============================================================================
// PERSISTED ENTITIES
// =============================================================================

// TitleEntity is a deduplicated title. Never modified once created.
type TitleEntity struct {
	ID            int64
	Kind          ReportKind
	Title         string
	Publisher     string
	PublisherID   string
	PlatformID    int64
	DOI           string
	ProprietaryID string
	ISBN          string
	PrintISSN     string
	OnlineISSN    string
	URI           string
	YOP           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MetricKey is the uniqueness key of a MetricFact.
type MetricKey struct {
	TitleID    int64
	AccessType AccessType
	MetricType MetricType
	Period     time.Time // first day of the month
}

// MetricFact is one monthly count for one title.
type MetricFact struct {
	ID int64
	MetricKey
	PeriodTotal int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Platform is a row of the platform reference table.
type Platform struct {
	ID    int64
	Name  string
	Alias string
}

// LedgerEntry records one loaded source file.
type LedgerEntry struct {
	ID        int64
	Filename  string
	Platform  string
	RunDate   *time.Time
	Begin     time.Time
	End       time.Time
	RowCount  int
	LoadStart time.Time
	LoadEnd   time.Time
	LoadDate  time.Time
}

// MonthStart truncates t to the first day of its month, UTC.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
