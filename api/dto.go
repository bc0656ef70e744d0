package api

import (
	"time"

	"github.com/cubl/counter-loader/store/sqlstore"
	"github.com/cubl/counter-loader/usage"
)

// ReportDTO is one inventory ledger entry.
type ReportDTO struct {
	ID        int64   `json:"id"`
	Filename  string  `json:"filename"`
	Platform  string  `json:"platform"`
	RunDate   *string `json:"run_date,omitempty"`
	Begin     string  `json:"begin_date"`
	End       string  `json:"end_date"`
	RowCount  int     `json:"row_count"`
	LoadStart string  `json:"load_start"`
	LoadEnd   string  `json:"load_end"`
	LoadDate  string  `json:"load_date"`
}

// PlatformDTO is one platform reference entry.
type PlatformDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// TitleDTO is a deduplicated title.
type TitleDTO struct {
	ID            int64  `json:"id"`
	Type          string `json:"title_type"`
	Title         string `json:"title"`
	Publisher     string `json:"publisher"`
	PublisherID   string `json:"publisher_id,omitempty"`
	PlatformID    int64  `json:"platform_id"`
	DOI           string `json:"doi,omitempty"`
	ProprietaryID string `json:"proprietary_id,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	PrintISSN     string `json:"print_issn,omitempty"`
	OnlineISSN    string `json:"online_issn,omitempty"`
	URI           string `json:"uri,omitempty"`
	YOP           string `json:"yop,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// MetricDTO is one monthly fact.
type MetricDTO struct {
	AccessType string `json:"access_type"`
	MetricType string `json:"metric_type"`
	Period     string `json:"period"`
	Total      int64  `json:"period_total"`
	UpdatedAt  string `json:"updated_at"`
}

// UsageDTO is a monthly total summed across the publishers of a title.
type UsageDTO struct {
	Title      string `json:"title"`
	MetricType string `json:"metric_type"`
	Period     string `json:"period"`
	Total      int64  `json:"total"`
	Publishers int    `json:"publishers"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func toReportDTO(e usage.LedgerEntry) ReportDTO {
	dto := ReportDTO{
		ID:        e.ID,
		Filename:  e.Filename,
		Platform:  e.Platform,
		Begin:     e.Begin.Format(usage.DateLayout),
		End:       e.End.Format(usage.DateLayout),
		RowCount:  e.RowCount,
		LoadStart: e.LoadStart.Format(time.RFC3339),
		LoadEnd:   e.LoadEnd.Format(time.RFC3339),
		LoadDate:  e.LoadDate.Format(usage.DateLayout),
	}
	if e.RunDate != nil {
		rd := e.RunDate.Format(time.RFC3339)
		dto.RunDate = &rd
	}
	return dto
}

func toTitleDTO(t usage.TitleEntity) TitleDTO {
	return TitleDTO{
		ID:            t.ID,
		Type:          string(t.Kind),
		Title:         t.Title,
		Publisher:     t.Publisher,
		PublisherID:   t.PublisherID,
		PlatformID:    t.PlatformID,
		DOI:           t.DOI,
		ProprietaryID: t.ProprietaryID,
		ISBN:          t.ISBN,
		PrintISSN:     t.PrintISSN,
		OnlineISSN:    t.OnlineISSN,
		URI:           t.URI,
		YOP:           t.YOP,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     t.UpdatedAt.Format(time.RFC3339),
	}
}

func toMetricDTO(m usage.MetricFact) MetricDTO {
	return MetricDTO{
		AccessType: m.AccessType.String(),
		MetricType: m.MetricType.String(),
		Period:     m.Period.Format(usage.DateLayout),
		Total:      m.PeriodTotal,
		UpdatedAt:  m.UpdatedAt.Format(time.RFC3339),
	}
}

func toUsageDTO(r sqlstore.UsageRow) UsageDTO {
	return UsageDTO{
		Title:      r.Title,
		MetricType: r.MetricType.String(),
		Period:     r.Period,
		Total:      r.Total,
		Publishers: r.Publishers,
	}
}
