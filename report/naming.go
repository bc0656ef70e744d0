package report

import (
	"fmt"
	"strings"
)

// CanonicalName returns the normalized file name of r:
// <version>-<platform>-<year>-<MMMM>.xlsx, e.g. "tr-b3-ebook-central-2020-0112.xlsx".
func CanonicalName(r Report) string {
	version := "jr1"
	if r.Format() == FormatTR {
		version = strings.ReplaceAll(strings.ToLower(r.ReportID()), "_", "-")
	}
	p := r.Period()
	return fmt.Sprintf("%s-%s-%d-%02d%02d.xlsx", version, platformSlug(r.Platform()), p.Year(), int(p.Begin.Month()), int(p.End.Month()))
}

func platformSlug(platform string) string {
	s := strings.ToLower(strings.TrimSpace(platform))
	s = strings.ReplaceAll(s, ":", "")
	return strings.Join(strings.Fields(s), "-")
}

// InvalidRows returns the data rows missing a title, publisher or platform.
func InvalidRows(r Report) []int {
	var invalid []int
	for n := range r.DataRows() {
		raw := r.Raw(n)
		if strings.TrimSpace(raw.Title) == "" ||
			strings.TrimSpace(raw.Publisher) == "" ||
			strings.TrimSpace(raw.Platform) == "" {
			invalid = append(invalid, n)
		}
	}
	return invalid
}
