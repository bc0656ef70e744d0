package report_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeWorkbook saves rows (row 1 first) as the only sheet of a new workbook.
func writeWorkbook(t *testing.T, name string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func trHeader(reportID, period, created string) [][]any {
	return [][]any{
		{"Report_Name", "Title Master Report"},
		{"Report_ID", reportID},
		{"Release", "5"},
		{"Institution_Name", "Example University"},
		{"Institution_ID", ""},
		{"Metric_Types", "Total_Item_Requests; Unique_Title_Requests"},
		{"Report_Filters", ""},
		{"Report_Attributes", ""},
		{"Exceptions", ""},
		{"Reporting_Period", period},
		{"Created", created},
		{"Created_By", "Vendor"},
		{},
	}
}

func trB3Sheet() [][]any {
	rows := trHeader("TR_B3", "Begin_Date=2020-01-01; End_Date=2020-03-31", "2020-04-02")
	rows = append(rows,
		[]any{"Title", "Publisher", "Publisher_ID", "Platform", "DOI", "Proprietary_ID", "ISBN", "Print_ISSN", "Online_ISSN", "URI", "YOP", "Access_Type", "Metric_Type", "Reporting_Period_Total", "Jan-2020", "Feb-2020", "Mar-2020"},
		[]any{"Go &amp;amp; You", "O&#39;Reilly", "", "Ebook Central", "10.1/abc", "EBC:1", "9781", "", "", "", "2019", "Controlled", "Total_Item_Requests", 6, 1, 2, 3},
		[]any{"Go &amp;amp; You", "???", "", "Ebook Central", "", "", "9781", "", "", "", "2019", "OA_Gold", "Unique_Title_Requests", 1, 0, "0.0", 1},
	)
	return rows
}

func jr1Sheet() [][]any {
	return [][]any{
		{"Journal Report 1 (R4)", "Number of Successful Full-Text Article Requests by Month and Journal"},
		{"Example University"},
		{""},
		{"Period covered by Report:"},
		{"2015-01-01 to 2015-02-28"},
		{"Date run:"},
		{"2015-03-05"},
		{"Journal", "Publisher", "Platform", "Journal DOI", "Proprietary Identifier", "Print ISSN", "Online ISSN", "Reporting Period Total", "Reporting Period HTML", "Reporting Period PDF", "Jan-2015", "Feb-2015"},
		{},
		{"Total for all journals", "", "ACM Digital Library", "", "", "", "", 30, 10, 20, 12, 18},
		{"Communications of the ACM", "ACM", "ACM Digital Library", "10.1145/cacm", "ACM:CACM", "0001-0782", "1557-7317", 25, 5, 20, 10, 15},
		{"Journal of the ACM", "ACM", "ACM Digital Library", "", "ACM:JACM", "0004-5411", "", 5, 5, 0, 2, 3},
	}
}
