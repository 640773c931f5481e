package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Attendance"

// Export renders the grid as an XLSX workbook: one row per student, one
// column per session day, cells Present/Absent.
func Export(grid Grid) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", exportSheet)

	headers := []string{"Enrollment No", "Name", "Batch"}
	for _, row := range grid.Rows {
		headers = append(headers, row.Date)
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for si, st := range grid.Students {
		rowNum := si + 2
		values := []string{st.EnrollmentNo, st.Name, st.Batch}
		for _, day := range grid.Rows {
			status := "Absent"
			if day.Statuses[si] {
				status = "Present"
			}
			values = append(values, status)
		}
		for ci, v := range values {
			cell, err := excelize.CoordinatesToCellName(ci+1, rowNum)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}
