// Command roster imports the class roster from a spreadsheet. Each data row
// carries an enrollment number, a name, and optionally a batch label; the
// import upserts by enrollment number so re-running on an updated sheet is
// safe.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/store"
)

func main() {
	file := flag.String("file", "", "path to the roster .xlsx file (required)")
	sheet := flag.String("sheet", "", "sheet name, defaults to the first sheet")
	skipHeader := flag.Bool("skip-header", true, "treat the first row as a header")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		log.Fatal("roster: -file is required")
	}

	cfg := config.Load()
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBConnLifetime)
	if err != nil {
		log.Fatalf("roster: connect database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db.Client); err != nil {
		log.Fatalf("roster: migrate: %v", err)
	}

	imported, skipped, err := importRoster(context.Background(), attendance.NewRepository(db.Client), *file, *sheet, *skipHeader)
	if err != nil {
		log.Fatalf("roster: %v", err)
	}
	log.Printf("roster: imported %d students, skipped %d rows", imported, skipped)
}

func importRoster(ctx context.Context, roster attendance.Roster, path, sheet string, skipHeader bool) (imported, skipped int, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, 0, err
	}

	for i, row := range rows {
		if skipHeader && i == 0 {
			continue
		}
		st, ok := parseRow(row)
		if !ok {
			skipped++
			continue
		}
		if err := roster.UpsertStudent(ctx, st); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}

// parseRow maps a sheet row to a student. Expected columns: enrollment
// number, name, batch. Rows missing either of the first two are skipped.
func parseRow(row []string) (attendance.Student, bool) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	enrollment := strings.ToUpper(cell(0))
	name := cell(1)
	if enrollment == "" || name == "" {
		return attendance.Student{}, false
	}
	return attendance.Student{
		ID:           uuid.NewString(),
		EnrollmentNo: enrollment,
		Name:         name,
		Batch:        cell(2),
	}, true
}
