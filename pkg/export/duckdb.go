package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/errors"
)

const createFilings = `
	CREATE TABLE filings (
		cik VARCHAR NOT NULL,
		company_name VARCHAR NOT NULL,
		form_type VARCHAR NOT NULL,
		date_filed DATE NOT NULL,
		filename VARCHAR NOT NULL,
		period VARCHAR NOT NULL
	)
`

// DuckDB writes ws into a DuckDB database file at path as table
// "filings". An existing file at path is replaced.
func DuckDB(ctx context.Context, path string, ws *model.WorkingSet) error {
	if ws.Empty() {
		return errors.Precondition("export duckdb", "working set is empty; run a filter first")
	}
	for _, p := range []string{path, path + ".wal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.CodeExport, "failed to replace database").WithContext("path", p)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return errors.Wrap(err, errors.CodeExport, "failed to open duckdb").WithContext("path", path)
	}
	defer db.Close()

	if err := loadFilings(ctx, db, ws); err != nil {
		return errors.Wrap(err, errors.CodeExport, "duckdb export failed").WithContext("path", path)
	}
	return nil
}

// loadFilings creates the filings table and inserts ws in one transaction.
func loadFilings(ctx context.Context, db *sql.DB, ws *model.WorkingSet) error {
	if _, err := db.ExecContext(ctx, createFilings); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filings (cik, company_name, form_type, date_filed, filename, period)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range ws.Records {
		r := &ws.Records[i]
		if _, err := stmt.ExecContext(ctx, r.CIK, r.CompanyName, r.FormType, r.DateFiled, r.Filename, r.Period.String()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert filing: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StarSchemaResult contains the paths of generated star schema files.
type StarSchemaResult struct {
	OutputDir    string `json:"output_dir"`
	FactFilings  string `json:"fact_filings"`
	DimCompanies string `json:"dim_companies"`
	DimForms     string `json:"dim_forms"`
	DimPeriods   string `json:"dim_periods"`
}

// Files returns all generated file paths.
func (r *StarSchemaResult) Files() []string {
	return []string{r.FactFilings, r.DimCompanies, r.DimForms, r.DimPeriods}
}

// StarSchema writes ws as a fact table and three dimension tables, each a
// Parquet file in outputDir, using an in-memory DuckDB.
func StarSchema(ctx context.Context, outputDir string, ws *model.WorkingSet, compression CompressionType) (*StarSchemaResult, error) {
	if ws.Empty() {
		return nil, errors.Precondition("export star schema", "working set is empty; run a filter first")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeExport, "failed to create output directory")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExport, "failed to open duckdb")
	}
	defer db.Close()
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	if err := loadFilings(ctx, db, ws); err != nil {
		return nil, errors.Wrap(err, errors.CodeExport, "failed to load filings")
	}

	res := &StarSchemaResult{
		OutputDir:    outputDir,
		DimCompanies: filepath.Join(outputDir, "Dim_Companies.parquet"),
		DimForms:     filepath.Join(outputDir, "Dim_Forms.parquet"),
		DimPeriods:   filepath.Join(outputDir, "Dim_Periods.parquet"),
		FactFilings:  filepath.Join(outputDir, "Fact_Filings.parquet"),
	}

	queries := []struct {
		name  string
		query string
		out   string
	}{
		{"companies", `
			SELECT
				ROW_NUMBER() OVER (ORDER BY cik) AS company_key,
				cik,
				MAX(company_name) AS company_name,
				COUNT(*) AS filing_count,
				MIN(date_filed) AS first_filed,
				MAX(date_filed) AS last_filed
			FROM filings
			GROUP BY cik
			ORDER BY cik`, res.DimCompanies},
		{"forms", `
			SELECT
				ROW_NUMBER() OVER (ORDER BY form_type) AS form_key,
				form_type,
				COUNT(*) AS filing_count
			FROM filings
			GROUP BY form_type
			ORDER BY form_type`, res.DimForms},
		{"periods", `
			SELECT
				ROW_NUMBER() OVER (ORDER BY period) AS period_key,
				period,
				CAST(LEFT(period, 4) AS INTEGER) AS year,
				CAST(RIGHT(period, 1) AS INTEGER) AS quarter,
				COUNT(*) AS filing_count
			FROM filings
			GROUP BY period
			ORDER BY period`, res.DimPeriods},
		{"facts", `
			WITH c AS (SELECT cik, ROW_NUMBER() OVER (ORDER BY cik) AS company_key FROM (SELECT DISTINCT cik FROM filings)),
			     f AS (SELECT form_type, ROW_NUMBER() OVER (ORDER BY form_type) AS form_key FROM (SELECT DISTINCT form_type FROM filings)),
			     p AS (SELECT period, ROW_NUMBER() OVER (ORDER BY period) AS period_key FROM (SELECT DISTINCT period FROM filings))
			SELECT
				ROW_NUMBER() OVER (ORDER BY s.period, s.date_filed, s.filename) AS filing_key,
				c.company_key,
				f.form_key,
				p.period_key,
				s.date_filed,
				s.filename
			FROM filings s
			JOIN c ON s.cik = c.cik
			JOIN f ON s.form_type = f.form_type
			JOIN p ON s.period = p.period
			ORDER BY filing_key`, res.FactFilings},
	}

	for _, q := range queries {
		copyStmt := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')", q.query, q.out, compression)
		if _, err := db.ExecContext(ctx, copyStmt); err != nil {
			return nil, errors.Wrapf(err, errors.CodeExport, "failed to write %s table", q.name)
		}
	}
	return res, nil
}
