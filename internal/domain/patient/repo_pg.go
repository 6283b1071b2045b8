package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fhirportal/fhirportal/internal/platform/fhir"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, mrn, family_name, given_name, middle_name, birth_date, gender,
	phone, email, address_line, city, state, postal_code, country,
	resource, version, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FamilyName, &p.GivenName, &p.MiddleName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.AddressLine, &p.City, &p.State, &p.PostalCode, &p.Country,
		&p.Resource, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, mrn, family_name, given_name, middle_name, birth_date, gender,
			phone, email, address_line, city, state, postal_code, country, resource)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING version, created_at, updated_at`,
		p.ID, p.MRN, p.FamilyName, p.GivenName, p.MiddleName, p.BirthDate, p.Gender,
		p.Phone, p.Email, p.AddressLine, p.City, p.State, p.PostalCode, p.Country, p.Resource,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create patient: %w", ErrDuplicateMRN)
		}
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE mrn = $1`, mrn))
}

// Update is a single statement: the version check rides in the WHERE clause
// so the compare-and-swap cannot race a concurrent writer. Zero rows means
// the row is gone or at another version; a follow-up read tells which.
func (r *patientRepoPG) Update(ctx context.Context, p *Patient, expectedVersion int) error {
	sql := `
		UPDATE patients SET mrn=$2, family_name=$3, given_name=$4, middle_name=$5, birth_date=$6,
			gender=$7, phone=$8, email=$9, address_line=$10, city=$11, state=$12,
			postal_code=$13, country=$14, resource=$15,
			version = version + 1, updated_at = NOW()
		WHERE id = $1`
	args := []interface{}{p.ID, p.MRN, p.FamilyName, p.GivenName, p.MiddleName, p.BirthDate,
		p.Gender, p.Phone, p.Email, p.AddressLine, p.City, p.State, p.PostalCode, p.Country, p.Resource}
	if expectedVersion > 0 {
		sql += fmt.Sprintf(" AND version = $%d", len(args)+1)
		args = append(args, expectedVersion)
	}
	sql += ` RETURNING version, created_at, updated_at`

	err := r.pool.QueryRow(ctx, sql, args...).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("update patient: %w", ErrDuplicateMRN)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update patient: %w", err)
	}
	if _, getErr := r.GetByID(ctx, p.ID); getErr != nil {
		return getErr
	}
	return fmt.Errorf("update patient: %w", ErrVersionConflict)
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+patientCols+` FROM patients ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	items, err := collectPatients(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	return items, total, nil
}

var patientSearchParams = map[string]fhir.SearchParamConfig{
	"birthdate":  {Type: fhir.SearchParamDate, Column: "birth_date"},
	"identifier": {Type: fhir.SearchParamToken, Column: "mrn"},
	"gender":     {Type: fhir.SearchParamToken, Column: "gender"},
}

func (r *patientRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	qb := fhir.NewSearchQuery("patients", patientCols)
	// name matches either name column; the shared builder only knows
	// single-column clauses, so the OR pair is added by hand.
	if name := params["name"]; name != "" {
		pattern := "%" + name + "%"
		i := qb.Idx()
		qb.Add(fmt.Sprintf("(family_name ILIKE $%d OR given_name ILIKE $%d)", i, i+1), pattern, pattern)
	}
	qb.ApplyParams(params, patientSearchParams)
	qb.OrderBy("created_at, id")

	var total int
	if err := r.pool.QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.pool.Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	items, err := collectPatients(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	return items, total, nil
}
