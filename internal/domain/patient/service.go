package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fhirportal/fhirportal/internal/platform/fhir"
)

// ErrInvalidGender is returned when a record carries a gender outside the
// administrative-gender value set.
var ErrInvalidGender = errors.New("gender must be one of male, female, other, unknown")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// prepareRecord normalizes a record before it reaches the store. Records
// arriving through the mapper are already normalized; the plain JSON surface
// binds records directly, so defaults and the gender check apply here too.
func prepareRecord(p *Patient) error {
	if p.Gender == "" {
		p.Gender = "unknown"
	}
	p.Gender = strings.ToLower(p.Gender)
	if !fhir.IsValidGender(p.Gender) {
		return fmt.Errorf("%q: %w", p.Gender, ErrInvalidGender)
	}
	if p.MRN == "" {
		p.MRN = "MRN-" + uuid.NewString()
	}
	if len(p.Resource) == 0 {
		p.Resource, _ = json.Marshal(p.synthesizeDocument())
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := prepareRecord(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, mrn)
}

// UpdatePatient replaces the stored record. expectedVersion carries the
// client's If-Match version; zero makes the update unconditional.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient, expectedVersion int) error {
	if err := prepareRecord(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p, expectedVersion)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	if g, ok := params["gender"]; ok {
		params["gender"] = strings.ToLower(g)
	}
	return s.repo.Search(ctx, params, limit, offset)
}
