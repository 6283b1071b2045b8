package patient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table. The flat columns hold the demographics
// the search engine filters on; the resource column keeps the submitted FHIR
// document verbatim so reads round-trip fields the columns do not model.
type Patient struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	MRN         string          `db:"mrn" json:"mrn"`
	FamilyName  string          `db:"family_name" json:"family_name"`
	GivenName   string          `db:"given_name" json:"given_name"`
	MiddleName  *string         `db:"middle_name" json:"middle_name,omitempty"`
	BirthDate   *time.Time      `db:"birth_date" json:"birth_date,omitempty"`
	Gender      string          `db:"gender" json:"gender"`
	Phone       *string         `db:"phone" json:"phone,omitempty"`
	Email       *string         `db:"email" json:"email,omitempty"`
	AddressLine *string         `db:"address_line" json:"address_line,omitempty"`
	City        *string         `db:"city" json:"city,omitempty"`
	State       *string         `db:"state" json:"state,omitempty"`
	PostalCode  *string         `db:"postal_code" json:"postal_code,omitempty"`
	Country     *string         `db:"country" json:"country,omitempty"`
	Resource    json.RawMessage `db:"resource" json:"resource,omitempty"`
	Version     int             `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}
