package fhir

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSearchQueryBasic(t *testing.T) {
	q := NewSearchQuery("patients", "id, mrn")
	q.Add("mrn = $1", "MRN-123")
	q.OrderBy("created_at, id")

	countSQL := q.CountSQL()
	if countSQL != "SELECT COUNT(*) FROM patients WHERE 1=1 AND mrn = $1" {
		t.Errorf("unexpected count SQL: %s", countSQL)
	}
	if len(q.CountArgs()) != 1 || q.CountArgs()[0] != "MRN-123" {
		t.Errorf("unexpected count args: %v", q.CountArgs())
	}

	dataSQL := q.DataSQL()
	if !strings.Contains(dataSQL, "ORDER BY created_at, id") {
		t.Errorf("expected ORDER BY in data SQL: %s", dataSQL)
	}
	if !strings.Contains(dataSQL, "LIMIT $2 OFFSET $3") {
		t.Errorf("expected LIMIT/OFFSET in data SQL: %s", dataSQL)
	}

	dataArgs := q.DataArgs(10, 0)
	if len(dataArgs) != 3 || dataArgs[1] != 10 || dataArgs[2] != 0 {
		t.Errorf("unexpected data args: %v", dataArgs)
	}
}

func TestSearchQueryNoFilters(t *testing.T) {
	q := NewSearchQuery("patients", "id")

	if q.CountSQL() != "SELECT COUNT(*) FROM patients WHERE 1=1" {
		t.Errorf("unexpected count SQL: %s", q.CountSQL())
	}
	if q.DataSQL() != "SELECT id FROM patients WHERE 1=1 LIMIT $1 OFFSET $2" {
		t.Errorf("unexpected data SQL: %s", q.DataSQL())
	}
	args := q.DataArgs(20, 40)
	if len(args) != 2 || args[0] != 20 || args[1] != 40 {
		t.Errorf("unexpected data args: %v", args)
	}
}

func TestSearchQueryApplyParams(t *testing.T) {
	configs := map[string]SearchParamConfig{
		"identifier": {Type: SearchParamToken, Column: "mrn"},
		"gender":     {Type: SearchParamToken, Column: "gender"},
		"birthdate":  {Type: SearchParamDate, Column: "birth_date"},
		"family":     {Type: SearchParamString, Column: "family_name"},
	}

	t.Run("token param strips system prefix", func(t *testing.T) {
		q := NewSearchQuery("patients", "id")
		q.ApplyParams(map[string]string{"identifier": "http://hospital.example.com/mrn|MRN123"}, configs)
		if len(q.CountArgs()) != 1 || q.CountArgs()[0] != "MRN123" {
			t.Errorf("token should keep the portion after the pipe, got args: %v", q.CountArgs())
		}
	})

	t.Run("simple token param", func(t *testing.T) {
		q := NewSearchQuery("patients", "id")
		q.ApplyParams(map[string]string{"gender": "female"}, configs)
		if !strings.Contains(q.CountSQL(), "gender = $1") {
			t.Errorf("expected exact match for simple token: %s", q.CountSQL())
		}
	})

	t.Run("date param with prefix", func(t *testing.T) {
		q := NewSearchQuery("patients", "id")
		q.ApplyParams(map[string]string{"birthdate": "gt1990-01-01"}, configs)
		if !strings.Contains(q.CountSQL(), "birth_date >") {
			t.Errorf("expected > for gt prefix: %s", q.CountSQL())
		}
	})

	t.Run("string param default prefix match", func(t *testing.T) {
		q := NewSearchQuery("patients", "id")
		q.ApplyParams(map[string]string{"family": "Smith"}, configs)
		if !strings.Contains(q.CountSQL(), "ILIKE") {
			t.Errorf("expected ILIKE for string search: %s", q.CountSQL())
		}
		args := q.CountArgs()
		if len(args) != 1 || args[0] != "Smith%" {
			t.Errorf("expected prefix match pattern, got: %v", args)
		}
	})

	t.Run("multiple params combined", func(t *testing.T) {
		q := NewSearchQuery("patients", "id")
		q.ApplyParams(map[string]string{
			"gender":     "female",
			"identifier": "MRN123",
		}, configs)
		if !strings.Contains(q.CountSQL(), "AND") {
			t.Errorf("expected AND clauses: %s", q.CountSQL())
		}
		if len(q.CountArgs()) != 2 {
			t.Errorf("expected 2 args, got %d", len(q.CountArgs()))
		}
	})

	t.Run("unknown param ignored", func(t *testing.T) {
		q := NewSearchQuery("patients", "id")
		q.ApplyParams(map[string]string{"unknown-param": "foo"}, configs)
		if len(q.CountArgs()) != 0 {
			t.Errorf("expected 0 args for unknown param, got %d", len(q.CountArgs()))
		}
	})
}

func TestSearchQueryIdx(t *testing.T) {
	q := NewSearchQuery("patients", "id")
	if q.Idx() != 1 {
		t.Errorf("initial idx should be 1, got %d", q.Idx())
	}
	q.Add("a = $1", "v1")
	if q.Idx() != 2 {
		t.Errorf("idx should be 2 after one arg, got %d", q.Idx())
	}
	q.Add("(b ILIKE $2 OR c ILIKE $3)", "v2", "v3")
	if q.Idx() != 4 {
		t.Errorf("idx should be 4 after three args, got %d", q.Idx())
	}
}

func TestSearchQueryMixedClauses(t *testing.T) {
	// A hand-added clause followed by builder helpers keeps the
	// placeholder sequence contiguous through LIMIT/OFFSET.
	q := NewSearchQuery("patients", "id")
	q.Add("(family_name ILIKE $1 OR given_name ILIKE $2)", "%riv%", "%riv%")
	q.AddToken("gender", "female")
	q.AddDate("birth_date", "ge1980-01-01")

	if !strings.Contains(q.CountSQL(), "gender = $3") {
		t.Errorf("expected gender at $3: %s", q.CountSQL())
	}
	if !strings.Contains(q.CountSQL(), "birth_date >= $4") {
		t.Errorf("expected birth_date at $4: %s", q.CountSQL())
	}
	if !strings.Contains(q.DataSQL(), "LIMIT $5 OFFSET $6") {
		t.Errorf("expected LIMIT at $5: %s", q.DataSQL())
	}
	if len(q.DataArgs(10, 0)) != 6 {
		t.Errorf("expected 6 data args, got %d", len(q.DataArgs(10, 0)))
	}
}

func TestExtractSearchParams(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient?name=Smith&gender=female&_count=10&_offset=20", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	params := ExtractSearchParams(c)

	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d: %v", len(params), params)
	}
	if params["name"] != "Smith" {
		t.Errorf("expected name=Smith, got %q", params["name"])
	}
	if params["gender"] != "female" {
		t.Errorf("expected gender=female, got %q", params["gender"])
	}
	if _, ok := params["_count"]; ok {
		t.Error("control parameters should be excluded")
	}
}

func TestExtractSearchParams_FirstValueWins(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient?gender=female&gender=male", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	params := ExtractSearchParams(c)
	if params["gender"] != "female" {
		t.Errorf("expected first value, got %q", params["gender"])
	}
}
