package patient

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fhirportal/fhirportal/internal/platform/fhir"
)

func fullDocument() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"identifier": []interface{}{
			map[string]interface{}{"system": "http://hospital.example.com/mrn", "value": "MRN-7712"},
		},
		"name": []interface{}{
			map[string]interface{}{"use": "official", "family": "Rivera", "given": []interface{}{"Luz", "Marina"}},
		},
		"gender":    "female",
		"birthDate": "1987-11-02",
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "555-0101"},
			map[string]interface{}{"system": "email", "value": "luz@example.com"},
		},
		"address": []interface{}{
			map[string]interface{}{
				"line":       []interface{}{"12 Calle Sol", "Apt 3"},
				"city":       "San Juan",
				"state":      "PR",
				"postalCode": "00901",
				"country":    "US",
			},
		},
		"maritalStatus": map[string]interface{}{"text": "Married"},
	}
}

func TestToRecord_ExtractsColumns(t *testing.T) {
	rec := ToRecord(fullDocument(), uuid.Nil)

	if rec.MRN != "MRN-7712" {
		t.Errorf("expected MRN-7712, got %s", rec.MRN)
	}
	if rec.FamilyName != "Rivera" {
		t.Errorf("expected Rivera, got %s", rec.FamilyName)
	}
	if rec.GivenName != "Luz" {
		t.Errorf("expected Luz, got %s", rec.GivenName)
	}
	if rec.MiddleName == nil || *rec.MiddleName != "Marina" {
		t.Errorf("expected middle name Marina, got %v", rec.MiddleName)
	}
	if rec.Gender != "female" {
		t.Errorf("expected female, got %s", rec.Gender)
	}
	if rec.BirthDate == nil || rec.BirthDate.Format("2006-01-02") != "1987-11-02" {
		t.Errorf("expected birth date 1987-11-02, got %v", rec.BirthDate)
	}
	if rec.Phone == nil || *rec.Phone != "555-0101" {
		t.Errorf("expected phone 555-0101, got %v", rec.Phone)
	}
	if rec.Email == nil || *rec.Email != "luz@example.com" {
		t.Errorf("expected email, got %v", rec.Email)
	}
	if rec.AddressLine == nil || *rec.AddressLine != "12 Calle Sol, Apt 3" {
		t.Errorf("expected joined address line, got %v", rec.AddressLine)
	}
	if rec.City == nil || *rec.City != "San Juan" {
		t.Errorf("expected San Juan, got %v", rec.City)
	}
	if rec.PostalCode == nil || *rec.PostalCode != "00901" {
		t.Errorf("expected 00901, got %v", rec.PostalCode)
	}
	if len(rec.Resource) == 0 {
		t.Error("expected document blob to be stored")
	}
}

func TestRoundTrip_PreservesDocument(t *testing.T) {
	doc := fullDocument()

	rec := ToRecord(doc, uuid.Nil)
	rec.ID = uuid.New()
	rec.Version = 3
	rec.UpdatedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	out := rec.ToFHIR()

	if out["id"] != rec.ID.String() {
		t.Errorf("expected id %s, got %v", rec.ID, out["id"])
	}
	meta, ok := out["meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected meta map, got %T", out["meta"])
	}
	if meta["versionId"] != "3" {
		t.Errorf("expected versionId 3, got %v", meta["versionId"])
	}
	if meta["lastUpdated"] != "2025-06-01T12:00:00Z" {
		t.Errorf("expected lastUpdated 2025-06-01T12:00:00Z, got %v", meta["lastUpdated"])
	}

	// Everything except id and meta passes through unchanged, including
	// fields no column models.
	for _, key := range []string{"resourceType", "identifier", "name", "gender", "birthDate", "telecom", "address", "maritalStatus"} {
		want, _ := json.Marshal(doc[key])
		got, _ := json.Marshal(out[key])
		if string(want) != string(got) {
			t.Errorf("%s changed in round trip: got %s, want %s", key, got, want)
		}
	}
}

func TestToRecord_PrefersOfficialName(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"name": []interface{}{
			map[string]interface{}{"use": "maiden", "family": "Old", "given": []interface{}{"Ana"}},
			map[string]interface{}{"use": "official", "family": "Current", "given": []interface{}{"Anna"}},
		},
	}
	rec := ToRecord(doc, uuid.Nil)
	if rec.FamilyName != "Current" {
		t.Errorf("expected Current, got %s", rec.FamilyName)
	}
	if rec.GivenName != "Anna" {
		t.Errorf("expected Anna, got %s", rec.GivenName)
	}
}

func TestToRecord_FirstNameWhenNoOfficial(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"name": []interface{}{
			map[string]interface{}{"use": "nickname", "family": "First"},
			map[string]interface{}{"use": "maiden", "family": "Second"},
		},
	}
	rec := ToRecord(doc, uuid.Nil)
	if rec.FamilyName != "First" {
		t.Errorf("expected First, got %s", rec.FamilyName)
	}
}

func TestToRecord_EmptyNameList(t *testing.T) {
	doc := map[string]interface{}{"resourceType": "Patient", "name": []interface{}{}}
	rec := ToRecord(doc, uuid.Nil)
	if rec.FamilyName != "" || rec.GivenName != "" {
		t.Errorf("expected empty name parts, got %q %q", rec.FamilyName, rec.GivenName)
	}
	if rec.MiddleName != nil {
		t.Errorf("expected nil middle name, got %v", *rec.MiddleName)
	}
}

func TestToRecord_MRNSkipsEmptyValues(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"identifier": []interface{}{
			map[string]interface{}{"system": "http://other", "value": ""},
			map[string]interface{}{"value": "MRN123"},
		},
	}
	rec := ToRecord(doc, uuid.Nil)
	if rec.MRN != "MRN123" {
		t.Errorf("expected MRN123, got %s", rec.MRN)
	}
}

func TestToRecord_GeneratesMRNWhenMissing(t *testing.T) {
	doc := map[string]interface{}{"resourceType": "Patient"}
	rec := ToRecord(doc, uuid.Nil)
	if !strings.HasPrefix(rec.MRN, "MRN-") {
		t.Fatalf("expected generated MRN with MRN- prefix, got %s", rec.MRN)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(rec.MRN, "MRN-")); err != nil {
		t.Errorf("expected UUID suffix, got %s", rec.MRN)
	}

	other := ToRecord(doc, uuid.Nil)
	if other.MRN == rec.MRN {
		t.Error("generated MRNs should not repeat")
	}
}

func TestToRecord_GenderNormalization(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"absent", nil, "unknown"},
		{"empty", "", "unknown"},
		{"uppercase", "MALE", "male"},
		{"mixed case", "Female", "female"},
		{"already lowercase", "other", "other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := map[string]interface{}{"resourceType": "Patient"}
			if tc.in != nil {
				doc["gender"] = tc.in
			}
			rec := ToRecord(doc, uuid.Nil)
			if rec.Gender != tc.want {
				t.Errorf("expected %s, got %s", tc.want, rec.Gender)
			}
		})
	}
}

func TestToRecord_UnparseableBirthDate(t *testing.T) {
	doc := map[string]interface{}{"resourceType": "Patient", "birthDate": "11/02/1987"}
	rec := ToRecord(doc, uuid.Nil)
	if rec.BirthDate != nil {
		t.Errorf("expected nil birth date, got %v", rec.BirthDate)
	}
}

func TestToRecord_FirstTelecomPerSystemWins(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "first"},
			map[string]interface{}{"system": "phone", "value": "second"},
			map[string]interface{}{"system": "email", "value": "a@example.com"},
		},
	}
	rec := ToRecord(doc, uuid.Nil)
	if rec.Phone == nil || *rec.Phone != "first" {
		t.Errorf("expected first phone entry, got %v", rec.Phone)
	}
	if rec.Email == nil || *rec.Email != "a@example.com" {
		t.Errorf("expected email, got %v", rec.Email)
	}
}

func TestToRecord_EmptyFirstTelecomIgnoresLater(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": ""},
			map[string]interface{}{"system": "phone", "value": "later"},
		},
	}
	rec := ToRecord(doc, uuid.Nil)
	if rec.Phone != nil {
		t.Errorf("expected nil phone, got %v", *rec.Phone)
	}
}

func TestToRecord_KeepsExistingID(t *testing.T) {
	id := uuid.New()
	rec := ToRecord(map[string]interface{}{"resourceType": "Patient"}, id)
	if rec.ID != id {
		t.Errorf("expected %s, got %s", id, rec.ID)
	}
}

func TestToFHIR_SynthesizesWithoutBlob(t *testing.T) {
	middle := "Q"
	phone := "555-0102"
	city := "Boston"
	p := &Patient{
		ID:         uuid.New(),
		MRN:        "MRN-1",
		FamilyName: "Stone",
		GivenName:  "Ed",
		MiddleName: &middle,
		Gender:     "male",
		Phone:      &phone,
		City:       &city,
		Version:    1,
		UpdatedAt:  time.Now(),
	}

	doc := p.ToFHIR()

	if doc["resourceType"] != "Patient" {
		t.Errorf("expected Patient, got %v", doc["resourceType"])
	}
	names, ok := doc["name"].([]fhir.HumanName)
	if !ok || len(names) != 1 {
		t.Fatalf("expected one synthesized name, got %v", doc["name"])
	}
	if names[0].Use != "official" || names[0].Family != "Stone" {
		t.Errorf("unexpected name %+v", names[0])
	}
	if len(names[0].Given) != 2 || names[0].Given[1] != "Q" {
		t.Errorf("expected middle name in given list, got %v", names[0].Given)
	}
	ids, ok := doc["identifier"].([]fhir.Identifier)
	if !ok || len(ids) != 1 {
		t.Fatalf("expected one identifier, got %v", doc["identifier"])
	}
	if ids[0].System != MRNSystem || ids[0].Value != "MRN-1" {
		t.Errorf("unexpected identifier %+v", ids[0])
	}
	if doc["gender"] != "male" {
		t.Errorf("expected male, got %v", doc["gender"])
	}
	tel, ok := doc["telecom"].([]fhir.ContactPoint)
	if !ok || len(tel) != 1 || tel[0].Value != "555-0102" {
		t.Errorf("unexpected telecom %v", doc["telecom"])
	}
	addrs, ok := doc["address"].([]fhir.Address)
	if !ok || len(addrs) != 1 || addrs[0].City != "Boston" {
		t.Errorf("unexpected address %v", doc["address"])
	}
	if doc["birthDate"] != nil {
		t.Errorf("expected no birthDate, got %v", doc["birthDate"])
	}
}

func TestToFHIR_PreservesStoredMetaMembers(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"meta": map[string]interface{}{
			"profile": []interface{}{"http://hl7.org/fhir/StructureDefinition/Patient"},
		},
	}
	rec := ToRecord(doc, uuid.New())
	rec.Version = 2
	rec.UpdatedAt = time.Now()

	out := rec.ToFHIR()
	meta := out["meta"].(map[string]interface{})
	if meta["versionId"] != "2" {
		t.Errorf("expected versionId 2, got %v", meta["versionId"])
	}
	if meta["profile"] == nil {
		t.Error("expected profile to survive the meta overwrite")
	}
}
