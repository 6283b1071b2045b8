package patient

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fhirportal/fhirportal/internal/platform/fhir"
)

// MRNSystem is the identifier system stamped on synthesized identifiers.
const MRNSystem = "http://hospital.example.com/mrn"

// ToRecord flattens a FHIR Patient document into a Patient record. The
// document is stored verbatim alongside the extracted columns. Mapping never
// fails: missing pieces fall back (empty name parts, generated MRN, gender
// "unknown") so the store's NOT NULL invariants always hold. Shape problems
// are the validator's job, before the document gets here.
func ToRecord(doc map[string]interface{}, existingID uuid.UUID) *Patient {
	p := &Patient{ID: existingID}

	p.FamilyName, p.GivenName, p.MiddleName = pickName(doc["name"])
	p.MRN = pickMRN(doc["identifier"])
	p.Gender = normalizeGender(doc["gender"])
	p.BirthDate = parseBirthDate(doc["birthDate"])
	p.Phone = pickTelecom(doc["telecom"], "phone")
	p.Email = pickTelecom(doc["telecom"], "email")
	fillAddress(p, doc["address"])

	raw, _ := json.Marshal(doc)
	p.Resource = raw
	return p
}

// pickName selects the entry with use "official", else the first entry.
// The first given token is the given name, the second the middle name.
func pickName(v interface{}) (family, given string, middle *string) {
	entries, ok := v.([]interface{})
	if !ok || len(entries) == 0 {
		return "", "", nil
	}
	selected, _ := entries[0].(map[string]interface{})
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if use, _ := m["use"].(string); use == "official" {
			selected = m
			break
		}
	}
	if selected == nil {
		return "", "", nil
	}
	family, _ = selected["family"].(string)
	if givens, ok := selected["given"].([]interface{}); ok {
		if len(givens) > 0 {
			given, _ = givens[0].(string)
		}
		if len(givens) > 1 {
			if second, ok := givens[1].(string); ok && second != "" {
				middle = &second
			}
		}
	}
	return family, given, middle
}

// pickMRN returns the value of the first identifier entry with a non-empty
// value. Documents without a usable identifier get a generated MRN so the
// unique NOT NULL column can always be satisfied.
func pickMRN(v interface{}) string {
	if entries, ok := v.([]interface{}); ok {
		for _, e := range entries {
			m, ok := e.(map[string]interface{})
			if !ok {
				continue
			}
			if val, _ := m["value"].(string); val != "" {
				return val
			}
		}
	}
	return "MRN-" + uuid.NewString()
}

// normalizeGender lowercases the document value; absent or empty means
// "unknown". Membership in the administrative-gender value set is checked
// by the validator and the service, not here.
func normalizeGender(v interface{}) string {
	g, _ := v.(string)
	if g == "" {
		return "unknown"
	}
	return strings.ToLower(g)
}

func parseBirthDate(v interface{}) *time.Time {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// pickTelecom returns the value of the first telecom entry whose system
// matches. Later entries with the same system are ignored, even when the
// first one has an empty value.
func pickTelecom(v interface{}, system string) *string {
	entries, ok := v.([]interface{})
	if !ok {
		return nil
	}
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if sys, _ := m["system"].(string); sys != system {
			continue
		}
		if val, _ := m["value"].(string); val != "" {
			return &val
		}
		return nil
	}
	return nil
}

// fillAddress copies the first address entry onto the record, joining line
// values so a single column holds the full street address.
func fillAddress(p *Patient, v interface{}) {
	entries, ok := v.([]interface{})
	if !ok || len(entries) == 0 {
		return
	}
	addr, ok := entries[0].(map[string]interface{})
	if !ok {
		return
	}
	if lines, ok := addr["line"].([]interface{}); ok {
		var parts []string
		for _, l := range lines {
			if s, ok := l.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			joined := strings.Join(parts, ", ")
			p.AddressLine = &joined
		}
	}
	p.City = strField(addr, "city")
	p.State = strField(addr, "state")
	p.PostalCode = strField(addr, "postalCode")
	p.Country = strField(addr, "country")
}

func strField(m map[string]interface{}, key string) *string {
	s, _ := m[key].(string)
	if s == "" {
		return nil
	}
	return &s
}

// ToFHIR renders the record as a FHIR Patient document. The stored blob is
// the source of truth: it is decoded fresh (a deep copy), then id and the
// meta versioning fields are overwritten from the record. Everything else
// passes through unchanged. Records without a blob get a minimal document
// synthesized from the flat columns.
func (p *Patient) ToFHIR() map[string]interface{} {
	var doc map[string]interface{}
	if len(p.Resource) > 0 {
		_ = json.Unmarshal(p.Resource, &doc)
	}
	if len(doc) == 0 {
		doc = p.synthesizeDocument()
	}

	doc["id"] = p.ID.String()
	meta, _ := doc["meta"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["versionId"] = strconv.Itoa(p.Version)
	meta["lastUpdated"] = p.UpdatedAt.UTC().Format(time.RFC3339)
	doc["meta"] = meta

	return doc
}

// synthesizeDocument builds a minimal Patient document for records created
// on the plain JSON surface, where no submitted blob exists.
func (p *Patient) synthesizeDocument() map[string]interface{} {
	doc := map[string]interface{}{
		"resourceType": "Patient",
	}

	name := fhir.HumanName{Use: "official", Family: p.FamilyName}
	if p.GivenName != "" {
		name.Given = []string{p.GivenName}
	}
	if p.MiddleName != nil {
		name.Given = append(name.Given, *p.MiddleName)
	}
	doc["name"] = []fhir.HumanName{name}

	doc["identifier"] = []fhir.Identifier{{System: MRNSystem, Value: p.MRN}}
	doc["gender"] = p.Gender
	if p.BirthDate != nil {
		doc["birthDate"] = p.BirthDate.Format("2006-01-02")
	}

	var telecom []fhir.ContactPoint
	if p.Phone != nil {
		telecom = append(telecom, fhir.ContactPoint{System: "phone", Value: *p.Phone})
	}
	if p.Email != nil {
		telecom = append(telecom, fhir.ContactPoint{System: "email", Value: *p.Email})
	}
	if len(telecom) > 0 {
		doc["telecom"] = telecom
	}

	if p.AddressLine != nil || p.City != nil || p.State != nil || p.PostalCode != nil || p.Country != nil {
		addr := fhir.Address{}
		if p.AddressLine != nil {
			addr.Line = []string{*p.AddressLine}
		}
		if p.City != nil {
			addr.City = *p.City
		}
		if p.State != nil {
			addr.State = *p.State
		}
		if p.PostalCode != nil {
			addr.PostalCode = *p.PostalCode
		}
		if p.Country != nil {
			addr.Country = *p.Country
		}
		doc["address"] = []fhir.Address{addr}
	}

	return doc
}
