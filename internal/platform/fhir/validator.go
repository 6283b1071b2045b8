package fhir

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// referencePattern matches FHIR references in the format "ResourceType/id".
var referencePattern = regexp.MustCompile(`^[A-Z][a-zA-Z]+/[a-zA-Z0-9\-\.]+$`)

// knownResourceTypes lists the FHIR R4 resource types this server recognizes,
// either as served resources or as reference targets inside documents.
var knownResourceTypes = map[string]bool{
	"Patient": true, "Practitioner": true, "PractitionerRole": true,
	"Organization": true, "Location": true, "Encounter": true,
	"Condition": true, "Observation": true, "AllergyIntolerance": true,
	"Procedure": true, "Medication": true, "MedicationRequest": true,
	"RelatedPerson": true, "Coverage": true, "DocumentReference": true,
	"Bundle": true, "OperationOutcome": true, "CapabilityStatement": true,
}

// genderValues is the administrative-gender value set. Input is lowercased
// before the membership check, matching the mapper's normalization rule.
var genderValues = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}

// ValidationResult holds the results of a FHIR resource validation.
type ValidationResult struct {
	Valid  bool
	Issues []OperationOutcomeIssue
}

// ToOperationOutcome converts a ValidationResult into an OperationOutcome.
func (vr *ValidationResult) ToOperationOutcome() *OperationOutcome {
	return MultipleIssuesOutcome(vr.Issues)
}

// Validator checks document shape before a resource reaches the mapper.
// The mapper itself never fails; everything that can be rejected is
// rejected here.
type Validator struct{}

// NewValidator creates a new FHIR Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateResource validates a raw JSON resource. It checks: resourceType is
// present and known, id is present when required (updates), gender belongs to
// the administrative-gender value set, birthDate parses as a calendar date,
// and embedded references are properly formatted.
func (v *Validator) ValidateResource(data json.RawMessage, requireID bool) *ValidationResult {
	result := &ValidationResult{Valid: true}

	var resource map[string]interface{}
	if err := json.Unmarshal(data, &resource); err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeStructure,
			Diagnostics: "invalid JSON: " + err.Error(),
		})
		return result
	}

	return v.ValidateResourceMap(resource, requireID)
}

// ValidateResourceMap validates a resource already parsed as a map.
func (v *Validator) ValidateResourceMap(resource map[string]interface{}, requireID bool) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validateResourceType(resource, result)
	if requireID {
		v.validateID(resource, result)
	}
	v.validateGender(resource, result)
	v.validateBirthDate(resource, result)
	v.validateReferences(resource, result)

	return result
}

// validateResourceType checks that resourceType is present and recognized.
func (v *Validator) validateResourceType(resource map[string]interface{}, result *ValidationResult) {
	rt, ok := resource["resourceType"]
	if !ok {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeRequired,
			Diagnostics: "resourceType is required",
			Expression:  []string{"resourceType"},
		})
		return
	}

	rtStr, ok := rt.(string)
	if !ok || rtStr == "" {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: "resourceType must be a non-empty string",
			Expression:  []string{"resourceType"},
		})
		return
	}

	if !knownResourceTypes[rtStr] {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: fmt.Sprintf("unknown resourceType: %s", rtStr),
			Expression:  []string{"resourceType"},
		})
	}
}

// validateID checks that id is present when required (for updates).
func (v *Validator) validateID(resource map[string]interface{}, result *ValidationResult) {
	id, ok := resource["id"]
	if !ok {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeRequired,
			Diagnostics: "id is required for update operations",
			Expression:  []string{"id"},
		})
		return
	}
	idStr, ok := id.(string)
	if !ok || idStr == "" {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: "id must be a non-empty string",
			Expression:  []string{"id"},
		})
	}
}

// validateGender checks the gender field against the administrative-gender
// value set when present. Case is ignored; storage lowercases.
func (v *Validator) validateGender(resource map[string]interface{}, result *ValidationResult) {
	gender, ok := resource["gender"]
	if !ok {
		return // absent gender defaults to "unknown" downstream
	}

	genderStr, ok := gender.(string)
	if !ok {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: "gender must be a string",
			Expression:  []string{"gender"},
		})
		return
	}

	if genderStr != "" && !genderValues[strings.ToLower(genderStr)] {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: fmt.Sprintf("invalid gender '%s'; valid values: male, female, other, unknown", genderStr),
			Expression:  []string{"gender"},
		})
	}
}

// validateBirthDate checks that birthDate, when present, parses as YYYY-MM-DD.
func (v *Validator) validateBirthDate(resource map[string]interface{}, result *ValidationResult) {
	bd, ok := resource["birthDate"]
	if !ok {
		return
	}

	bdStr, ok := bd.(string)
	if !ok {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: "birthDate must be a string",
			Expression:  []string{"birthDate"},
		})
		return
	}

	if _, err := time.Parse("2006-01-02", bdStr); err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: fmt.Sprintf("invalid birthDate '%s'; expected YYYY-MM-DD", bdStr),
			Expression:  []string{"birthDate"},
		})
	}
}

// validateReferences finds reference fields and validates their format.
func (v *Validator) validateReferences(resource map[string]interface{}, result *ValidationResult) {
	v.walkReferences(resource, "", result)
}

// walkReferences recursively walks a resource to find and validate reference fields.
func (v *Validator) walkReferences(obj map[string]interface{}, path string, result *ValidationResult) {
	for key, val := range obj {
		currentPath := key
		if path != "" {
			currentPath = path + "." + key
		}

		switch typedVal := val.(type) {
		case map[string]interface{}:
			if ref, ok := typedVal["reference"]; ok {
				refStr, isStr := ref.(string)
				if isStr && refStr != "" {
					if !ValidateReferenceFormat(refStr) {
						result.Valid = false
						result.Issues = append(result.Issues, OperationOutcomeIssue{
							Severity:    IssueSeverityError,
							Code:        IssueTypeValue,
							Diagnostics: fmt.Sprintf("invalid reference format '%s'; expected 'ResourceType/id'", refStr),
							Expression:  []string{currentPath + ".reference"},
						})
					}
				}
			}
			v.walkReferences(typedVal, currentPath, result)

		case []interface{}:
			for i, item := range typedVal {
				if m, ok := item.(map[string]interface{}); ok {
					itemPath := fmt.Sprintf("%s[%d]", currentPath, i)
					v.walkReferences(m, itemPath, result)
				}
			}
		}
	}
}

// ValidateReferenceFormat validates that a reference string matches "ResourceType/id".
func ValidateReferenceFormat(ref string) bool {
	return referencePattern.MatchString(ref)
}

// IsKnownResourceType returns true if the resource type is recognized.
func IsKnownResourceType(rt string) bool {
	return knownResourceTypes[rt]
}

// IsValidGender returns true if the value, lowercased, belongs to the
// administrative-gender value set.
func IsValidGender(g string) bool {
	return genderValues[strings.ToLower(g)]
}
