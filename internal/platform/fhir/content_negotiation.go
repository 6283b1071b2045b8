package fhir

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContentType is the media type every FHIR response is served as.
const ContentType = "application/fhir+json; charset=utf-8"

// ContentNegotiation handles FHIR content negotiation. The _format query
// parameter takes priority over the Accept header. Only JSON is served: XML
// and unknown formats are rejected with 406 Not Acceptable.
func ContentNegotiation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if format := c.QueryParam("_format"); format != "" {
				if !formatIsJSON(format) {
					return c.JSON(http.StatusNotAcceptable, NotSupportedOutcome("Unsupported _format value: "+format+". Use application/fhir+json."))
				}
			} else if accept := c.Request().Header.Get("Accept"); accept != "" && !acceptAllowsJSON(accept) {
				return c.JSON(http.StatusNotAcceptable, NotSupportedOutcome("Accept header does not include a supported FHIR content type. Use application/fhir+json."))
			}
			c.Response().Header().Set(echo.HeaderContentType, ContentType)
			return next(c)
		}
	}
}

// normalizeFormat lowercases and trims a format string and restores the "+"
// that query-string decoding may have turned into a space
// (e.g. "application/fhir json" -> "application/fhir+json").
func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	return strings.ReplaceAll(f, "fhir json", "fhir+json")
}

// formatIsJSON returns true if the _format value names a JSON content type.
func formatIsJSON(format string) bool {
	switch normalizeFormat(format) {
	case "json", "application/json", "application/fhir+json":
		return true
	}
	return false
}

// acceptAllowsJSON parses the Accept header and returns true if any listed
// media type is JSON-compatible.
func acceptAllowsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		// Strip quality parameters (e.g. ";q=0.9").
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch strings.ToLower(mediaType) {
		case "application/fhir+json", "application/json", "json", "*/*":
			return true
		}
	}
	return false
}
