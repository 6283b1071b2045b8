package fhir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// SetVersionHeaders sets ETag and Last-Modified headers on the response.
func SetVersionHeaders(c echo.Context, versionID int, lastModified string) {
	c.Response().Header().Set("ETag", FormatETag(versionID))
	if lastModified != "" {
		c.Response().Header().Set("Last-Modified", lastModified)
	}
}

// ExpectedVersion reads the If-Match header and returns the version the
// client expects the resource to be at. Zero means unconditional: no header
// was sent. A malformed header yields a 400 outcome; the caller answers with
// it and stops.
func ExpectedVersion(c echo.Context) (int, *OperationOutcome) {
	ifMatch := c.Request().Header.Get("If-Match")
	if ifMatch == "" {
		return 0, nil
	}

	expected, err := ParseETag(ifMatch)
	if err != nil {
		return 0, ErrorOutcome("invalid If-Match header: " + err.Error())
	}

	return expected, nil
}

// CheckIfNoneMatch checks If-None-Match for conditional reads.
// Returns true if the client's version matches, meaning 304 Not Modified
// should be returned.
func CheckIfNoneMatch(c echo.Context, currentVersion int) bool {
	ifNoneMatch := c.Request().Header.Get("If-None-Match")
	if ifNoneMatch == "" {
		return false
	}

	clientVersion, err := ParseETag(ifNoneMatch)
	if err != nil {
		return false
	}

	return clientVersion == currentVersion
}

// ParseETag extracts the version number from an ETag value like W/"3" or "3".
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	// Remove weak indicator
	etag = strings.TrimPrefix(etag, "W/")
	// Remove quotes
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return v, nil
}

// FormatETag creates a weak ETag from a version ID.
func FormatETag(versionID int) string {
	return fmt.Sprintf(`W/"%d"`, versionID)
}
