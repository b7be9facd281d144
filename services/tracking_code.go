package services

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// trackingNotePatterns find a code written into free-text order notes, e.g. "ref: AFF42".
// A separator is required so words like "refund" never match.
var trackingNotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\baff[_-]?code\s*[=:]\s*([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`(?i)\bref\s*[=:]\s*([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`(?i)\btracking[_-]?code\s*[=:]\s*([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`(?i)\butm_source\s*[=:]\s*([A-Za-z0-9_-]+)`),
}

var (
	customFieldWords  = []string{"tracking", "affiliate", "ref", "referral", "aff"}
	formFieldWords    = []string{"tracking", "affiliate", "ref", "referral"}
	metadataKeys      = []string{"tracking_code", "affiliate_code", "ref", "aff_code"}
	sourceQueryParams = []string{"ref", "aff", "tracking", "affiliate", "utm_source", "via"}
)

// extractTrackingCode finds an affiliate tracking code carried on the order itself. Sources
// are tried in order: custom fields, staff notes, customer message, metadata, form fields,
// then query parameters of the external source URL.
func extractTrackingCode(data map[string]json.RawMessage) string {
	if code := codeFromNamedFields(data["custom_fields"], customFieldWords); code != "" {
		return code
	}
	for _, field := range []string{"staff_notes", "customer_message"} {
		if code := codeFromNotes(flexString(data[field])); code != "" {
			return code
		}
	}
	var meta map[string]json.RawMessage
	if present(data["metadata"]) && json.Unmarshal(data["metadata"], &meta) == nil {
		if code := firstString(meta, metadataKeys...); code != "" {
			return code
		}
	}
	if code := codeFromNamedFields(data["form_fields"], formFieldWords); code != "" {
		return code
	}
	return codeFromURL(flexString(data["external_source"]))
}

// codeFromNamedFields scans [{"name": ..., "value": ...}] rows for a name containing one of words.
func codeFromNamedFields(raw json.RawMessage, words []string) string {
	if !present(raw) {
		return ""
	}
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return ""
	}
	for _, row := range rows {
		if !nameHasWord(flexString(row["name"]), words) {
			continue
		}
		if v := flexString(row["value"]); v != "" {
			return v
		}
	}
	return ""
}

func nameHasWord(name string, words []string) bool {
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, part := range parts {
		for _, w := range words {
			if part == w {
				return true
			}
		}
	}
	return false
}

func codeFromNotes(notes string) string {
	if notes == "" {
		return ""
	}
	for _, re := range trackingNotePatterns {
		if m := re.FindStringSubmatch(notes); m != nil {
			return m[1]
		}
	}
	return ""
}

func codeFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	query := u.Query()
	for _, param := range sourceQueryParams {
		if v := strings.TrimSpace(query.Get(param)); v != "" {
			return v
		}
	}
	return ""
}
