package settings

import (
	"regexp"
	"strings"
)

var (
	stringDType  = regexp.MustCompile(`^(N?VARCHAR)\s*\(\s*(MAX|\d+)\s*\)$`)
	badStrDType  = regexp.MustCompile(`^N?VARCHAR\b`)
	decimalDType = regexp.MustCompile(`^(DECIMAL|NUMERIC)\s*\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)
	plainDTypes  = map[string]bool{
		"INT": true, "BIGINT": true, "SMALLINT": true, "FLOAT": true,
		"DATE": true, "DATETIME": true, "DATETIME2": true, "BIT": true,
	}
)

// NormalizeDType canonicalizes a dtype string from settings.
//
//	""               -> NVARCHAR(255)
//	"nvarchar(max)"  -> NVARCHAR(MAX)
//	"NVARCHAR(abc)"  -> NVARCHAR(255)
//	"DECIMAL(18, 2)" -> DECIMAL(18,2)
//	"GEOGRAPHY"      -> NVARCHAR(500)
func NormalizeDType(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return defaultDType
	}
	if plainDTypes[s] {
		return s
	}
	if m := stringDType.FindStringSubmatch(s); m != nil {
		return m[1] + "(" + m[2] + ")"
	}
	if badStrDType.MatchString(s) {
		return defaultDType
	}
	if m := decimalDType.FindStringSubmatch(s); m != nil {
		return m[1] + "(" + m[2] + "," + m[3] + ")"
	}
	return fallbackDType
}

// IsMetadataKey reports whether a dtype document key is configuration
// rather than a column.
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, metadataPrefix)
}
