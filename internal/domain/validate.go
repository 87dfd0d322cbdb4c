package domain

import (
	"regexp"
	"strings"
)

var (
	identifierRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	addressRe    = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

	readWritePrefixes = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "SHOW", "DESCRIBE", "DESC"}
	schemaKeywords    = []string{"DROP", "ALTER", "CREATE", "TRUNCATE", "GRANT", "REVOKE"}
)

// ValidIdentifier gates every name that is later interpolated into a
// command line or SQL statement.
func ValidIdentifier(s string) bool {
	return s != "" && identifierRe.MatchString(s)
}

// ValidAddress accepts an empty string (unrestricted) or a dotted quad.
// Octet ranges are not checked.
func ValidAddress(s string) bool {
	return s == "" || addressRe.MatchString(s)
}

// ValidReadWriteStatement is a coarse keyword filter, not a SQL parser.
// Obfuscated keywords and stacked statements can get past it.
func ValidReadWriteStatement(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	if upper == "" {
		return false
	}

	allowed := false
	for _, kw := range readWritePrefixes {
		if strings.HasPrefix(upper, kw) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	for _, kw := range schemaKeywords {
		if strings.Contains(upper, kw) {
			return false
		}
	}

	return true
}
