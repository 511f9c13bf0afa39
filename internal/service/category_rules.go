package service

import "strings"

// categoryRule maps a code type (optionally narrowed by a code prefix) to its
// billing category. First match wins.
type categoryRule struct {
	CodeType string
	Prefix   string
	Category string
}

var categoryRules = []categoryRule{
	{CodeType: "CPT", Prefix: "99", Category: "evaluation_management"},
	{CodeType: "CPT", Prefix: "9078", Category: "behavioral_health"},
	{CodeType: "CPT", Category: "procedure"},
	{CodeType: "ICD-10", Prefix: "Z", Category: "status_history"},
	{CodeType: "ICD-10", Category: "diagnosis"},
	{CodeType: "HCPCS", Prefix: "J", Category: "drug"},
	{CodeType: "HCPCS", Category: "supply"},
}

// CategoryFor resolves the default billing category for a code.
func CategoryFor(codeType, code string) string {
	for _, r := range categoryRules {
		if r.CodeType != codeType {
			continue
		}
		if r.Prefix != "" && !strings.HasPrefix(code, r.Prefix) {
			continue
		}
		return r.Category
	}
	return "uncategorized"
}

// AllowedCategories lists the categories a code of the given type may be
// reassigned to.
func AllowedCategories(codeType string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range categoryRules {
		if r.CodeType == codeType && !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

func categoryAllowed(codeType, category string) bool {
	for _, c := range AllowedCategories(codeType) {
		if c == category {
			return true
		}
	}
	return false
}
