package queue

import (
	"regexp"
	"strings"

	"broadcast-platform/internal/audience"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Personalize fills {{name}}, {{first_name}}, {{email}}, {{phone}} and
// {{custom.<key>}} from r. Other placeholders are left as written.
func Personalize(tmpl string, r audience.Recipient) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRE.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderRE.FindStringSubmatch(m)[1]
		switch key {
		case "name":
			return r.Name
		case "first_name":
			if r.FirstName != "" {
				return r.FirstName
			}
			if f := strings.Fields(r.Name); len(f) > 0 {
				return f[0]
			}
			return ""
		case "email":
			return r.Email
		case "phone":
			return r.Phone
		}
		if ck, ok := strings.CutPrefix(key, "custom."); ok {
			return r.Fields[ck]
		}
		return m
	})
}
