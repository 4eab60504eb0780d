// Package query turns report templates into executable SQL and holds the
// tabular result type shared by the executor and the exporter.
package query

import (
	"strings"
	"unicode"

	"sqlreport/internal/models"
)

// Resolve returns the value substituted for p: the user's value when present
// and non-empty, otherwise the parameter default.
func Resolve(p models.Parameter, values map[string]string) string {
	if v, ok := values[p.ParamName]; ok && v != "" {
		return v
	}
	return p.DefaultValue
}

// Build substitutes every parameter's resolved value for each occurrence of
// its #name# placeholder in template.
//
// Substitution is a single pass over the template: text produced by a
// substitution is never scanned again, so a value that happens to contain
// another placeholder is copied as is. Placeholders without a matching
// parameter stay in the output untouched. When names repeat, the first
// parameter wins.
func Build(template string, params []models.Parameter, values map[string]string) string {
	if len(params) == 0 {
		return template
	}

	seen := make(map[string]struct{}, len(params))
	pairs := make([]string, 0, 2*len(params))
	for _, p := range params {
		if p.ParamName == "" {
			continue
		}
		if _, dup := seen[p.ParamName]; dup {
			continue
		}
		seen[p.ParamName] = struct{}{}
		pairs = append(pairs, p.Placeholder(), Resolve(p, values))
	}
	if len(pairs) == 0 {
		return template
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders lists the distinct placeholder names in template in order of
// first appearance.
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]struct{})

	rest := template
	for {
		open := strings.IndexByte(rest, '#')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '#')
		if closing < 0 {
			break
		}
		name := rest[open+1 : open+1+closing]
		if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
			// the closing '#' may open the next token
			rest = rest[open+1+closing:]
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		rest = rest[open+closing+2:]
	}
	return names
}

// Unbound returns placeholder names in template that no parameter covers.
// Such tokens survive Build and surface later as a database error.
func Unbound(template string, params []models.Parameter) []string {
	known := make(map[string]struct{}, len(params))
	for _, p := range params {
		known[p.ParamName] = struct{}{}
	}

	var missing []string
	for _, name := range Placeholders(template) {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
