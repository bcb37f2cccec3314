package bundle

import (
	"strings"

	"github.com/blang/semver/v4"
)

// packageImport/packageExport model one clause of a manifest's
// Import-Package/Export-Package header: "name;version=<range-or-version>".
// Range syntax is ordinary semver.Range expression syntax (e.g.
// ">=1.0.0 <2.0.0"), grounded on the same predicate the resolver's
// WithVersionInRange check uses against blang/semver.Range.
type packageImport struct {
	name      string
	rangeExpr string
}

type packageExport struct {
	name    string
	version semver.Version
}

func parseImports(header string) ([]packageImport, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	var out []packageImport
	for _, clause := range strings.Split(header, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.Split(clause, ";")
		imp := packageImport{name: strings.TrimSpace(parts[0])}
		for _, attr := range parts[1:] {
			attr = strings.TrimSpace(attr)
			if v, ok := strings.CutPrefix(attr, "version="); ok {
				imp.rangeExpr = strings.TrimSpace(v)
			}
		}
		out = append(out, imp)
	}
	return out, nil
}

func parseExports(header string) ([]packageExport, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}
	var out []packageExport
	for _, clause := range strings.Split(header, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.Split(clause, ";")
		exp := packageExport{name: strings.TrimSpace(parts[0])}
		for _, attr := range parts[1:] {
			attr = strings.TrimSpace(attr)
			if v, ok := strings.CutPrefix(attr, "version="); ok {
				if parsed, err := semver.Parse(strings.TrimSpace(v)); err == nil {
					exp.version = parsed
				}
			}
		}
		out = append(out, exp)
	}
	return out, nil
}

// satisfiedBy reports whether any of exports satisfies imp's version range.
// An import with no version constraint is satisfied by any export of the
// same name.
func (imp packageImport) satisfiedBy(exports []packageExport) bool {
	var rng semver.Range
	if imp.rangeExpr != "" {
		parsed, err := semver.ParseRange(imp.rangeExpr)
		if err != nil {
			return false
		}
		rng = parsed
	}
	for _, exp := range exports {
		if exp.name != imp.name {
			continue
		}
		if rng == nil || rng(exp.version) {
			return true
		}
	}
	return false
}
