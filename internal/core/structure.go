package core

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// maxIdentifierLen is how many bytes of an identifier PostgreSQL keeps.
const maxIdentifierLen = 63

// storedIdentifier returns name as PostgreSQL stores it: cut to
// maxIdentifierLen bytes without splitting a character.
func storedIdentifier(name string) string {
	if len(name) <= maxIdentifierLen {
		return name
	}
	n := maxIdentifierLen
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

// Structure is the result of a successful structure validation.
// Corresponding holds the header fields the destination knows about, in
// header order; Additional holds the rest.
type Structure struct {
	Header        []string `json:"header"`
	Corresponding []string `json:"corresponding_fields"`
	Additional    []string `json:"additional_fields"`
}

// ValidateStructure checks the header and first data row of a CSV file
// against cfg. header and probe are the results of reading one record at
// offsets 0 and 1. Checks run in a fixed order and the first failure wins:
// malformed header, unique identifier, geometry, required fields, column
// count.
func ValidateStructure(cfg ImportConfiguration, header, probe [][]string) (Structure, error) {
	if len(header) != 1 || len(header[0]) == 0 {
		return Structure{}, newImportError(KindMalformedHeader, nil, "the file has no header row")
	}
	fields := header[0]

	seen := make(map[string]bool, len(fields))
	stored := make(map[string]string, len(fields))
	for i, f := range fields {
		if strings.TrimSpace(f) == "" {
			return Structure{}, newImportError(KindMalformedHeader, nil, "column %d has an empty name", i+1)
		}
		if seen[f] {
			return Structure{}, fieldsError(KindMalformedHeader, []string{f}, "column %q appears more than once", f)
		}
		if f == stagingKeyColumn {
			return Structure{}, fieldsError(KindMalformedHeader, []string{f}, "column name %q is reserved", f)
		}
		id := storedIdentifier(f)
		if prev, ok := stored[id]; ok {
			return Structure{}, fieldsError(KindMalformedHeader, []string{prev, f},
				"columns %q and %q share their first %d bytes", prev, f, maxIdentifierLen)
		}
		seen[f] = true
		stored[id] = f
	}

	var missing []string
	for _, f := range cfg.RequiredFields {
		if !seen[f] {
			missing = append(missing, f)
		}
	}

	if !seen[cfg.UniqueIDField] {
		return Structure{}, fieldsError(KindMissingUniqueIDField, []string{cfg.UniqueIDField},
			"the unique identifier column %q is missing", cfg.UniqueIDField)
	}

	geom := cfg.GeometrySource.Fields()
	for _, g := range geom {
		if !seen[g] {
			return Structure{}, fieldsError(KindMissingGeometryFields, geom,
				"geometry source %s requires the columns %s", cfg.GeometrySource, strings.Join(geom, ", "))
		}
	}

	if len(missing) > 0 {
		return Structure{}, fieldsError(KindMissingRequiredFields, missing,
			"missing required columns: %s", strings.Join(missing, ", "))
	}

	if len(probe) != 1 || len(probe[0]) != len(fields) {
		got := 0
		if len(probe) == 1 {
			got = len(probe[0])
		}
		return Structure{}, newImportError(KindColumnCountMismatch, nil,
			"the header has %d columns but the first data row has %d", len(fields), got)
	}

	wanted := make(map[string]bool)
	for _, c := range targetColumns(cfg) {
		wanted[c] = true
	}

	s := Structure{Header: slices.Clone(fields)}
	for _, f := range fields {
		if wanted[f] {
			s.Corresponding = append(s.Corresponding, f)
		} else {
			s.Additional = append(s.Additional, f)
		}
	}
	return s, nil
}
