package core

import (
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// namespaceLayout is the timestamp part of a staging namespace.
const namespaceLayout = "20060102150405"

// namespacePattern matches namespaces produced by NewNamespace and the
// staging relation names derived from them.
var (
	namespacePattern = regexp.MustCompile(`^temp_(\d{14})_([0-9a-f]{8})$`)
	stagingPattern   = regexp.MustCompile(`^(temp_\d{14}_[0-9a-f]{8})_(source|target)$`)
)

// NewNamespace returns a staging namespace of the form
// temp_<yyyymmddhhmmss>_<8 hex>. The random suffix keeps sessions started
// in the same second apart.
func NewNamespace(now time.Time) string {
	id := uuid.New()
	return "temp_" + now.UTC().Format(namespaceLayout) + "_" + hex.EncodeToString(id[:4])
}

// ValidNamespace reports whether s looks like a namespace from NewNamespace.
func ValidNamespace(s string) bool {
	return namespacePattern.MatchString(s)
}

// namespaceTime extracts the creation time of a namespace.
func namespaceTime(ns string) (time.Time, bool) {
	m := namespacePattern.FindStringSubmatch(ns)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(namespaceLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Staging names the scratch relation pair of one session.
type Staging struct {
	Schema    string
	Namespace string
}

// SourceName is the unqualified name of the raw relation.
func (s Staging) SourceName() string { return s.Namespace + "_source" }

// TargetName is the unqualified name of the formatted relation. The rules
// engine receives this name and uses it as the provenance token.
func (s Staging) TargetName() string { return s.Namespace + "_target" }

// Source returns the quoted, schema qualified source relation.
func (s Staging) Source() string {
	return pgx.Identifier{s.Schema, s.SourceName()}.Sanitize()
}

// Target returns the quoted, schema qualified target relation.
func (s Staging) Target() string {
	return pgx.Identifier{s.Schema, s.TargetName()}.Sanitize()
}

// Session is the state of one import request.
type Session struct {
	Key       Key
	Config    ImportConfiguration
	Action    Action
	FilePath  string
	Separator string
	Encoding  string
	Principal string

	Structure Structure
	Staging   Staging
}

// ImportType is the configured import type of the session.
func (s *Session) ImportType() ImportType { return s.Config.ImportType }

// TargetColumns are the columns of the formatted staging relation, in
// order: unique identifier, geometry fields, then the required fields.
func (s *Session) TargetColumns() []string {
	return targetColumns(s.Config)
}

// Columns lists the CSV header fields the destination requires, in the
// order of TargetColumns.
func (c ImportConfiguration) Columns() []string {
	return targetColumns(c)
}

func targetColumns(cfg ImportConfiguration) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(c string) {
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		cols = append(cols, c)
	}
	add(cfg.UniqueIDField)
	for _, f := range cfg.GeometrySource.Fields() {
		add(f)
	}
	for _, f := range cfg.RequiredFields {
		add(f)
	}
	return cols
}
