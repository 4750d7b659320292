package core

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Kind classifies a hard stop of an import session.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigurationNotFound
	KindEngineNotInstalled
	KindMalformedHeader
	KindMissingUniqueIDField
	KindMissingGeometryFields
	KindMissingRequiredFields
	KindColumnCountMismatch
	KindStagingCreationFailed
	KindStagingLoadFailed
	KindProjectionFailed
	KindNonUniqueIdentifiers
	KindRuleEngineFailed
	KindNonConformantData
	KindDuplicateRecordsFound
	KindMissingIdentifiersFound
	KindMetadataColumnFailed
	KindMergeFailed
	KindRollbackFailed
	KindPrincipalUnresolved
	KindNotAuthorized
	KindUploadRejected
	KindInvalidRequest
)

var kindNames = map[Kind]string{
	KindUnknown:                 "Unknown",
	KindConfigurationNotFound:   "ConfigurationNotFound",
	KindEngineNotInstalled:      "EngineNotInstalled",
	KindMalformedHeader:         "MalformedHeader",
	KindMissingUniqueIDField:    "MissingUniqueIdField",
	KindMissingGeometryFields:   "MissingGeometryFields",
	KindMissingRequiredFields:   "MissingRequiredFields",
	KindColumnCountMismatch:     "ColumnCountMismatch",
	KindStagingCreationFailed:   "StagingCreationFailed",
	KindStagingLoadFailed:       "StagingLoadFailed",
	KindProjectionFailed:        "ProjectionFailed",
	KindNonUniqueIdentifiers:    "NonUniqueIdentifiers",
	KindRuleEngineFailed:        "RuleEngineFailed",
	KindNonConformantData:       "NonConformantData",
	KindDuplicateRecordsFound:   "DuplicateRecordsFound",
	KindMissingIdentifiersFound: "MissingIdentifiersFound",
	KindMetadataColumnFailed:    "MetadataColumnFailed",
	KindMergeFailed:             "MergeFailed",
	KindRollbackFailed:          "RollbackFailed",
	KindPrincipalUnresolved:     "PrincipalUnresolved",
	KindNotAuthorized:           "NotAuthorized",
	KindUploadRejected:          "UploadRejected",
	KindInvalidRequest:          "InvalidRequest",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ImportError is a hard stop. Message is safe to show to the caller;
// Err holds the underlying cause for logs only.
type ImportError struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *ImportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ImportError) Unwrap() error { return e.Err }

// Is matches another *ImportError of the same kind, so callers can write
// errors.Is(err, &ImportError{Kind: KindMergeFailed}).
func (e *ImportError) Is(target error) bool {
	t, ok := target.(*ImportError)
	return ok && t.Kind == e.Kind
}

func newImportError(kind Kind, cause error, format string, args ...any) *ImportError {
	return &ImportError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NewImportError builds a hard stop for packages outside core, such as
// upload storage rejecting a file.
func NewImportError(kind Kind, cause error, format string, args ...any) *ImportError {
	return newImportError(kind, cause, format, args...)
}

func fieldsError(kind Kind, fields []string, format string, args ...any) *ImportError {
	e := newImportError(kind, nil, format, args...)
	e.Fields = fields
	return e
}

// KindOf returns the Kind of the first ImportError in err's chain.
func KindOf(err error) Kind {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
