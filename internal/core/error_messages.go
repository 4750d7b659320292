package core

// error_messages.go maps errors to user-facing messages with support codes.
//
// Hard stops raised by the pipeline are *ImportError values and map by Kind.
// Everything else (driver errors, context cancellation, limiter rejections)
// is matched by pattern against the lower-cased error text. Users can quote
// the code to support staff.
//
// # Configuration (CFG001-CFG099)
//
//	CFG001 - No import configuration for this table
//	CFG002 - Import module is not installed in the database
//
// # Structure (STR001-STR099)
//
//	STR001 - Header row is malformed
//	STR002 - Unique identifier column is missing
//	STR003 - Geometry columns are missing
//	STR004 - Required columns are missing
//	STR005 - Data rows do not match the header
//
// # Staging (STG001-STG099)
//
//	STG001 - Scratch tables could not be created
//	STG002 - Rows could not be loaded
//	STG003 - Rows could not be formatted for the destination
//
// # Checks (CHK001-CHK099)
//
//	CHK001 - Validation rules could not be evaluated
//	CHK002 - Unique identifier values are not unique
//	CHK003 - Data does not satisfy the validation rules
//	CHK004 - Rows already exist in the destination
//	CHK005 - Identifiers not found in the destination
//
// # Merge (MRG001-MRG099)
//
//	MRG001 - Destination could not record import metadata
//	MRG002 - Rows could not be imported
//	MRG003 - Imported rows could not be removed
//
// # Access and Requests (AUTH, UPL, REQ)
//
//	AUTH001 - No authenticated user
//	AUTH002 - Not allowed to import
//	UPL001  - File rejected
//	UPL002  - Too many imports in progress
//	UPL003  - Request cancelled
//	UPL004  - Request timed out
//	REQ001  - Invalid request parameters
//	DB001   - Database unavailable
//	RATE001 - Too many requests
//	ERR000  - Fallback for anything unrecognised; check the logs

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`          // What happened
	Detail  string `json:"detail,omitempty"` // Session specific detail, e.g. missing column names
	Action  string `json:"action,omitempty"` // What to do about it
	Code    string `json:"code"`             // Support reference
}

var kindMessages = map[Kind]UserMessage{
	KindConfigurationNotFound: {
		Message: "No import configuration exists for this table",
		Action:  "Ask an administrator to configure CSV import for this layer",
		Code:    "CFG001",
	},
	KindEngineNotInstalled: {
		Message: "The import module is not installed in the database",
		Action:  "Ask an administrator to install the import module",
		Code:    "CFG002",
	},
	KindMalformedHeader: {
		Message: "The header row of the CSV file is malformed",
		Action:  "Check the separator and make sure every column has a unique name",
		Code:    "STR001",
	},
	KindMissingUniqueIDField: {
		Message: "The unique identifier column is missing",
		Action:  "Add the unique identifier column to the CSV file",
		Code:    "STR002",
	},
	KindMissingGeometryFields: {
		Message: "The geometry columns are missing",
		Action:  "Add the geometry columns expected for this table",
		Code:    "STR003",
	},
	KindMissingRequiredFields: {
		Message: "Required columns are missing from the CSV file",
		Action:  "Add the missing columns listed in the detail",
		Code:    "STR004",
	},
	KindColumnCountMismatch: {
		Message: "The data rows do not have the same number of columns as the header",
		Action:  "Check the separator and quoting of the CSV file",
		Code:    "STR005",
	},
	KindStagingCreationFailed: {
		Message: "The import could not be prepared",
		Action:  "Please try again or contact support",
		Code:    "STG001",
	},
	KindStagingLoadFailed: {
		Message: "The CSV rows could not be loaded",
		Action:  "Make sure the file contains data rows with consistent columns",
		Code:    "STG002",
	},
	KindProjectionFailed: {
		Message: "The CSV rows could not be formatted for the destination table",
		Action:  "Please try again or contact support",
		Code:    "STG003",
	},
	KindRuleEngineFailed: {
		Message: "The validation rules could not be evaluated",
		Action:  "Contact support; the rules configuration may be broken",
		Code:    "CHK001",
	},
	KindNonUniqueIdentifiers: {
		Message: "The unique identifier column contains duplicate values",
		Action:  "Make every value of the unique identifier column distinct",
		Code:    "CHK002",
	},
	KindNonConformantData: {
		Message: "The data does not satisfy the validation rules",
		Action:  "Run a check, fix the reported rows and try again",
		Code:    "CHK003",
	},
	KindDuplicateRecordsFound: {
		Message: "Some rows already exist in the destination table",
		Action:  "Remove the listed rows from the CSV file",
		Code:    "CHK004",
	},
	KindMissingIdentifiersFound: {
		Message: "Some identifiers do not exist in the destination table",
		Action:  "Only rows that already exist can be updated",
		Code:    "CHK005",
	},
	KindMetadataColumnFailed: {
		Message: "The destination table could not record import metadata",
		Action:  "Check the duplicate check fields of the table configuration",
		Code:    "MRG001",
	},
	KindMergeFailed: {
		Message: "The rows could not be imported",
		Action:  "Please try again or contact support",
		Code:    "MRG002",
	},
	KindRollbackFailed: {
		Message: "The imported rows could not be removed",
		Action:  "Contact support with the import token",
		Code:    "MRG003",
	},
	KindPrincipalUnresolved: {
		Message: "No authenticated user is associated with this request",
		Action:  "Sign in and try again",
		Code:    "AUTH001",
	},
	KindNotAuthorized: {
		Message: "You are not allowed to import data",
		Action:  "Ask an administrator for import rights",
		Code:    "AUTH002",
	},
	KindUploadRejected: {
		Message: "The uploaded file was rejected",
		Action:  "Upload a CSV file with a .csv extension",
		Code:    "UPL001",
	},
	KindInvalidRequest: {
		Message: "The request parameters are invalid",
		Action:  "Check the repository, project, layer and separator",
		Code:    "REQ001",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are checked in order for errors that are not ImportErrors.
// The first match wins.
var errorPatterns = []errorPattern{
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "Too many imports are in progress",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "UPL004",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. ImportErrors map
// by kind and carry their session detail; other errors match by pattern.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ie *ImportError
	if errors.As(err, &ie) {
		msg, ok := kindMessages[ie.Kind]
		if !ok {
			msg = defaultMessage
		}
		msg.Detail = ie.Message
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message: detail (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	text := msg.Message
	if msg.Detail != "" {
		text += ": " + msg.Detail
	}
	return fmt.Sprintf("%s (Code: %s). %s", text, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
