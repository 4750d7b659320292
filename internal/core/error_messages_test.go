package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
		wantDetail  string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "missing configuration maps by kind",
			err:         newImportError(KindConfigurationNotFound, nil, "no import configuration for public.trees"),
			wantCode:    "CFG001",
			wantMessage: "No import configuration exists for this table",
			wantDetail:  "no import configuration for public.trees",
		},
		{
			name:        "missing unique id column",
			err:         fieldsError(KindMissingUniqueIDField, []string{"uid"}, `the unique identifier column "uid" is missing`),
			wantCode:    "STR002",
			wantMessage: "The unique identifier column is missing",
			wantDetail:  `the unique identifier column "uid" is missing`,
		},
		{
			name:        "wrapped import error keeps its kind",
			err:         fmt.Errorf("session: %w", newImportError(KindMergeFailed, errors.New("deadlock"), "rows could not be merged")),
			wantCode:    "MRG002",
			wantMessage: "The rows could not be imported",
			wantDetail:  "rows could not be merged",
		},
		{
			name:        "cause text does not override the kind",
			err:         newImportError(KindStagingLoadFailed, context.Canceled, "loading was interrupted"),
			wantCode:    "STG002",
			wantMessage: "The CSV rows could not be loaded",
			wantDetail:  "loading was interrupted",
		},
		{
			name:        "limiter rejection maps by pattern",
			err:         ErrTooManyImports,
			wantCode:    "UPL002",
			wantMessage: "Too many imports are in progress",
		},
		{
			name:        "cancelled context",
			err:         context.Canceled,
			wantCode:    "UPL003",
			wantMessage: "Request was cancelled",
		},
		{
			name:        "deadline",
			err:         fmt.Errorf("acquire: %w", context.DeadlineExceeded),
			wantCode:    "UPL004",
			wantMessage: "Request timed out",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp 127.0.0.1:5432: connection refused"),
			wantCode:    "DB001",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("RATE LIMIT exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
			if got.Detail != tt.wantDetail {
				t.Errorf("MapError() detail = %q, want %q", got.Detail, tt.wantDetail)
			}
		})
	}
}

func TestEveryKindHasAMessage(t *testing.T) {
	for k := KindConfigurationNotFound; k <= KindInvalidRequest; k++ {
		msg, ok := kindMessages[k]
		if !ok {
			t.Errorf("kind %s has no user message", k)
			continue
		}
		if msg.Code == "" || msg.Message == "" || msg.Action == "" {
			t.Errorf("kind %s has an incomplete message: %+v", k, msg)
		}
	}
}

func TestFormatUserError(t *testing.T) {
	err := newImportError(KindNonUniqueIdentifiers, nil, "2 values of uid appear more than once")
	msg := kindMessages[KindNonUniqueIdentifiers]

	want := fmt.Sprintf("%s: 2 values of uid appear more than once (Code: CHK002). %s", msg.Message, msg.Action)
	if got := FormatUserError(err); got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "import error is user facing",
			err:  newImportError(KindUploadRejected, nil, "not a csv file"),
			want: true,
		},
		{
			name: "known pattern is user facing",
			err:  errors.New("connection refused"),
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestImportErrorIs(t *testing.T) {
	cause := errors.New("relation does not exist")
	err := fmt.Errorf("run: %w", newImportError(KindProjectionFailed, cause, "x"))

	if !errors.Is(err, &ImportError{Kind: KindProjectionFailed}) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, &ImportError{Kind: KindMergeFailed}) {
		t.Error("errors.Is should not match another kind")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should stay reachable")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors have no kind")
	}
	if got := KindMissingUniqueIDField.String(); got != "MissingUniqueIdField" {
		t.Errorf("String() = %q", got)
	}
}
