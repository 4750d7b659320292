package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// formOverhead is allowed on top of the file size limit for the other
// multipart fields.
const formOverhead = 1 << 20

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 8 << 20

// destinationDTO names a destination in requests.
type destinationDTO struct {
	Repository string `json:"repository" validate:"required,max=255"`
	Project    string `json:"project" validate:"required,max=255"`
	Schema     string `json:"schema" validate:"required,max=63"`
	Table      string `json:"table" validate:"required,max=63"`
}

func (d destinationDTO) key() core.Key {
	return core.Key{Repository: d.Repository, Project: d.Project, Schema: d.Schema, Table: d.Table}
}

// runDTO holds the non-file fields of a run request.
type runDTO struct {
	destinationDTO
	Separator string `validate:"max=3"`
	Action    string `validate:"omitempty,oneof=check import"`
}

// rollbackDTO is the body of a rollback request.
type rollbackDTO struct {
	destinationDTO
	Token string `json:"token" validate:"required"`
}

// runResponse is a session report plus the error that stopped it, if any.
type runResponse struct {
	*core.Report
	Error *core.UserMessage `json:"error,omitempty"`
}

// validationError renders the first failing field of a DTO.
func validationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", field)
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		case "max":
			return fmt.Sprintf("%s is too long", field)
		}
		return fmt.Sprintf("%s is invalid", field)
	}
	return "invalid request"
}

// handleDescribeDestination returns the import configuration of a layer.
func (s *Server) handleDescribeDestination(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dto := destinationDTO{
		Repository: q.Get("repository"),
		Project:    q.Get("project"),
		Schema:     q.Get("schema"),
		Table:      q.Get("table"),
	}
	if err := s.validate.Struct(dto); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	cfg, err := s.importer.DescribeDestination(r.Context(), dto.key())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"destination":      dto.key(),
		"configuration":    cfg,
		"expected_columns": cfg.Columns(),
	})
}

// handleRun checks or imports an uploaded CSV file.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	dto := runDTO{
		destinationDTO: destinationDTO{
			Repository: r.FormValue("repository"),
			Project:    r.FormValue("project"),
			Schema:     r.FormValue("schema"),
			Table:      r.FormValue("table"),
		},
		Separator: r.FormValue("separator"),
		Action:    strings.ToLower(strings.TrimSpace(r.FormValue("check_or_import"))),
	}
	if err := s.validate.Struct(dto); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}
	action, err := core.ParseAction(dto.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if dto.Separator == "" {
		dto.Separator = s.cfg.Import.DefaultSeparator
	}

	file, header, err := r.FormFile("csv")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "no csv file provided")
		return
	}
	defer file.Close()

	path, err := s.uploads.Save(header.Filename, file)
	if err != nil {
		respondError(w, r, err)
		return
	}
	// The session cleaner removes the file too; this covers sessions that
	// never start, such as a full limiter.
	defer func() {
		if err := s.uploads.Remove(path); err != nil {
			logError(r, err, http.StatusInternalServerError, "UPL001")
		}
	}()

	ctx := WithRequestMetadata(r.Context(), r)
	rep, err := s.importer.RunImport(ctx, core.ImportRequest{
		Key:       dto.key(),
		Action:    action,
		FilePath:  path,
		Separator: dto.Separator,
		Principal: core.PrincipalFromContext(ctx),
	})
	if err != nil {
		status := statusFor(err)
		msg := core.MapError(err)
		logError(r, err, status, msg.Code)
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, core.ErrTooManyImports) {
			w.Header().Set("Retry-After", "30")
		}
		w.WriteHeader(status)
		writeJSONBody(w, runResponse{Report: rep, Error: &msg})
		return
	}
	writeJSON(w, runResponse{Report: rep})
}

// handleRollback removes the rows of a previous import.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var dto rollbackDTO
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dto); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(dto); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	n, err := s.importer.RollbackImport(ctx, core.PrincipalFromContext(ctx), dto.key(), dto.Token)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"destination": dto.key(),
		"token":       dto.Token,
		"rows":        n,
	})
}
