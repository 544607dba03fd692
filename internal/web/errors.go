package web

// errors.go maps errors to HTTP responses.
//
// # Error Codes Reference
//
// Every error response carries a code that users can quote to support staff.
// Codes are grouped by category.
//
// # Table Errors (CSV001-CSV099)
//
// Errors about the table the request named. Their technical text is returned
// in the detail field since it only describes the caller's own input.
//
//	CSV001 - No input: The request did not name a table (400)
//	CSV002 - Ambiguous input: More than one of url, path and content was given (400)
//	CSV003 - Too large: The table exceeds the size limit (413)
//	CSV004 - Unreachable: The table could not be fetched or decompressed (502)
//	CSV005 - No delimiter: No delimiter could be detected (422)
//	CSV006 - Undecodable: The table has bytes invalid in its encoding (422)
//	CSV007 - Unknown encoding: The encoding name is not recognized (400)
//	CSV008 - Line out of range: skip is past the end of the table (400)
//	CSV009 - Invalid dialect: The delimiter clashes with the quote character (400)
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Bad request: Malformed JSON or query parameter (400)
//	REQ002 - Local paths disabled: The server does not read its own disk (403)
//	REQ003 - Body too large: The posted body exceeds ACQUIRE_MAX_BODY_SIZE (413)
//	REQ004 - Private URL: The URL resolves to a non-public address (403)
//
// # Acquisition Errors (ACQ001-ACQ099)
//
//	ACQ001 - System busy: Every acquisition slot stayed occupied (503)
//	ACQ002 - Timed out: The request ran past its deadline (504)
//	ACQ003 - Cancelled: The client went away (503)
//
// # Database Errors (DB001-DB099)
//
//	DB001 - No database: Loading is disabled on this server (503)
//	DB002 - Row too wide: A row has more fields than the header (422)
//	DB003 - Empty table: There is no row to load (422)
//	DB004 - Table missing: The target table does not exist (404)
//	DB005 - Type mismatch: A value does not fit its column (422)
//	DB006 - Duplicate: A row violates a unique constraint (409)
//	DB007 - Permission denied: The database refused the load (403)
//	DB008 - Database error: Any other database failure (502)
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred (500)

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/anycsv"
	"github.com/JonMunkholm/anycsv/internal/logging"
	"github.com/JonMunkholm/anycsv/internal/pgload"
)

var (
	errBadRequest         = errors.New("bad request")
	errLocalPathsDisabled = errors.New("local paths are disabled")
	errBodyTooLarge       = errors.New("request body too large")
	errNoDatabase         = errors.New("no database configured")
	errPrivateAddress     = errors.New("url resolves to a non-public address")
)

// UserMessage is the client-facing side of an error.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

type errorMapping struct {
	target error
	status int
	msg    UserMessage
	detail bool // return err.Error() to the client
}

// errorMappings are checked in order with errors.Is.
var errorMappings = []errorMapping{
	// Table errors
	{anycsv.ErrNoInputSpecified, http.StatusBadRequest, UserMessage{
		"No table was specified", "Pass one of url, path or content", "CSV001"}, true},
	{anycsv.ErrAmbiguousInput, http.StatusBadRequest, UserMessage{
		"More than one table was specified", "Pass only one of url, path or content", "CSV002"}, true},
	// Checked before ErrAcquisition, which wraps it.
	{errPrivateAddress, http.StatusForbidden, UserMessage{
		"This server does not fetch private network addresses", "Pass a public url or content instead", "REQ004"}, false},
	{anycsv.ErrQuotaExceeded, http.StatusRequestEntityTooLarge, UserMessage{
		"The table exceeds the size limit", "Split the file into smaller chunks", "CSV003"}, true},
	{anycsv.ErrAcquisition, http.StatusBadGateway, UserMessage{
		"The table could not be fetched", "Check that the URL or file is reachable and not corrupt", "CSV004"}, true},
	{anycsv.ErrNoDelimiterDetected, http.StatusUnprocessableEntity, UserMessage{
		"No delimiter could be detected", "Pass the delimiter explicitly", "CSV005"}, true},
	{anycsv.ErrDecoding, http.StatusUnprocessableEntity, UserMessage{
		"The table contains invalid characters", "Pass the encoding explicitly or use error_policy=replace", "CSV006"}, true},
	{anycsv.ErrUnknownEncoding, http.StatusBadRequest, UserMessage{
		"The encoding is not recognized", "Use an IANA name such as utf-8 or windows-1252", "CSV007"}, true},
	{anycsv.ErrLineOutOfRange, http.StatusBadRequest, UserMessage{
		"The table has fewer rows than requested", "Lower skip", "CSV008"}, true},
	{anycsv.ErrInvalidDialect, http.StatusBadRequest, UserMessage{
		"The delimiter cannot be used with this table", "Choose a different delimiter", "CSV009"}, true},

	// Request errors
	{errBadRequest, http.StatusBadRequest, UserMessage{
		"The request could not be understood", "Check the request body and parameters", "REQ001"}, true},
	{errLocalPathsDisabled, http.StatusForbidden, UserMessage{
		"This server does not read local files", "Pass url or content instead", "REQ002"}, false},
	{errBodyTooLarge, http.StatusRequestEntityTooLarge, UserMessage{
		"The request body is too large", "Pass a url instead of posting the table", "REQ003"}, false},

	// Acquisition errors
	{ErrTooManyAcquisitions, http.StatusServiceUnavailable, UserMessage{
		"System is busy reading other tables", "Please wait a moment and try again", "ACQ001"}, false},
	timeoutMapping,
	{context.Canceled, http.StatusServiceUnavailable, UserMessage{
		"Request was cancelled", "Please try again", "ACQ003"}, false},

	// Load errors
	{errNoDatabase, http.StatusServiceUnavailable, UserMessage{
		"Loading is not enabled on this server", "Configure DATABASE_URL", "DB001"}, false},
	{pgload.ErrRowTooWide, http.StatusUnprocessableEntity, UserMessage{
		"A row has more fields than the header", "Check the delimiter or fix the row", "DB002"}, true},
	{pgload.ErrEmptyTable, http.StatusUnprocessableEntity, UserMessage{
		"The table has no rows", "Check the input", "DB003"}, false},
}

// pgErrorMappings map PostgreSQL SQLSTATE codes.
var pgErrorMappings = map[string]errorMapping{
	"42P01": {nil, http.StatusNotFound, UserMessage{
		"The target table does not exist", "Pass create=true or create the table first", "DB004"}, false},
	"22P02": {nil, http.StatusUnprocessableEntity, UserMessage{
		"A value does not match its column type", "Load into text columns or fix the value", "DB005"}, false},
	"22001": {nil, http.StatusUnprocessableEntity, UserMessage{
		"A value is too long for its column", "Widen the column or fix the value", "DB005"}, false},
	"23505": {nil, http.StatusConflict, UserMessage{
		"A row duplicates an existing key", "Remove duplicate rows", "DB006"}, false},
	"42501": {nil, http.StatusForbidden, UserMessage{
		"The database refused the load", "Grant INSERT on the target table", "DB007"}, false},
}

var (
	timeoutMapping = errorMapping{context.DeadlineExceeded, http.StatusGatewayTimeout, UserMessage{
		"Request timed out", "Try a smaller table or try again later", "ACQ002"}, false}
	dbErrorMapping = errorMapping{nil, http.StatusBadGateway, UserMessage{
		"The database reported an error", "Please try again or contact support", "DB008"}, false}
	defaultMapping = errorMapping{nil, http.StatusInternalServerError, UserMessage{
		"An unexpected error occurred", "Please try again or contact support", "ERR000"}, false}
)

// MapError returns the status and client message for err.
// A nil error maps to 200 and an empty message.
func MapError(err error) (int, UserMessage) {
	if err == nil {
		return http.StatusOK, UserMessage{}
	}
	m := mapError(err)
	return m.status, m.msg
}

func mapError(err error) errorMapping {
	// Table errors come first: a quota hit during a load is still a quota hit.
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if m, ok := pgErrorMappings[pgErr.Code]; ok {
			return m
		}
		return dbErrorMapping
	}
	if pgconn.Timeout(err) {
		return timeoutMapping
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return dbErrorMapping
	}
	return defaultMapping
}

// respondError logs err with the request's context and writes the mapped
// JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	m := mapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", m.status,
		"code", m.msg.Code,
		"error", err.Error(),
	}
	if m.status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	resp := ErrorResponse{
		Error:   m.msg.Message,
		Message: m.msg.Message,
		Action:  m.msg.Action,
		Code:    m.msg.Code,
	}
	if m.detail {
		resp.Detail = err.Error()
	}
	writeJSON(w, r, m.status, resp)
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
