package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/anycsv"
	"github.com/JonMunkholm/anycsv/internal/config"
	"github.com/JonMunkholm/anycsv/internal/logging"
	"github.com/JonMunkholm/anycsv/internal/pgload"
)

// tableRequest names a table and how to read it.
//
// GET requests carry it in the query string. POST requests carry it as a
// JSON body, or post the table itself as a non-JSON body with the remaining
// fields in the query string.
type tableRequest struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Content string `json:"content"`

	Delimiter   string `json:"delimiter"`
	Encoding    string `json:"encoding"`
	ErrorPolicy string `json:"error_policy"`
	MaxSize     *int64 `json:"max_size"`

	Rows int `json:"rows"`
	Skip int `json:"skip"`

	Schema      string `json:"schema"`
	Header      *bool  `json:"header"`
	Create      bool   `json:"create"`
	EmptyAsNull bool   `json:"empty_as_null"`
}

// InspectResponse describes an opened table and its first rows.
type InspectResponse struct {
	ID             string     `json:"id"`
	Origin         string     `json:"origin"`
	Delimiter      string     `json:"delimiter"`
	Quote          string     `json:"quote"`
	Encoding       string     `json:"encoding"`
	EncodingSource string     `json:"encoding_source"`
	FirstLine      int        `json:"first_line"`
	Rows           [][]string `json:"rows"`
	More           bool       `json:"more"`
}

// LoadResponse summarizes a load.
type LoadResponse struct {
	ID         string   `json:"id"`
	Origin     string   `json:"origin"`
	Delimiter  string   `json:"delimiter"`
	Encoding   string   `json:"encoding"`
	Table      string   `json:"table"`
	Columns    []string `json:"columns"`
	Rows       int64    `json:"rows"`
	DurationMS int64    `json:"duration_ms"`
}

// StatusResponse reports server capabilities and load.
type StatusResponse struct {
	Status       string        `json:"status"`
	Database     bool          `json:"database"`
	Acquisitions LimiterStatus `json:"acquisitions"`
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports whether loads are enabled and how busy the server is.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatusResponse{
		Status:       "ok",
		Database:     s.loader != nil,
		Acquisitions: s.limiter.Status(),
	})
}

// handleInspect opens a table and returns its dialect, encoding and a
// preview of its rows.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseTableRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	tbl, release, err := s.openTable(r, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer release()

	limit := s.cfg.Acquire.PreviewRows
	if req.Rows > 0 && req.Rows < limit {
		limit = req.Rows
	}

	resp := InspectResponse{
		ID:             tbl.ID(),
		Origin:         tbl.Origin(),
		Delimiter:      string(tbl.Delimiter()),
		Quote:          string(tbl.QuoteChar()),
		Encoding:       tbl.Encoding(),
		EncodingSource: tbl.EncodingSource(),
		FirstLine:      tbl.Line(),
		Rows:           make([][]string, 0, limit),
	}
	if limit > 0 {
		for _, row := range tbl.Rows() {
			resp.Rows = append(resp.Rows, row)
			if len(resp.Rows) == limit {
				break
			}
		}
	}
	if err := tbl.Err(); err != nil {
		respondError(w, r, err)
		return
	}

	// One more read tells whether the preview is the whole table. Any
	// error is reported by whoever reads that far.
	if len(resp.Rows) == limit {
		_, err := tbl.Next()
		resp.More = err != io.EOF
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// handleLoad copies a table into the database table named in the path.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		respondError(w, r, errNoDatabase)
		return
	}

	req, err := s.parseTableRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Acquire.LoadTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	tbl, release, err := s.openTable(r, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer release()

	target := pgload.Target{
		Schema:      req.Schema,
		Table:       chi.URLParam(r, "table"),
		Header:      req.Header == nil || *req.Header,
		Create:      req.Create,
		EmptyAsNull: req.EmptyAsNull,
	}

	logger := logging.WithFields(ctx, "table_id", tbl.ID(), "target", target.Identifier().Sanitize())
	logger.Info("load started", "origin", tbl.Origin())

	res, err := s.loader.Load(ctx, tbl, target)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, LoadResponse{
		ID:         tbl.ID(),
		Origin:     tbl.Origin(),
		Delimiter:  string(tbl.Delimiter()),
		Encoding:   tbl.Encoding(),
		Table:      res.Table,
		Columns:    res.Columns,
		Rows:       res.Rows,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// openTable takes an acquisition slot and opens the requested table,
// skipping to req.Skip. release closes the table and frees the slot.
func (s *Server) openTable(r *http.Request, req *tableRequest) (*anycsv.Table, func(), error) {
	if req.Path != "" && !s.cfg.Acquire.AllowLocalPaths {
		return nil, nil, errLocalPathsDisabled
	}

	opts, err := s.tableOptions(r, req)
	if err != nil {
		return nil, nil, err
	}

	ctx := r.Context()
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}

	tbl, err := anycsv.Open(ctx, anycsv.Input{Path: req.Path, URL: req.URL, Content: req.Content}, opts...)
	if err != nil {
		s.limiter.Release()
		return nil, nil, err
	}
	release := func() {
		tbl.Close()
		s.limiter.Release()
	}

	if req.Skip > 0 {
		if err := tbl.SeekLine(req.Skip); err != nil {
			release()
			return nil, nil, err
		}
	}
	return tbl, release, nil
}

// tableOptions layers the request's settings over the configured defaults.
func (s *Server) tableOptions(r *http.Request, req *tableRequest) ([]anycsv.Option, error) {
	opts, err := s.cfg.CSV.Options(logging.FromContext(r.Context()))
	if err != nil {
		return nil, err
	}

	if req.Delimiter != "" {
		d, err := config.ParseDelimiter(req.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		opts = append(opts, anycsv.WithDelimiter(d))
	}
	if req.Encoding != "" {
		opts = append(opts, anycsv.WithEncoding(req.Encoding))
	}
	if req.ErrorPolicy != "" {
		p, err := anycsv.ParseErrorPolicy(req.ErrorPolicy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		opts = append(opts, anycsv.WithErrorPolicy(p))
	}
	if req.MaxSize != nil {
		opts = append(opts, anycsv.WithMaxSize(s.quota(*req.MaxSize)))
	}
	if s.client != nil {
		opts = append(opts, anycsv.WithHTTPClient(s.client))
	}
	return opts, nil
}

// quota returns the tighter of the configured quota and a requested one.
// Requests can lower the quota but never raise it.
func (s *Server) quota(requested int64) int64 {
	limit := s.cfg.CSV.MaxSize
	if requested < 0 {
		return limit
	}
	if limit < 0 || requested < limit {
		return requested
	}
	return limit
}

// parseTableRequest reads the request body and query string.
func (s *Server) parseTableRequest(w http.ResponseWriter, r *http.Request) (*tableRequest, error) {
	req := &tableRequest{}

	if r.Method == http.MethodPost && r.Body != nil {
		body := http.MaxBytesReader(w, r.Body, s.cfg.Acquire.MaxBodySize)
		if isJSON(r) {
			dec := json.NewDecoder(body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(req); err != nil && err != io.EOF {
				return nil, bodyError(err)
			}
		} else {
			data, err := io.ReadAll(body)
			if err != nil {
				return nil, bodyError(err)
			}
			req.Content = string(data)
		}
	}

	if err := req.applyQuery(r.URL.Query()); err != nil {
		return nil, err
	}
	if req.Rows < 0 || req.Skip < 0 {
		return nil, fmt.Errorf("%w: rows and skip must be non-negative", errBadRequest)
	}
	return req, nil
}

// applyQuery fills fields the body left unset.
func (req *tableRequest) applyQuery(q url.Values) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"url", &req.URL},
		{"path", &req.Path},
		{"delimiter", &req.Delimiter},
		{"encoding", &req.Encoding},
		{"error_policy", &req.ErrorPolicy},
		{"schema", &req.Schema},
	}
	for _, f := range strs {
		if v := q.Get(f.key); v != "" && *f.dst == "" {
			*f.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"rows", &req.Rows},
		{"skip", &req.Skip},
	}
	for _, f := range ints {
		v := q.Get(f.key)
		if v == "" || *f.dst != 0 {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errBadRequest, f.key, err)
		}
		*f.dst = n
	}

	if v := q.Get("max_size"); v != "" && req.MaxSize == nil {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: max_size: %v", errBadRequest, err)
		}
		req.MaxSize = &n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"create", &req.Create},
		{"empty_as_null", &req.EmptyAsNull},
	}
	for _, f := range bools {
		v := q.Get(f.key)
		if v == "" || *f.dst {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errBadRequest, f.key, err)
		}
		*f.dst = b
	}

	if v := q.Get("header"); v != "" && req.Header == nil {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: header: %v", errBadRequest, err)
		}
		req.Header = &b
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// isJSON checks if the request body is JSON.
func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
