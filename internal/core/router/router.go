// Package router maps the process host HTTP surface onto the process
// registry, the job manager and the station index.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/core/observability"
	"github.com/opencdms/opencdms-process/internal/jobs"
	mylog "github.com/opencdms/opencdms-process/internal/logger"
	"github.com/opencdms/opencdms-process/internal/process"
	"github.com/opencdms/opencdms-process/internal/stations"
)

const maxBody = 1 << 20

// Processes is the registry surface the host needs.
type Processes interface {
	Get(id string) (process.Processor, bool)
	List() []process.Metadata
	Invoke(ctx context.Context, p process.Processor, req process.Request) process.Result
}

// Jobs is the job manager surface the host needs.
type Jobs interface {
	Submit(ctx context.Context, p process.Processor, req process.Request) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
}

type Host struct {
	Logger    *slog.Logger
	Processes Processes
	Jobs      Jobs
	Stations  *stations.Index
	// Timeout bounds a synchronous execution.
	Timeout time.Duration
}

// Mount registers the host routes on r.
func (h *Host) Mount(r chi.Router) {
	if h.Logger == nil {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	r.Get("/processes", h.instrument("/processes", h.listProcesses))
	r.Get("/processes/{id}", h.instrument("/processes/{id}", h.describeProcess))
	r.Post("/processes/{id}/execution", h.instrument("/processes/{id}/execution", h.execute))
	r.Get("/jobs/{id}", h.instrument("/jobs/{id}", h.jobStatus))
	r.Get("/jobs/{id}/results", h.instrument("/jobs/{id}/results", h.jobResults))
	r.Get("/stations", h.instrument("/stations", h.listStations))
	r.Get("/stations/density", h.instrument("/stations/density", h.stationDensity))
}

func (h *Host) instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type processSummary struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Links       []link   `json:"links"`
}

func (h *Host) listProcesses(w http.ResponseWriter, _ *http.Request) {
	list := h.Processes.List()
	out := make([]processSummary, 0, len(list))
	for _, m := range list {
		out = append(out, processSummary{
			ID:          m.ID,
			Version:     m.Version,
			Title:       m.Title,
			Description: m.Description,
			Keywords:    m.Keywords,
			Links:       []link{{Href: "/processes/" + m.ID, Rel: "self", Type: "application/json"}},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processes": out,
		"links":     []link{{Href: "/processes", Rel: "self", Type: "application/json"}},
	})
}

func (h *Host) describeProcess(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Processes.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no-such-process", "unknown process "+chi.URLParam(r, "id"))
		return
	}
	md := p.Metadata()
	writeJSON(w, http.StatusOK, struct {
		process.Metadata
		JobControl []string `json:"jobControlOptions"`
		Links      []link   `json:"links"`
	}{
		Metadata:   md,
		JobControl: []string{"sync-execute", "async-execute"},
		Links: []link{
			{Href: "/processes/" + md.ID + "/execution", Rel: "http://www.opengis.net/def/rel/ogc/1.0/execute", Title: "Execute"},
		},
	})
}

func (h *Host) execute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.Processes.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no-such-process", "unknown process "+id)
		return
	}
	req, err := decodeRequest(w, r)
	if err != nil {
		writeProcessError(w, process.InvalidInput("%v", err))
		return
	}
	ctx := mylog.WithProcess(r.Context(), id)

	if prefersAsync(r) && h.Jobs != nil {
		job, err := h.Jobs.Submit(ctx, p, req)
		if err != nil {
			h.Logger.ErrorContext(ctx, "submit job", "err", err)
			writeProcessError(w, process.ErrorFrom(err))
			return
		}
		w.Header().Set("Location", "/jobs/"+job.ID)
		w.Header().Set("Preference-Applied", "respond-async")
		writeJSON(w, http.StatusCreated, job)
		return
	}

	runCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	res := h.Processes.Invoke(runCtx, p, req)
	if !res.OK() {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, string(process.KindInternal),
				fmt.Sprintf("process %s exceeded %s", id, h.Timeout))
			return
		}
		writeProcessError(w, res.Err)
		return
	}
	writeResult(w, r, res)
}

func (h *Host) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		jobs.Job
		Links []link `json:"links"`
	}{
		Job:   job,
		Links: []link{{Href: "/jobs/" + job.ID + "/results", Rel: "results"}},
	})
}

func (h *Host) jobResults(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	switch job.Status {
	case jobs.StatusSuccessful:
		writeResult(w, r, process.Result{MediaType: job.MediaType, Outputs: job.Outputs})
	case jobs.StatusFailed:
		writeProcessError(w, job.Err)
	default:
		writeError(w, http.StatusNotFound, "result-not-ready", "job "+job.ID+" is "+string(job.Status))
	}
}

func (h *Host) lookupJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	id := chi.URLParam(r, "id")
	if h.Jobs == nil {
		writeError(w, http.StatusNotFound, "no-such-job", "no job "+id)
		return jobs.Job{}, false
	}
	job, err := h.Jobs.Get(r.Context(), id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "no-such-job", "no job "+id)
		return jobs.Job{}, false
	case err != nil:
		h.Logger.ErrorContext(r.Context(), "job lookup", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, string(process.KindInternal), "job store unavailable")
		return jobs.Job{}, false
	}
	return job, true
}

func (h *Host) listStations(w http.ResponseWriter, r *http.Request) {
	if h.Stations == nil {
		writeError(w, http.StatusServiceUnavailable, "stations-unavailable", "station index not loaded")
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]any{"stations": h.Stations.All()})
		return
	}
	bb, err := parseBBOX(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(process.KindInvalidInput), "invalid bbox: "+err.Error())
		return
	}
	list, err := h.Stations.Within(bb)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(process.KindInvalidInput), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bbox": bb.String(), "stations": list})
}

func (h *Host) stationDensity(w http.ResponseWriter, r *http.Request) {
	if h.Stations == nil {
		writeError(w, http.StatusServiceUnavailable, "stations-unavailable", "station index not loaded")
		return
	}
	res := h.Stations.Res()
	if v := r.URL.Query().Get("res"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(process.KindInvalidInput), "res must be an integer")
			return
		}
		res = n
	}
	d, err := h.Stations.Density(res)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(process.KindInvalidInput), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"res": res, "cells": d})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (process.Request, error) {
	var req process.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("decode execute request: %w", err)
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}
	return req, nil
}

func prefersAsync(r *http.Request) bool {
	for _, v := range r.Header.Values("Prefer") {
		for p := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "respond-async") {
				return true
			}
		}
	}
	return false
}

// writeResult sends a raw body when the client accepts the result's
// non-JSON media type and it has exactly one text output.
func writeResult(w http.ResponseWriter, r *http.Request, res process.Result) {
	mt := res.MediaType
	if mt != "" && mt != "application/json" && strings.Contains(r.Header.Get("Accept"), mt) {
		var body string
		n := 0
		for _, v := range res.Outputs {
			if s, ok := v.(string); ok {
				body = s
				n++
			}
		}
		if n == 1 {
			w.Header().Set("Content-Type", mt)
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outputs": res.Outputs})
}

func statusFor(k process.Kind) int {
	switch k {
	case process.KindInvalidInput:
		return http.StatusBadRequest
	case process.KindDependencyUnavailable, process.KindArchiveNotFound:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeProcessError(w http.ResponseWriter, e *process.Error) {
	if e == nil {
		e = &process.Error{Kind: process.KindInternal, Message: "unknown failure"}
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusFor(e.Kind))
	_ = json.NewEncoder(w).Encode(e)
}

func writeError(w http.ResponseWriter, code int, kind, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": kind, "detail": detail})
}

// writeJSON encodes v before the status is sent so an unencodable value
// still gets a problem response.
func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		writeError(w, http.StatusInternalServerError, string(process.KindInternal), "encode response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) == 4 {
		parts = append(parts, "EPSG:4326")
	}
	if len(parts) != 5 {
		return model.BBox{}, errors.New("expected comma-separated values: x1,y1,x2,y2[,EPSG:4326]")
	}
	var v [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]

	srid := strings.ToUpper(strings.TrimSpace(parts[4]))
	if srid != "EPSG:4326" {
		return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
	}
	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
