package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/jobs"
	"github.com/aceteam-ai/paygrid/internal/query"
)

type lookupParams struct {
	Year      string `validate:"required,len=9"`
	Period    string
	Education string `validate:"required"`
	Credits   int    `validate:"gte=0,lte=200"`
	Step      int    `validate:"gte=1,lte=99"`
}

type compareParams struct {
	Education string `validate:"required"`
	Credits   int    `validate:"gte=0,lte=200"`
	Step      int    `validate:"gte=1,lte=99"`
	Year      string `validate:"omitempty,len=9"`
	Period    string
	Limit     int `validate:"gte=0"`
}

// intParam reads an optional integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

// check runs struct validation and turns the first failure into a
// validation error naming the field.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation("%s fails %s", fe.Field(), fe.Tag())
	}
	return apperr.Validation("%v", err)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		s.fail(w, r, apperr.Validation("invalid multipart upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, apperr.Validation("file field is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, apperr.Validation("read upload: %v", err))
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), jobs.CreateRequest{
		DistrictID:     chi.URLParam(r, "district"),
		Filename:       header.Filename,
		Data:           data,
		SchoolYearHint: r.FormValue("school_year"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.JobID, "status": string(job.Status)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	preview, err := intParam(r, "preview")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job"), preview)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleApplyJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.ApplyJob(r.Context(), chi.URLParam(r, "job"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRejectJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.RejectJob(r.Context(), chi.URLParam(r, "job")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNormalizationStatus(w http.ResponseWriter, r *http.Request) {
	recent, err := intParam(r, "recent")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.normalizer.GetNormalizationStatus(r.Context(), recent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStartNormalization(w http.ResponseWriter, r *http.Request) {
	job, err := s.normalizer.StartNormalization(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.JobID, "status": string(job.Status)})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cells, err := s.queries.GetDistrictSchedule(r.Context(), chi.URLParam(r, "district"), q.Get("year"), q.Get("period"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"district_id": chi.URLParam(r, "district"), "cells": cells})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := lookupParams{Year: q.Get("year"), Period: q.Get("period"), Education: q.Get("education")}
	var err error
	if p.Credits, err = intParam(r, "credits"); err != nil {
		s.fail(w, r, err)
		return
	}
	if p.Step, err = intParam(r, "step"); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.check(p); err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.queries.LookupDistrictValue(r.Context(), query.LookupRequest{
		DistrictID: chi.URLParam(r, "district"),
		Year:       p.Year,
		Period:     p.Period,
		Education:  p.Education,
		Credits:    p.Credits,
		Step:       p.Step,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := compareParams{Education: q.Get("education"), Year: q.Get("year"), Period: q.Get("period")}
	for name, dst := range map[string]*int{"credits": &p.Credits, "step": &p.Step, "limit": &p.Limit} {
		n, err := intParam(r, name)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		*dst = n
	}
	if err := s.check(p); err != nil {
		s.fail(w, r, err)
		return
	}

	cmp, err := s.queries.CompareAcrossDistricts(r.Context(), query.CompareRequest{
		Education: p.Education,
		Credits:   p.Credits,
		Step:      p.Step,
		Year:      p.Year,
		Period:    p.Period,
		Limit:     p.Limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store: %v", err), string(apperr.CodeStorage))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
