package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

// RunsHandler handles GET /runs. The limit query parameter caps how
// many of the most recent runs come back, 50 by default.
func (s *RESTServer) RunsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			w.WriteHeader(400)
			fmt.Fprintln(w, "bad limit")
			return
		}
		limit = n
	}
	runs, err := s.DB.Runs(limit)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	enc := json.NewEncoder(w)
	enc.Encode(runs)
}

// RunFilesHandler handles GET /runs/:id/files.
func (s *RESTServer) RunFilesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "no such run")
		return
	}
	files, err := s.DB.Files(id)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	enc := json.NewEncoder(w)
	enc.Encode(files)
}

// ChecksHandler handles GET /checks, the verification history oldest
// first. An optional path query parameter narrows it to one output.
func (s *RESTServer) ChecksHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	checks, err := s.DB.SearchChecks(r.URL.Query().Get("path"))
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	enc := json.NewEncoder(w)
	enc.Encode(checks)
}
