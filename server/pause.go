package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Pause makes the server refuse new jobs. Running jobs finish. Used
// while the archive shares are being serviced.
func (s *RESTServer) Pause() {
	log.Println("Pausing job intake")
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
}

// Resume accepts jobs again.
func (s *RESTServer) Resume() {
	log.Println("Resuming job intake")
	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()
}

// Paused reports whether job intake is paused.
func (s *RESTServer) Paused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// SetPauseHandler handles requests to PUT /admin/pause/:status
func (s *RESTServer) SetPauseHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	status := ps.ByName("status")

	switch status {
	case "on":
		w.WriteHeader(201)
		s.Pause()
	case "off":
		w.WriteHeader(201)
		s.Resume()
	default:
		w.WriteHeader(503)
		log.Println("PUT /admin/pause: unknown parameter", status)
	}
}

// GetPauseHandler handles requests from GET /admin/pause
func (s *RESTServer) GetPauseHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch s.Paused() {
	case true:
		fmt.Fprintf(w, "On")
	case false:
		fmt.Fprintf(w, "Off")
	}
}
