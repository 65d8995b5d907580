package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/umcneuro/cohanon/coh3"
)

func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Cohanon (%s)\n", Version)
}

// FieldsHandler handles GET /fields, describing the patient fields of
// the recording header so clients can build their redaction forms.
func FieldsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	type field struct {
		Name   string `json:"name"`
		Offset int    `json:"offset"`
		Width  int    `json:"width"`
	}
	result := make([]field, 0, len(coh3.Fields()))
	for _, f := range coh3.Fields() {
		result = append(result, field{Name: f.String(), Offset: f.Offset(), Width: f.Width()})
	}
	enc := json.NewEncoder(w)
	enc.Encode(result)
}
