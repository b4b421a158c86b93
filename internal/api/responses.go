package api

import (
	"encoding/json"
	"net/http"

	"bustracker/internal/report"
)

type envelope map[string]any

func (app *Application) writeJSON(w http.ResponseWriter, status int, data any) {
	js, err := json.Marshal(data)
	if err != nil {
		app.Logger.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(js, '\n'))
}

func (app *Application) errorResponse(w http.ResponseWriter, status int, message any) {
	app.writeJSON(w, status, envelope{"error": message})
}

func (app *Application) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.Logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	report.ReportErrorWithOptions(err, report.Options{
		Tags: map[string]string{"method": r.Method, "path": r.URL.Path},
	})
	app.errorResponse(w, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
}

func (app *Application) notFoundResponse(w http.ResponseWriter, _ *http.Request) {
	app.errorResponse(w, http.StatusNotFound, "the requested resource could not be found")
}

func (app *Application) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	app.errorResponse(w, http.StatusMethodNotAllowed, "the "+r.Method+" method is not supported for this resource")
}

func (app *Application) badRequestResponse(w http.ResponseWriter, err error) {
	app.errorResponse(w, http.StatusBadRequest, err.Error())
}

func (app *Application) unprocessableResponse(w http.ResponseWriter, message string) {
	app.errorResponse(w, http.StatusUnprocessableEntity, message)
}
