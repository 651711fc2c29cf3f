package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/roach88/hobbysync/internal/concepts/requesting"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/metrics"
)

const internalErrorMessage = "An internal server error occurred."

var requestAction = ir.ActionRef(requesting.Name + ".request")

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Concept Server is running.")
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConcept serves POST {base}/{path...}.
func (s *Server) handleConcept(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request body could not be read.")
		return
	}
	args, err := ir.ParseObject(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}

	if s.passthrough[path] {
		s.passthroughCall(w, r, path, args)
		return
	}
	s.request(w, r, path, args)
}

// request submits Requesting.request and waits for the rules to respond.
func (s *Server) request(w http.ResponseWriter, r *http.Request, path string, args ir.IRObject) {
	ctx := r.Context()
	flow := s.engine.NewFlow()
	reqID := chimiddleware.GetReqID(ctx)

	input := args.Clone()
	input["path"] = ir.IRString(path)

	s.requests.Expect(flow)
	if _, err := s.engine.Submit(ctx, flow, requestAction, input); err != nil {
		s.requests.Forget(flow)
		slog.Error("submit request failed", "path", path, "flow_token", flow, "request_id", reqID, "error", err)
		writeError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	resp, err := s.requests.Wait(ctx, flow)
	switch {
	case errors.Is(err, requesting.ErrTimeout):
		metrics.RequestsTimedOut.Inc()
		slog.Warn("request timed out", "path", path, "flow_token", flow, "request_id", reqID)
		writeError(w, http.StatusGatewayTimeout, requesting.TimeoutMessage)
	case err != nil:
		// Client went away.
		slog.Debug("request abandoned", "path", path, "flow_token", flow, "error", err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// passthroughCall runs the named action or query directly.
func (s *Server) passthroughCall(w http.ResponseWriter, r *http.Request, path string, args ir.IRObject) {
	ref := ir.ActionRef(strings.Replace(path[1:], "/", ".", 1))
	if !ref.Valid() || strings.Contains(string(ref), "/") {
		writeError(w, http.StatusNotFound, "Unknown route "+path+".")
		return
	}

	if ref.IsQuery() {
		rows, err := s.engine.Query(r.Context(), ref, args)
		if err != nil {
			slog.Error("passthrough query failed", "query", string(ref), "error", err)
			writeError(w, http.StatusInternalServerError, internalErrorMessage)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	comp, err := s.engine.Dispatch(r.Context(), s.engine.NewFlow(), ref, args)
	if err != nil {
		slog.Error("passthrough action failed", "action", string(ref), "error", err)
		writeError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, comp.Result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"` + internalErrorMessage + `"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
