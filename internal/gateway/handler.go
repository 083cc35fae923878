package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/holla2040/reflow-mpc/internal/archive"
	"github.com/holla2040/reflow-mpc/internal/curvestore"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/report"
)

// ErrBusy is returned by Controller.StartCurve when a run is already
// active, matching §7's "Busy" error kind: start() while the supervisor is
// alive fails fast.
var ErrBusy = errors.New("gateway: a run is already active")

// Controller abstracts the Main-process orchestration (shared-state bus,
// supervisor process lifecycle, TMS link) that the HTTP surface drives.
// Implemented by internal/orchestrator.Orchestrator so this package stays
// free of process-management and sharedstate.Bus details.
type Controller interface {
	StartCurve(curve *reflow.Curve) error
	StopCurve() error
	RequestReset()
	CurveStatus() reflow.ReflowStatus
	OvenStatus() reflow.OvenStatus
	Logs() []reflow.LogMessage
}

// Handler implements the collaborator surface fixed by §6 plus the curve
// library CRUD surface supplemented from original_source/ (§12).
type Handler struct {
	Controller Controller
	Curves     *curvestore.Store
	Archive    *archive.Archive
	Hub        *Hub
}

// RegisterRoutes wires every route onto mux, matching the teacher's
// RegisterRoutes(mux *http.ServeMux) convention.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /start_curve", h.startCurve)
	mux.HandleFunc("POST /stop_curve", h.stopCurve)
	mux.HandleFunc("GET /curve_status", h.curveStatus)
	mux.HandleFunc("GET /oven_status", h.ovenStatus)
	mux.HandleFunc("POST /reset", h.reset)
	mux.HandleFunc("GET /logs", h.logs)

	mux.HandleFunc("POST /save_curve", h.saveCurve)
	mux.HandleFunc("POST /update_curve/{id}", h.updateCurve)
	mux.HandleFunc("DELETE /delete_curve/{id}", h.deleteCurve)
	mux.HandleFunc("GET /curves", h.listCurves)

	mux.HandleFunc("GET /ws", h.Hub.ServeWS)

	mux.HandleFunc("GET /runs", h.listRuns)
	mux.HandleFunc("GET /runs/{id}", h.getRun)
	mux.HandleFunc("GET /runs/{id}/report.csv", h.reportCSV)
	mux.HandleFunc("GET /runs/{id}/report.json", h.reportJSON)
	mux.HandleFunc("GET /runs/{id}/report.pdf", h.reportPDF)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent, so an encode error cannot be reported
		// to the client; it is dropped.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) startCurve(w http.ResponseWriter, r *http.Request) {
	var curve reflow.Curve
	if err := json.NewDecoder(r.Body).Decode(&curve); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid curve JSON: %w", err))
		return
	}
	if err := curve.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Controller.StartCurve(&curve); err != nil {
		if errors.Is(err, ErrBusy) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handler) stopCurve(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.StopCurve(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) curveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.CurveStatus())
}

func (h *Handler) ovenStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.OvenStatus())
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.Controller.RequestReset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset requested"})
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.Logs())
}

func (h *Handler) saveCurve(w http.ResponseWriter, r *http.Request) {
	var curve reflow.Curve
	if err := json.NewDecoder(r.Body).Decode(&curve); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid curve JSON: %w", err))
		return
	}
	id, err := h.Curves.Save(&curve)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) updateCurve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var curve reflow.Curve
	if err := json.NewDecoder(r.Body).Decode(&curve); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid curve JSON: %w", err))
		return
	}
	if err := h.Curves.Update(id, &curve); err != nil {
		if errors.Is(err, curvestore.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteCurve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Curves.Delete(id); err != nil {
		if errors.Is(err, curvestore.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listCurves(w http.ResponseWriter, r *http.Request) {
	curves, err := h.Curves.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, curves)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Archive.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Archive.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) reportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	if err := report.ExportCSV(w, h.Archive, r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
	}
}

func (h *Handler) reportJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := report.ExportJSON(w, h.Archive, r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
	}
}

func (h *Handler) reportPDF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	if err := report.ExportPDF(w, h.Archive, r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
	}
}
