package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genpool/internal/manager"
	"genpool/pkg/types"
)

// NewManagementMux builds the instance management API. events may be nil,
// in which case /api/events is not served.
func NewManagementMux(mgmt Management, events EventSource) http.Handler {
	r := baseRouter("management")
	h := &mgmtHandler{mgmt: mgmt}

	r.Route("/api", func(r chi.Router) {
		r.Get("/instances", h.list)
		r.Post("/instances", h.create)
		r.Get("/instances/{id}", h.get)
		r.Delete("/instances/{id}", h.remove)
		r.Post("/instances/{id}/start", h.action("started", mgmt.StartInstance))
		r.Post("/instances/{id}/stop", h.action("stopped", mgmt.StopInstance))
		r.Post("/instances/{id}/restart", h.action("restarting", mgmt.RestartInstance))
		r.Get("/stats", h.stats)
		if events != nil {
			r.Get("/events", eventStream(events))
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type mgmtHandler struct {
	mgmt Management
}

// list handles GET /api/instances.
//
// @Summary      List instances
// @Tags         management
// @Produce      json
// @Success      200  {object}  types.InstancesResponse
// @Router       /api/instances [get]
func (h *mgmtHandler) list(w http.ResponseWriter, r *http.Request) {
	infos := h.mgmt.ListInstances()
	resp := types.InstancesResponse{Success: true, Instances: make([]types.InstanceStatus, 0, len(infos))}
	for _, info := range infos {
		resp.Instances = append(resp.Instances, manager.InstanceStatusOf(info))
		if info.State == manager.StateIdle || info.State == manager.StateBusy {
			resp.ConcurrencyCount++
		}
	}
	resp.TotalCount = len(infos)
	writeJSON(w, http.StatusOK, resp)
}

// create handles POST /api/instances.
//
// @Summary      Create an instance
// @Tags         management
// @Accept       json
// @Produce      json
// @Param        body  body      types.CreateInstanceRequest  false  "Instance to create"
// @Success      201   {object}  types.InstanceResponse
// @Failure      400   {object}  types.ErrorResponse
// @Router       /api/instances [post]
func (h *mgmtHandler) create(w http.ResponseWriter, r *http.Request) {
	var req types.CreateInstanceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err).Error())
		return
	}
	kind := types.ServiceKind(req.Service)
	if kind == "" {
		kind = h.mgmt.DefaultKind()
	}
	info, err := h.mgmt.CreateInstance(kind, strings.TrimSpace(req.Name))
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	msg := "instance created"
	if req.Start {
		if err := h.mgmt.StartInstance(info.ID); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		msg = "instance created and starting"
		if fresh, err := h.mgmt.GetInstance(info.ID); err == nil {
			info = fresh
		}
	}
	writeJSON(w, http.StatusCreated, types.InstanceResponse{Success: true, Instance: manager.InstanceStatusOf(info), Message: msg})
}

// get handles GET /api/instances/{id}.
//
// @Summary      Get an instance
// @Tags         management
// @Produce      json
// @Param        id   path      string  true  "Instance ID"
// @Success      200  {object}  types.InstanceResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/instances/{id} [get]
func (h *mgmtHandler) get(w http.ResponseWriter, r *http.Request) {
	info, err := h.mgmt.GetInstance(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.InstanceResponse{Success: true, Instance: manager.InstanceStatusOf(info)})
}

// remove handles DELETE /api/instances/{id}.
//
// @Summary      Remove an instance
// @Tags         management
// @Produce      json
// @Param        id     path      string  true   "Instance ID"
// @Param        force  query     bool    false  "Cancel and requeue a running task"
// @Success      200    {object}  types.ActionResponse
// @Failure      404    {object}  types.ErrorResponse
// @Failure      409    {object}  types.ErrorResponse
// @Router       /api/instances/{id} [delete]
func (h *mgmtHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.mgmt.RemoveInstance(id, force); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResponse{Success: true, InstanceID: id, Message: "instance removed"})
}

// action wraps start, stop and restart.
func (h *mgmtHandler) action(verb string, fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(id); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: true, InstanceID: id, Message: "instance " + verb})
	}
}

// stats handles GET /api/stats.
//
// @Summary      Pool statistics
// @Tags         management
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /api/stats [get]
func (h *mgmtHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgmt.Status())
}
