package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genpool/internal/manager"
	"genpool/internal/studio"
	"genpool/pkg/types"
)

// NewMux builds the generation API.
func NewMux(svc Service) http.Handler {
	r := baseRouter("api")
	r.Use(middleware.Compress(5, "application/json"))

	h := &genHandler{svc: svc}
	r.Post("/generate", h.generateJSON)
	r.Post("/generate-with-file", h.generateMultipart)
	r.Get("/tasks/{id}", h.taskStatus)
	r.Get("/health", h.health)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type genHandler struct {
	svc Service
}

// generateJSON handles POST /generate.
//
// @Summary      Generate images
// @Tags         generation
// @Accept       json
// @Produce      json
// @Param        body  body      types.GenerateRequest  true  "Generation request"
// @Success      200   {object}  types.GenerateResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /generate [post]
func (h *genHandler) generateJSON(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	spec, err := h.specFromRequest(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	images := make([][]byte, 0, len(req.ReferenceImagesB64))
	for i, s := range req.ReferenceImagesB64 {
		b, err := studio.DecodeImage(s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("reference_images_b64[%d]: %v", i, err))
			return
		}
		images = append(images, b)
	}
	spec.Images = images
	h.run(w, r, spec)
}

// generateMultipart handles POST /generate-with-file.
//
// @Summary      Generate images from uploaded reference files
// @Tags         generation
// @Accept       multipart/form-data
// @Produce      json
// @Param        prompt            formData  string  true   "Prompt"
// @Param        aspect_ratio      formData  string  false  "Aspect ratio"
// @Param        service           formData  string  false  "Service"
// @Param        reference_images  formData  file    false  "Reference images"
// @Success      200  {object}  types.GenerateResponse
// @Failure      400  {object}  types.ErrorResponse
// @Router       /generate-with-file [post]
func (h *genHandler) generateMultipart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := types.GenerateRequest{
		Prompt:      r.FormValue("prompt"),
		AspectRatio: r.FormValue("aspect_ratio"),
		Service:     r.FormValue("service"),
	}
	files := r.MultipartForm.File["reference_images"]
	for range files {
		// counted for validation; the payload is read below
		req.ReferenceImagesB64 = append(req.ReferenceImagesB64, "-")
	}
	spec, err := h.specFromRequest(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "cannot read "+fh.Filename)
			return
		}
		b, err := io.ReadAll(f)
		f.Close()
		if err != nil || len(b) == 0 {
			writeJSONError(w, http.StatusBadRequest, "empty or unreadable file "+fh.Filename)
			return
		}
		spec.Images = append(spec.Images, b)
	}
	h.run(w, r, spec)
}

// specFromRequest validates req and fills defaults.
func (h *genHandler) specFromRequest(req types.GenerateRequest) (manager.TaskSpec, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := validate.Struct(req); err != nil {
		return manager.TaskSpec{}, validationMessage(err)
	}
	kind := types.ServiceKind(req.Service)
	if kind == "" {
		kind = h.svc.DefaultKind()
	}
	ratio := types.AspectRatio(strings.TrimSpace(req.AspectRatio))
	if ratio == "" {
		ratio = types.AspectAuto
	}
	if err := studio.CheckRatio(kind, ratio); err != nil {
		return manager.TaskSpec{}, err
	}
	return manager.TaskSpec{Kind: kind, Prompt: req.Prompt, AspectRatio: ratio}, nil
}

// validationMessage turns validator errors into a short client message.
func validationMessage(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return err
	}
	fe := ves[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "max":
		return fmt.Errorf("%s exceeds maximum %s", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

func (h *genHandler) run(w http.ResponseWriter, r *http.Request, spec manager.TaskSpec) {
	start := time.Now()
	lvl := requestLogLevel(r)
	if lvl >= LevelInfo {
		ev := zlog.Info().Str("path", r.URL.Path).Str("service", string(spec.Kind)).Int("images", len(spec.Images))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Msg("generate start")
	}

	ctx, cancel := generationContext(r)
	defer cancel()
	res, err := h.svc.Generate(ctx, spec)
	if err != nil && !manager.IsTaskFailed(err) {
		// client went away: nobody to answer
		if r.Context().Err() != nil {
			logEnd(r, lvl, 499, start, res.TaskID, err)
			return
		}
		status := statusFor(err)
		if serverBaseCtx.Err() != nil {
			status = http.StatusServiceUnavailable
		}
		switch status {
		case http.StatusTooManyRequests:
			IncrementBackpressure("queue_timeout")
		case http.StatusServiceUnavailable:
			IncrementBackpressure("unavailable")
		}
		writeTaskError(w, status, err.Error(), res.TaskID)
		logEnd(r, lvl, status, start, res.TaskID, err)
		return
	}

	resp := types.GenerateResponse{
		Success:  err == nil,
		TaskID:   res.TaskID,
		Attempts: res.Attempts,
	}
	if err != nil {
		resp.Reason = string(manager.ReasonOf(err))
		resp.Message = err.Error()
	} else {
		resp.Message = fmt.Sprintf("generated %d image(s)", len(res.Images))
		resp.AITextResponse = res.Text
		resp.GeneratedImages = make([]string, 0, len(res.Images))
		for _, img := range res.Images {
			resp.GeneratedImages = append(resp.GeneratedImages, studio.EncodeImage(img))
		}
	}
	writeJSON(w, http.StatusOK, resp)
	logEnd(r, lvl, http.StatusOK, start, res.TaskID, err)
}

// taskStatus handles GET /tasks/{id}.
//
// @Summary      Task status
// @Tags         generation
// @Produce      json
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  types.TaskStatusResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /tasks/{id} [get]
func (h *genHandler) taskStatus(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.TaskStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.TaskStatusResponse{
		TaskID:     info.ID,
		Status:     string(info.State),
		Service:    string(info.Kind),
		InstanceID: info.InstanceID,
		Attempt:    info.Attempt,
		QueuedAt:   info.QueuedAt.Unix(),
	})
}

// health handles GET /health.
//
// @Summary      Pool health
// @Tags         generation
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (h *genHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthOf(h.svc.Status()))
}

func healthOf(st types.StatusResponse) types.HealthResponse {
	resp := types.HealthResponse{
		Status:              "healthy",
		Counts:              st.Counts,
		ConcurrencyCapacity: st.ConcurrencyCapacity,
		QueuedTasks:         st.QueuedTasks,
		ActiveTasks:         st.ActiveTasks,
		Timestamp:           time.Unix(st.ServerTimeUnix, 0).UTC().Format(time.RFC3339),
	}
	switch {
	case st.ShuttingDown:
		resp.Status = "shutting_down"
		resp.Message = "server is shutting down"
	case st.Counts.Running == 0:
		resp.Status = "degraded"
		resp.Message = "no running browser instances"
	case st.Counts.Available == 0:
		resp.Message = fmt.Sprintf("all %d running instances are busy", st.Counts.Running)
	default:
		resp.Message = fmt.Sprintf("%d of %d running instances available", st.Counts.Available, st.Counts.Running)
	}
	return resp
}
