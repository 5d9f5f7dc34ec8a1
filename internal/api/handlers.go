package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/generator"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/storage"
	"github.com/ai-agency/agency/internal/subscription"
)

const (
	// multipartMemory is how much of an upload is kept in memory before
	// spilling to a temp file.
	multipartMemory = 8 << 20
	// multipartOverhead covers the form fields and boundaries around the
	// file itself.
	multipartOverhead = 64 << 10

	maxPageSize = 100
)

type chatRequest struct {
	Message string `json:"message" validate:"notblank,max=2000"`
	Context string `json:"context" validate:"max=4000"`
	Type    string `json:"type" validate:"omitempty,oneof=general technical business"`
}

type codeRequest struct {
	Description string `json:"description" validate:"notblank,min=10,max=1000"`
	Language    string `json:"language" validate:"required,oneof=javascript python html css react nodejs php"`
	Framework   string `json:"framework" validate:"max=50"`
	Complexity  string `json:"complexity" validate:"omitempty,oneof=simple medium complex"`
}

type jobSearchRequest struct {
	Keywords   string `json:"keywords" validate:"notblank,min=2,max=100"`
	Location   string `json:"location" validate:"max=100"`
	Experience string `json:"experience" validate:"max=50"`
	JobType    string `json:"jobType" validate:"max=50"`
}

type feedbackRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
	Helpful *bool  `json:"helpful"`
}

type shareRequest struct {
	UserID     string `json:"userId" validate:"required,uuid"`
	Permission string `json:"permission" validate:"omitempty,oneof=view edit admin"`
}

func (api *Api) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}
	api.submit(w, r, models.TypeChat, generator.ChatInput{
		Message: strings.TrimSpace(req.Message),
		Context: req.Context,
		Type:    orDefault(req.Type, "general"),
	}, "message processed", nil)
}

func (api *Api) GenerateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}
	api.submit(w, r, models.TypeCodeGeneration, generator.CodeInput{
		Description: strings.TrimSpace(req.Description),
		Language:    req.Language,
		Framework:   strings.TrimSpace(req.Framework),
		Complexity:  orDefault(req.Complexity, "medium"),
	}, "code generated", envelope{"language": req.Language, "framework": req.Framework})
}

func (api *Api) JobSearch(w http.ResponseWriter, r *http.Request) {
	var req jobSearchRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}
	in := generator.JobSearchInput{
		Keywords:   strings.TrimSpace(req.Keywords),
		Location:   strings.TrimSpace(req.Location),
		Experience: strings.TrimSpace(req.Experience),
		JobType:    orDefault(req.JobType, "all"),
	}
	api.submit(w, r, models.TypeJobSearch, in, "job search completed", envelope{"searchCriteria": in})
}

// AnalyzeFile stores the uploaded file, charges the upload quota and runs
// the analysis. Files whose content does not match their extension are
// rejected before any quota is charged. The size ceiling is the smaller of the plan limit and the
// server wide upload limit.
func (api *Api) AnalyzeFile(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	sub, ok := subscription.FromContext(r.Context())
	if !ok {
		sub = id.User.Subscription
	}
	limit := api.catalog.MaxFileSize(sub.Plan, api.Config.Upload.MaxSize)
	tooLarge := apperrors.Validation(apperrors.FieldError{
		Field:   "file",
		Message: fmt.Sprintf("file must be at most %d bytes on the %s plan", limit, sub.Plan),
	})

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "too large") {
			api.fail(w, r, tooLarge)
			return
		}
		api.fail(w, r, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "file", Message: "file is required"}))
		return
	}
	defer file.Close()

	if header.Size > limit {
		api.fail(w, r, tooLarge)
		return
	}
	if err := storage.CheckExtension(header.Filename, api.Config.Upload.AllowedExtensions); err != nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "file", Message: err.Error()}))
		return
	}
	analysisType := orDefault(r.FormValue("analysisType"), "general")
	if len(analysisType) > 50 {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "analysisType", Message: "analysisType must be at most 50 characters"}))
		return
	}

	mt, body, err := storage.Sniff(file)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	if err := storage.CheckContent(header.Filename, mt); err != nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "file", Message: err.Error()}))
		return
	}
	contentType := mt.String()

	if err := api.db.ConsumeUpload(r.Context(), id.UserID); err != nil {
		switch {
		case errors.Is(err, database.ErrQuotaExceeded):
			api.fail(w, r, apperrors.New(apperrors.CodeUploadLimitExceeded, "monthly file upload limit reached, upgrade your plan for more").
				With("plan", sub.Plan))
		case errors.Is(err, database.ErrNotFound):
			api.fail(w, r, apperrors.NotFound("user"))
		default:
			api.fail(w, r, apperrors.Internal(err))
		}
		return
	}

	obj, err := api.files.Save(r.Context(), storage.UploadKey(id.UserID, header.Filename), body, contentType)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	api.submit(w, r, models.TypeFileAnalysis, generator.FileInput{
		FileName:     header.Filename,
		Size:         header.Size,
		MimeType:     contentType,
		AnalysisType: analysisType,
		StorageKey:   obj.Key,
	}, "file analysed", envelope{"file": envelope{
		"name": header.Filename,
		"size": header.Size,
		"type": contentType,
		"url":  obj.URL,
	}})
}

// submit runs one AI request for the caller and writes the outcome.
func (api *Api) submit(w http.ResponseWriter, r *http.Request, typ models.RequestType, input any, message string, extra envelope) {
	req, err := api.proc.Submit(r.Context(), identity(r).UserID, typ, input, metadata(r))
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && req != nil {
			err = appErr.With("requestId", req.ID)
		}
		api.fail(w, r, err)
		return
	}
	api.writeResult(w, http.StatusOK, message, req, extra)
}

func (api *Api) writeResult(w http.ResponseWriter, status int, message string, req *models.AIRequest, extra envelope) {
	data := envelope{
		"requestId":      req.ID,
		"type":           req.Type,
		"status":         req.Status,
		"output":         req.Output,
		"usage":          req.Usage,
		"processingTime": req.Processing.ProcessingTime,
		"timestamp":      req.UpdatedAt,
	}
	for k, v := range extra {
		data[k] = v
	}
	respond(w, status, message, envelope{"data": data})
}

// ListRequests pages through the caller's own requests.
func (api *Api) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.RequestFilter{
		UserID: identity(r).UserID,
		Type:   models.RequestType(q.Get("type")),
		Status: models.RequestStatus(q.Get("status")),
		Query:  q.Get("q"),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 10),
	}

	var fields []apperrors.FieldError
	if filter.Type != "" && !filter.Type.Valid() {
		fields = append(fields, apperrors.FieldError{Field: "type", Message: "type is invalid"})
	}
	switch filter.Status {
	case "", models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
	default:
		fields = append(fields, apperrors.FieldError{Field: "status", Message: "status is invalid"})
	}
	if len(fields) > 0 {
		api.fail(w, r, apperrors.Validation(fields...))
		return
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 10
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	requests, total, err := api.db.ListRequests(r.Context(), filter)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	respond(w, http.StatusOK, "requests", envelope{"data": envelope{
		"requests": requests,
		"pagination": envelope{
			"current":       filter.Page,
			"total":         (total + filter.Limit - 1) / filter.Limit,
			"count":         len(requests),
			"totalRequests": total,
			"limit":         filter.Limit,
		},
	}})
}

func (api *Api) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := api.proc.Viewable(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		api.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "request", envelope{"data": req})
}

func (api *Api) GetPublicRequest(w http.ResponseWriter, r *http.Request) {
	req, err := api.proc.Public(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.fail(w, r, err)
		return
	}
	// Only the content is published, never who asked or from where.
	respond(w, http.StatusOK, "request", envelope{"data": envelope{
		"id":        req.ID,
		"type":      req.Type,
		"input":     req.Input,
		"output":    req.Output,
		"status":    req.Status,
		"createdAt": req.CreatedAt,
	}})
}

func (api *Api) RequestFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackRequest
	if err := api.decode(w, r, &body); err != nil {
		api.fail(w, r, err)
		return
	}
	api.modify(w, r, "feedback saved", func(req *models.AIRequest) error {
		return req.AddFeedback(body.Rating, strings.TrimSpace(body.Comment), body.Helpful, api.now())
	})
}

func (api *Api) ShareRequest(w http.ResponseWriter, r *http.Request) {
	var body shareRequest
	if err := api.decode(w, r, &body); err != nil {
		api.fail(w, r, err)
		return
	}

	if _, err := api.db.GetUserByID(r.Context(), body.UserID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			api.fail(w, r, apperrors.NotFound("user"))
			return
		}
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	perm := models.Permission(orDefault(body.Permission, string(models.PermissionView)))
	api.modify(w, r, "request shared", func(req *models.AIRequest) error {
		return req.ShareWith(body.UserID, perm, api.now())
	})
}

func (api *Api) PublishRequest(w http.ResponseWriter, r *http.Request) {
	api.modify(w, r, "request is now public", func(req *models.AIRequest) error {
		req.MakePublic(api.now())
		return nil
	})
}

func (api *Api) ArchiveRequest(w http.ResponseWriter, r *http.Request) {
	api.modify(w, r, "request archived", func(req *models.AIRequest) error {
		req.Archive(api.now())
		return nil
	})
}

func (api *Api) RetryRequest(w http.ResponseWriter, r *http.Request) {
	req, err := api.proc.Retry(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && req != nil {
			err = appErr.With("requestId", req.ID)
		}
		api.fail(w, r, err)
		return
	}
	api.writeResult(w, http.StatusOK, "request retried", req, nil)
}

func (api *Api) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := api.proc.Cancel(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		api.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "request cancelled", envelope{"data": req})
}

// modify loads a request the caller may change, applies fn and saves it.
func (api *Api) modify(w http.ResponseWriter, r *http.Request, message string, fn func(*models.AIRequest) error) {
	req, err := api.proc.Modifiable(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		api.fail(w, r, err)
		return
	}

	if err := fn(req); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRating):
			err = apperrors.Validation(apperrors.FieldError{Field: "rating", Message: err.Error()})
		case errors.Is(err, models.ErrInvalidPermission):
			err = apperrors.Validation(apperrors.FieldError{Field: "permission", Message: err.Error()})
		case errors.Is(err, models.ErrShareWithOwner):
			err = apperrors.Validation(apperrors.FieldError{Field: "userId", Message: err.Error()})
		default:
			err = apperrors.Internal(err)
		}
		api.fail(w, r, err)
		return
	}

	if err := api.db.UpdateRequest(r.Context(), req); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	logger.FromContext(r.Context()).Debug("request updated", "request_id", req.ID, "action", message)
	respond(w, http.StatusOK, message, envelope{"data": req})
}
