package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RequestType string

const (
	TypeChat            RequestType = "chat"
	TypeFileAnalysis    RequestType = "file_analysis"
	TypeCodeGeneration  RequestType = "code_generation"
	TypeJobSearch       RequestType = "job_search"
	TypeAutomation      RequestType = "automation"
	TypeDataAnalysis    RequestType = "data_analysis"
	TypeTranslation     RequestType = "translation"
	TypeContentCreation RequestType = "content_creation"
	TypeImageGeneration RequestType = "image_generation"
	TypeVoiceProcessing RequestType = "voice_processing"
)

var RequestTypes = []RequestType{
	TypeChat, TypeFileAnalysis, TypeCodeGeneration, TypeJobSearch, TypeAutomation,
	TypeDataAnalysis, TypeTranslation, TypeContentCreation, TypeImageGeneration, TypeVoiceProcessing,
}

func (t RequestType) Valid() bool {
	for _, rt := range RequestTypes {
		if rt == t {
			return true
		}
	}
	return false
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Permission string

const (
	PermissionView  Permission = "view"
	PermissionEdit  Permission = "edit"
	PermissionAdmin Permission = "admin"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrEmptyInput          = errors.New("request input is required")
	ErrMissingOutput       = errors.New("completed request requires output")
	ErrMissingErrorMessage = errors.New("failed request requires an error message")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrInvalidPermission   = errors.New("invalid share permission")
	ErrShareWithOwner      = errors.New("cannot share a request with its owner")
)

type Processing struct {
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ProcessingTime int64      `json:"processingTime"`
	RetryCount     int        `json:"retryCount"`
	LastRetryAt    *time.Time `json:"lastRetryAt,omitempty"`
}

type Usage struct {
	TokensUsed   int     `json:"tokensUsed"`
	CostEstimate float64 `json:"costEstimate"`
	ModelUsed    string  `json:"modelUsed"`
	APICalls     int     `json:"apiCalls"`
}

type Feedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	Helpful     *bool     `json:"helpful,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type Metadata struct {
	UserAgent     string `json:"userAgent,omitempty"`
	IPAddress     string `json:"ipAddress,omitempty"`
	RequestSource string `json:"requestSource"`
}

type Share struct {
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
	SharedAt   time.Time  `json:"sharedAt"`
}

type Sharing struct {
	IsPublic   bool    `json:"isPublic"`
	PublicURL  string  `json:"publicUrl,omitempty"`
	SharedWith []Share `json:"sharedWith"`
}

// AIRequest records one unit of AI work: what was asked, the generated
// answer, and its accounting.
type AIRequest struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         RequestType     `json:"type"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output,omitempty"`
	Status       RequestStatus   `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Priority     Priority        `json:"priority"`
	Processing   Processing      `json:"processing"`
	Usage        Usage           `json:"usage"`
	Feedback     *Feedback       `json:"feedback,omitempty"`
	Metadata     Metadata        `json:"metadata"`
	Tags         []string        `json:"tags"`
	Shared       Sharing         `json:"shared"`
	Archived     bool            `json:"archived"`
	ArchivedAt   *time.Time      `json:"archivedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewAIRequest creates a pending request for userID. input is encoded to
// JSON and must not be empty.
func NewAIRequest(userID string, typ RequestType, input any, meta Metadata, now time.Time) (*AIRequest, error) {
	raw, err := encode(input)
	if err != nil {
		return nil, err
	}
	if isEmptyJSON(raw) {
		return nil, ErrEmptyInput
	}
	if meta.RequestSource == "" {
		meta.RequestSource = "web"
	}
	return &AIRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Input:     raw,
		Status:    StatusPending,
		Priority:  PriorityNormal,
		Metadata:  meta,
		Tags:      []string{},
		Shared:    Sharing{SharedWith: []Share{}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *AIRequest) MarkStarted(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusProcessing)
	}
	r.Status = StatusProcessing
	r.Processing.StartedAt = &now
	r.Processing.CompletedAt = nil
	r.Processing.ProcessingTime = 0
	r.UpdatedAt = now
	return nil
}

// MarkCompleted stores the generated output. Non-zero usage fields replace
// the recorded ones.
func (r *AIRequest) MarkCompleted(output any, usage Usage, now time.Time) error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusCompleted)
	}
	raw, err := encode(output)
	if err != nil {
		return err
	}
	if isEmptyJSON(raw) {
		return ErrMissingOutput
	}

	r.Output = raw
	r.Status = StatusCompleted
	r.ErrorMessage = ""
	r.mergeUsage(usage)
	r.finish(now)
	return nil
}

func (r *AIRequest) MarkFailed(message string, now time.Time) error {
	if r.Status != StatusPending && r.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	if message == "" {
		return ErrMissingErrorMessage
	}
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.finish(now)
	return nil
}

// Retry moves a failed or cancelled request back to pending.
func (r *AIRequest) Retry(now time.Time) error {
	if r.Status != StatusFailed && r.Status != StatusCancelled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusPending)
	}
	r.Status = StatusPending
	r.ErrorMessage = ""
	r.Output = nil
	r.Processing.RetryCount++
	r.Processing.LastRetryAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *AIRequest) Cancel(now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusCancelled)
	}
	r.Status = StatusCancelled
	r.UpdatedAt = now
	return nil
}

func (r *AIRequest) Archive(now time.Time) {
	r.Archived = true
	r.ArchivedAt = &now
	r.UpdatedAt = now
}

func (r *AIRequest) AddFeedback(rating int, comment string, helpful *bool, now time.Time) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	r.Feedback = &Feedback{
		Rating:      rating,
		Comment:     comment,
		Helpful:     helpful,
		SubmittedAt: now,
	}
	r.UpdatedAt = now
	return nil
}

// ShareWith grants userID access to the request, replacing any earlier
// grant for the same user.
func (r *AIRequest) ShareWith(userID string, perm Permission, now time.Time) error {
	switch perm {
	case PermissionView, PermissionEdit, PermissionAdmin:
	default:
		return ErrInvalidPermission
	}
	if userID == r.UserID {
		return ErrShareWithOwner
	}

	share := Share{UserID: userID, Permission: perm, SharedAt: now}
	for i := range r.Shared.SharedWith {
		if r.Shared.SharedWith[i].UserID == userID {
			r.Shared.SharedWith[i] = share
			r.UpdatedAt = now
			return nil
		}
	}
	r.Shared.SharedWith = append(r.Shared.SharedWith, share)
	r.UpdatedAt = now
	return nil
}

func (r *AIRequest) MakePublic(now time.Time) {
	r.Shared.IsPublic = true
	r.Shared.PublicURL = "public/" + r.ID
	r.UpdatedAt = now
}

// CanView reports whether the caller may read the request.
func (r *AIRequest) CanView(userID string, role Role) bool {
	if r.CanModify(userID, role) {
		return true
	}
	for _, s := range r.Shared.SharedWith {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// CanModify reports whether the caller may change the request.
func (r *AIRequest) CanModify(userID string, role Role) bool {
	return r.UserID == userID || role == RoleAdmin
}

// Validate checks the invariants that must hold before the request is
// written.
func (r *AIRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("request owner is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid request type %q", r.Type)
	}
	if isEmptyJSON(r.Input) {
		return ErrEmptyInput
	}
	if r.Status == StatusCompleted && isEmptyJSON(r.Output) {
		return ErrMissingOutput
	}
	if r.Status == StatusFailed && r.ErrorMessage == "" {
		return ErrMissingErrorMessage
	}
	return nil
}

// SearchText is the lower-cased text keyword search runs against: the
// string values of the input and output documents, without their keys.
func (r *AIRequest) SearchText() string {
	var parts []string
	for _, raw := range []json.RawMessage{r.Input, r.Output} {
		if len(raw) == 0 {
			continue
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		parts = collectStrings(doc, parts)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

func collectStrings(v any, out []string) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			out = append(out, t)
		}
	case []any:
		for _, e := range t {
			out = collectStrings(e, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = collectStrings(t[k], out)
		}
	}
	return out
}

func (r *AIRequest) finish(now time.Time) {
	r.Processing.CompletedAt = &now
	if r.Processing.StartedAt != nil {
		r.Processing.ProcessingTime = now.Sub(*r.Processing.StartedAt).Milliseconds()
	}
	r.UpdatedAt = now
}

func (r *AIRequest) mergeUsage(u Usage) {
	if u.TokensUsed != 0 {
		r.Usage.TokensUsed = u.TokensUsed
	}
	if u.CostEstimate != 0 {
		r.Usage.CostEstimate = u.CostEstimate
	}
	if u.ModelUsed != "" {
		r.Usage.ModelUsed = u.ModelUsed
	}
	if u.APICalls != 0 {
		r.Usage.APICalls = u.APICalls
	}
}

func encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request payload: %w", err)
	}
	return raw, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}
