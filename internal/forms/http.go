package forms

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formgate/formgate/internal/httpx"
)

// Handler exposes the engine over HTTP for dashboards and bot fronts.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler backed by the provided service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mount registers the routes on the provided router under the supplied base
// path, plus the public share-link and status-token lookups at the root.
func (h *Handler) Mount(router chi.Router, basePath string) {
	path := strings.TrimSpace(basePath)
	if path == "" {
		path = "/forms"
	}

	router.Route(path, func(r chi.Router) {
		r.Get("/", h.listForms)
		r.Post("/", h.createForm)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getForm)
			r.Put("/", h.updateForm)
			r.Delete("/", h.deleteForm)
			r.Post("/publish", h.publishForm)
			r.Post("/duplicate", h.duplicateForm)

			r.Get("/questions", h.listQuestions)
			r.Post("/questions", h.createQuestion)

			r.Post("/submit", h.submitResponse)
			r.Get("/responses", h.listResponses)
			r.Post("/share-links", h.createShareLink)
		})

		r.Route("/questions/{questionID}", func(r chi.Router) {
			r.Put("/", h.updateQuestion)
			r.Delete("/", h.deleteQuestion)
			r.Post("/options", h.createOption)
			r.Post("/conditions", h.createCondition)
		})

		r.Route("/responses/{responseID}", func(r chi.Router) {
			r.Post("/approve", h.approveResponse)
			r.Post("/reject", h.rejectResponse)
		})
	})

	router.Get("/s/{code}", h.resolveShareLink)
	router.Get("/status/{token}", h.workflowStatus)
}

type createFormRequest struct {
	GuildID             int64      `json:"guildId"`
	Name                string     `json:"name"`
	Description         string     `json:"description"`
	Type                FormType   `json:"type"`
	SubmissionChannelID int64      `json:"submissionChannelId"`
	AllowMultiple       bool       `json:"allowMultiple"`
	AllowAnonymous      bool       `json:"allowAnonymous"`
	RequireApproval     bool       `json:"requireApproval"`
	AllowExternal       bool       `json:"allowExternal"`
	MaxResponses        int        `json:"maxResponses"`
	ExpiresAt           *time.Time `json:"expiresAt"`
	RequiredRoleID      int64      `json:"requiredRoleId"`
}

type submitRequest struct {
	UserID   *int64  `json:"userId"`
	Username *string `json:"username"`
	Answers  []struct {
		QuestionID int64    `json:"questionId"`
		Value      string   `json:"value"`
		Values     []string `json:"values"`
	} `json:"answers"`
}

type decisionRequest struct {
	ReviewerID int64  `json:"reviewerId"`
	Notes      string `json:"notes"`
}

func (h *Handler) listForms(w http.ResponseWriter, r *http.Request) {
	guildID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("guildId")), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "guildId query parameter is required")
		return
	}

	forms, err := h.service.Store().ListForms(r.Context(), guildID)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]map[string]any, 0, len(forms))
	for _, entity := range forms {
		items = append(items, entity.ToDTO())
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) createForm(w http.ResponseWriter, r *http.Request) {
	var payload createFormRequest
	if err := decodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		httpx.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if payload.GuildID == 0 {
		httpx.Error(w, http.StatusBadRequest, "guildId is required")
		return
	}

	entity := &Form{
		GuildID:             payload.GuildID,
		Name:                name,
		Description:         strings.TrimSpace(payload.Description),
		Type:                payload.Type,
		SubmissionChannelID: payload.SubmissionChannelID,
		AllowMultiple:       payload.AllowMultiple,
		AllowAnonymous:      payload.AllowAnonymous,
		RequireApproval:     payload.RequireApproval,
		AllowExternal:       payload.AllowExternal,
		MaxResponses:        payload.MaxResponses,
		ExpiresAt:           payload.ExpiresAt,
		RequiredRoleID:      payload.RequiredRoleID,
	}

	if err := h.service.CreateForm(r.Context(), entity); err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": entity.ToDTO()})
}

func (h *Handler) getForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	entity, err := h.service.Store().FindForm(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": entity.ToDTO()})
}

func (h *Handler) updateForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var updates map[string]any
	if err := decodeJSON(r, &updates); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(updates) == 0 {
		httpx.Error(w, http.StatusBadRequest, "no updates provided")
		return
	}

	entity, err := h.service.Store().UpdateForm(r.Context(), id, updates)
	if err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": entity.ToDTO()})
}

func (h *Handler) deleteForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Store().DeleteForm(r.Context(), id); err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publishForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	entity, err := h.service.PublishForm(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": entity.ToDTO()})
}

func (h *Handler) duplicateForm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	entity, err := h.service.DuplicateForm(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": entity.ToDTO()})
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	questions, err := h.service.Store().QuestionsForForm(r.Context(), id)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": questions})
}

func (h *Handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.service.Store().FindForm(r.Context(), id); err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	var question FormQuestion
	if err := decodeJSON(r, &question); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(question.Text) == "" {
		httpx.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	question.ID = 0
	question.FormID = id
	if question.ConditionalType == "" {
		question.ConditionalType = ConditionalQuestion
	}

	if err := h.service.Store().CreateQuestion(r.Context(), &question); err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": question})
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	var updates map[string]any
	if err := decodeJSON(r, &updates); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(updates) == 0 {
		httpx.Error(w, http.StatusBadRequest, "no updates provided")
		return
	}

	entity, err := h.service.Store().UpdateQuestion(r.Context(), id, updates)
	if err != nil {
		respondStoreError(w, err, "question not found")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": entity})
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	if err := h.service.Store().DeleteQuestion(r.Context(), id); err != nil {
		respondStoreError(w, err, "question not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createOption(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	var option FormQuestionOption
	if err := decodeJSON(r, &option); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(option.Label) == "" {
		httpx.Error(w, http.StatusBadRequest, "label is required")
		return
	}

	option.ID = 0
	option.QuestionID = id
	if err := h.service.Store().CreateOption(r.Context(), &option); err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": option})
}

func (h *Handler) createCondition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}

	var condition FormQuestionCondition
	if err := decodeJSON(r, &condition); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if condition.Type == "" || condition.Type == ConditionalMultiple {
		httpx.Error(w, http.StatusBadRequest, "a single-condition type is required")
		return
	}

	condition.ID = 0
	condition.QuestionID = id
	if condition.Logic == "" {
		condition.Logic = LogicAnd
	}

	if err := h.service.Store().CreateCondition(r.Context(), &condition); err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": condition})
}

func (h *Handler) submitResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	form, err := h.service.Store().FindForm(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	var payload submitRequest
	if err := decodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	// Form-level admission applies to everyone; only the identity-dependent
	// checks are skipped for anonymous submitters.
	if open, reason := h.service.Workflows().FormAcceptsResponses(r.Context(), form); !open {
		httpx.Error(w, http.StatusForbidden, reason)
		return
	}

	if payload.UserID != nil {
		if allowed, reason := h.service.Workflows().CanUserSubmit(r.Context(), form.ID, *payload.UserID); !allowed {
			httpx.Error(w, http.StatusForbidden, reason)
			return
		}
		if eligible, reason := h.service.Workflows().CheckFormEligibility(r.Context(), form, *payload.UserID); !eligible {
			httpx.Error(w, http.StatusForbidden, reason)
			return
		}
	} else if !form.AllowAnonymous && !form.AllowExternal {
		httpx.Error(w, http.StatusForbidden, "this form requires an identified submitter")
		return
	}

	answers := make([]SubmittedAnswer, 0, len(payload.Answers))
	for _, answer := range payload.Answers {
		answers = append(answers, SubmittedAnswer{
			QuestionID: answer.QuestionID,
			Value:      answer.Value,
			Values:     answer.Values,
		})
	}

	response, workflow, err := h.service.SubmitResponse(r.Context(), form, payload.UserID, payload.Username, clientIP(r), answers)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"responseId":  response.ID,
		"statusToken": workflow.StatusToken,
	}})
}

func (h *Handler) listResponses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))

	responses, total, err := h.service.ListResponses(r.Context(), id, page, perPage)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":  responses,
		"total": total,
	})
}

func (h *Handler) approveResponse(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *Handler) rejectResponse(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id, ok := pathID(w, r, "responseID")
	if !ok {
		return
	}

	var payload decisionRequest
	if err := decodeJSON(r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.ReviewerID == 0 {
		httpx.Error(w, http.StatusBadRequest, "reviewerId is required")
		return
	}

	var result DecisionResult
	if approve {
		result = h.service.Workflows().Approve(r.Context(), id, payload.ReviewerID, payload.Notes)
	} else {
		result = h.service.Workflows().Reject(r.Context(), id, payload.ReviewerID, payload.Notes)
	}

	if !result.OK {
		httpx.Error(w, http.StatusConflict, result.Reason)
		return
	}

	data := map[string]any{"ok": true}
	if result.InviteCode != "" {
		data["inviteCode"] = result.InviteCode
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *Handler) createShareLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := decodeJSON(r, &payload); err != nil && !errors.Is(err, errEmptyBody) {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	link, err := h.service.CreateShareLink(r.Context(), id, payload.ExpiresAt)
	if err != nil {
		respondStoreError(w, err, "form not found")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"data": link})
}

func (h *Handler) resolveShareLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	link, err := h.service.ResolveShareLink(r.Context(), code)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if link == nil {
		httpx.Error(w, http.StatusNotFound, "share link not found")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": link})
}

func (h *Handler) workflowStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	workflow, err := h.service.Store().FindWorkflowByToken(r.Context(), token)
	if err != nil {
		respondStoreError(w, err, "status token not found")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": workflow.ToDTO()})
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func respondStoreError(w http.ResponseWriter, err error, notFoundMessage string) {
	if IsNotFound(err) {
		httpx.Error(w, http.StatusNotFound, notFoundMessage)
		return
	}
	httpx.Error(w, http.StatusInternalServerError, err.Error())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
