package forms

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"

	"github.com/formgate/formgate/internal/observability"
)

const shareCodeRetries = 5

// SubmittedAnswer is one incoming answer in a submission request.
type SubmittedAnswer struct {
	QuestionID int64
	Value      string
	Values     []string
}

// Service orchestrates form, question and response persistence and composes
// the evaluator, the workflow machine and share-link handling.
type Service struct {
	store      Store
	evaluator  *Evaluator
	workflows  *WorkflowService
	codes      *CodeSource
	publisher  EventPublisher
	instanceID string
	now        func() time.Time
}

// NewService wires the engine together. The publisher may be nil.
func NewService(store Store, evaluator *Evaluator, workflows *WorkflowService, codes *CodeSource, publisher EventPublisher, instanceID string) *Service {
	return &Service{
		store:      store,
		evaluator:  evaluator,
		workflows:  workflows,
		codes:      codes,
		publisher:  publisher,
		instanceID: instanceID,
		now:        time.Now,
	}
}

// Workflows exposes the decision machine to callers.
func (s *Service) Workflows() *WorkflowService {
	return s.workflows
}

// Store exposes the persistence layer to callers.
func (s *Service) Store() Store {
	return s.store
}

// CreateForm persists a new form in Draft and inactive state.
func (s *Service) CreateForm(ctx context.Context, form *Form) error {
	form.Draft = true
	form.Active = false
	if form.Type == "" {
		form.Type = FormTypeRegular
	}
	if form.ApprovalAction == "" {
		form.ApprovalAction = RoleActionNone
	}
	if form.RejectionAction == "" {
		form.RejectionAction = RoleActionNone
	}
	return s.store.CreateForm(ctx, form)
}

// PublishForm moves a form out of Draft.
func (s *Service) PublishForm(ctx context.Context, id int64) (*Form, error) {
	return s.store.UpdateForm(ctx, id, map[string]any{"draft": false})
}

// SetFormActive toggles whether a form accepts submissions.
func (s *Service) SetFormActive(ctx context.Context, id int64, active bool) (*Form, error) {
	return s.store.UpdateForm(ctx, id, map[string]any{"active": active})
}

// DuplicateForm deep-copies a form with its questions, options and condition
// clauses. Parent-question references are remapped through an id-translation
// table built during the copy, so conditions on the duplicate point at the
// duplicated questions. This is the one operation that surfaces a missing
// source form as an error.
func (s *Service) DuplicateForm(ctx context.Context, id int64) (*Form, error) {
	source, err := s.store.FindForm(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("duplicate form %d: %w", id, err)
	}

	questions, err := s.store.QuestionsForForm(ctx, id)
	if err != nil {
		return nil, err
	}

	copyForm := *source
	copyForm.ID = 0
	copyForm.Name = source.Name + " (Copy)"
	copyForm.Draft = true
	copyForm.Active = false
	copyForm.CreatedAt = time.Time{}
	copyForm.UpdatedAt = time.Time{}
	copyForm.Questions = nil
	if err := s.store.CreateForm(ctx, &copyForm); err != nil {
		return nil, err
	}

	idMap := make(map[int64]int64, len(questions))
	for i := range questions {
		question := questions[i]
		oldID := question.ID

		question.ID = 0
		question.FormID = copyForm.ID
		question.CreatedAt = time.Time{}
		question.UpdatedAt = time.Time{}
		question.Options = nil
		question.Conditions = nil
		if err := s.store.CreateQuestion(ctx, &question); err != nil {
			return nil, err
		}
		idMap[oldID] = question.ID

		options, err := s.store.OptionsForQuestion(ctx, oldID)
		if err != nil {
			return nil, err
		}
		for _, option := range options {
			option.ID = 0
			option.QuestionID = question.ID
			if err := s.store.CreateOption(ctx, &option); err != nil {
				return nil, err
			}
		}
	}

	// Second pass: remap parent references and copy condition clauses now
	// that every new question id is known.
	for i := range questions {
		newID := idMap[questions[i].ID]
		updates := make(map[string]any)
		if mapped, ok := idMap[questions[i].ConditionalParentQuestionID]; ok && questions[i].ConditionalParentQuestionID != 0 {
			updates["conditional_parent_question_id"] = mapped
		}
		if mapped, ok := idMap[questions[i].RequiredWhenParentID]; ok && questions[i].RequiredWhenParentID != 0 {
			updates["required_when_parent_id"] = mapped
		}
		if len(updates) > 0 {
			if _, err := s.store.UpdateQuestion(ctx, newID, updates); err != nil {
				return nil, err
			}
		}

		conditions, err := s.store.ConditionsForQuestion(ctx, questions[i].ID)
		if err != nil {
			return nil, err
		}
		for _, condition := range conditions {
			condition.ID = 0
			condition.QuestionID = newID
			condition.CreatedAt = time.Time{}
			if mapped, ok := idMap[condition.ParentQuestionID]; ok && condition.ParentQuestionID != 0 {
				condition.ParentQuestionID = mapped
			}
			if err := s.store.CreateCondition(ctx, &condition); err != nil {
				return nil, err
			}
		}
	}

	return s.store.FindForm(ctx, copyForm.ID)
}

// ShouldShowQuestion reports whether a question is visible to the actor.
func (s *Service) ShouldShowQuestion(ctx context.Context, question *FormQuestion, ec EvalContext) bool {
	return s.evaluator.ShouldShow(ctx, question, ec)
}

// IsQuestionRequired reports whether a question must be answered.
func (s *Service) IsQuestionRequired(ctx context.Context, question *FormQuestion, ec EvalContext) bool {
	return s.evaluator.IsRequired(ctx, question, ec)
}

// ApplyAnswerPiping substitutes {{Q<id>}} tokens using collected answers.
func (s *Service) ApplyAnswerPiping(text string, answers map[int64]AnswerValue, questions []FormQuestion) string {
	return ApplyPiping(text, answers, questions)
}

// SubmitResponse persists a response and its answers, creates the review
// workflow and publishes the submitted event. Identity and source IP are
// dropped entirely when the form is anonymous.
func (s *Service) SubmitResponse(ctx context.Context, form *Form, userID *int64, username *string, sourceIP string, answers []SubmittedAnswer) (*FormResponse, *FormResponseWorkflow, error) {
	response := &FormResponse{
		FormID:      form.ID,
		SubmittedAt: s.now(),
	}
	if !form.AllowAnonymous {
		response.UserID = userID
		response.Username = username
		if sourceIP != "" {
			response.SourceIP = &sourceIP
		}
	}

	if err := s.store.CreateResponse(ctx, response); err != nil {
		return nil, nil, err
	}

	for _, answer := range answers {
		row := &FormAnswer{
			ResponseID: response.ID,
			QuestionID: answer.QuestionID,
		}
		if len(answer.Values) > 0 {
			row.Values = datatypes.JSONSlice[string](answer.Values)
		} else {
			row.Value = answer.Value
		}
		if err := s.store.CreateAnswer(ctx, row); err != nil {
			return nil, nil, err
		}
	}

	workflow, err := s.workflows.CreateWorkflowForResponse(ctx, response.ID)
	if err != nil {
		return nil, nil, err
	}

	observability.SubmissionsTotal.Inc()
	publishEvent(ctx, s.publisher, workflow.StatusToken, ResponseEvent{
		Type:       EventResponseSubmitted,
		FormID:     form.ID,
		ResponseID: response.ID,
		GuildID:    form.GuildID,
		OccurredAt: s.now(),
	})

	return response, workflow, nil
}

// ListResponses returns one page of a form's responses plus the total count.
func (s *Service) ListResponses(ctx context.Context, formID int64, page, perPage int) ([]FormResponse, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}
	return s.store.ResponsesForForm(ctx, formID, (page-1)*perPage, perPage)
}

// CreateShareLink mints an opaque share code for a form on this deployment
// instance, retrying on code collision.
func (s *Service) CreateShareLink(ctx context.Context, formID int64, expiresAt *time.Time) (*FormShareLink, error) {
	if _, err := s.store.FindForm(ctx, formID); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < shareCodeRetries; attempt++ {
		code, err := s.codes.ShareCode()
		if err != nil {
			return nil, err
		}

		link := &FormShareLink{
			Code:       code,
			FormID:     formID,
			InstanceID: s.instanceID,
			Active:     true,
			ExpiresAt:  expiresAt,
		}
		if err := s.store.CreateShareLink(ctx, link); err != nil {
			lastErr = err
			continue
		}
		return link, nil
	}
	return nil, fmt.Errorf("share link: could not mint a unique code: %w", lastErr)
}

// ResolveShareLink resolves an opaque code to its share link. Inactive links
// resolve to nil; an expired link is deactivated on lookup and resolves to nil.
func (s *Service) ResolveShareLink(ctx context.Context, code string) (*FormShareLink, error) {
	link, err := s.store.FindShareLinkByCode(ctx, code)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if !link.Active {
		return nil, nil
	}
	if link.IsExpired(s.now()) {
		link.Active = false
		if err := s.store.SaveShareLink(ctx, link); err != nil {
			log.Printf("forms: deactivating expired share link %s: %v", code, err)
		}
		return nil, nil
	}

	return link, nil
}
