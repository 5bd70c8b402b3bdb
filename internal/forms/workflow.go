package forms

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/formgate/formgate/internal/observability"
	"github.com/formgate/formgate/internal/platform"
)

// DecisionResult reports the outcome of an Approve or Reject call. Failures
// carry a reason and never an error: per the engine's error contract a
// missing record or failed external call degrades to OK=false.
type DecisionResult struct {
	OK         bool
	Reason     string
	InviteCode string
}

func decisionFailure(reason string) DecisionResult {
	return DecisionResult{Reason: reason}
}

// WorkflowService drives responses through Pending -> Approved/Rejected and
// applies form-type-specific side effects on approval.
type WorkflowService struct {
	store     Store
	platform  platform.Client
	roles     *RoleActionApplier
	codes     *CodeSource
	publisher EventPublisher
	now       func() time.Time
}

// NewWorkflowService constructs the workflow machine. The publisher may be
// nil; decision events are then skipped. A nil clock defaults to time.Now.
func NewWorkflowService(store Store, client platform.Client, codes *CodeSource, publisher EventPublisher, now func() time.Time) *WorkflowService {
	if now == nil {
		now = time.Now
	}
	return &WorkflowService{
		store:     store,
		platform:  client,
		roles:     NewRoleActionApplier(client),
		codes:     codes,
		publisher: publisher,
		now:       now,
	}
}

// CreateWorkflowForResponse creates the review workflow for a response,
// minting its status token. Creation is idempotent per response id.
func (s *WorkflowService) CreateWorkflowForResponse(ctx context.Context, responseID int64) (*FormResponseWorkflow, error) {
	token, err := s.codes.StatusToken()
	if err != nil {
		return nil, err
	}

	return s.store.CreateWorkflow(ctx, &FormResponseWorkflow{
		ResponseID:  responseID,
		Status:      StatusPending,
		StatusToken: token,
	})
}

// Approve moves a response to Approved and applies the form type's side
// effects. The status transition is a conditional update, so a concurrent
// decision on the same response applies side effects exactly once.
func (s *WorkflowService) Approve(ctx context.Context, responseID, reviewerID int64, notes string) DecisionResult {
	response, form, result := s.loadDecisionTargets(ctx, responseID)
	if !result.OK {
		return result
	}

	won, err := s.store.DecideWorkflow(ctx, responseID, StatusApproved, reviewerID, notes, s.now())
	if err != nil {
		log.Printf("forms: approve response %d: %v", responseID, err)
		return decisionFailure("storage failure")
	}
	if !won {
		return decisionFailure("response already decided")
	}

	workflow, err := s.store.FindWorkflowByResponse(ctx, responseID)
	if err != nil {
		log.Printf("forms: approve response %d: reload workflow: %v", responseID, err)
		return decisionFailure("storage failure")
	}

	actions := workflow.Actions
	inviteCode := ""

	switch form.Type {
	case FormTypeBanAppeal:
		if response.UserID != nil {
			if err := s.platform.Unban(ctx, form.GuildID, *response.UserID, s.auditReason(form, reviewerID, "approval")); err != nil {
				log.Printf("forms: approve response %d: unban user %d: %v", responseID, *response.UserID, err)
			} else {
				actions |= ActionUnbanned
			}
		}

	case FormTypeJoinApplication:
		invite, err := s.platform.CreateInvite(ctx, form.GuildID, form.SubmissionChannelID,
			time.Duration(form.InviteMaxAgeSeconds)*time.Second, form.InviteMaxUses)
		if err != nil {
			log.Printf("forms: approve response %d: create invite: %v", responseID, err)
		} else {
			actions |= ActionInviteSent
			inviteCode = invite.Code
			workflow.InviteCode = invite.Code
			workflow.InviteExpiresAt = invite.ExpiresAt
		}

		if response.UserID != nil && form.ApprovalAction == RoleActionAdd {
			if roleIDs, err := ParseRoleIDList(form.ApprovalRoleIDs); err == nil && len(roleIDs) > 0 {
				if err := s.store.MergeSavedRoles(ctx, form.GuildID, *response.UserID, roleIDs); err != nil {
					log.Printf("forms: approve response %d: save roles for user %d: %v", responseID, *response.UserID, err)
				} else {
					actions |= ActionRolesPreassigned
				}
			}
		}

	default:
		if form.RequireApproval && form.ApprovalAction != RoleActionNone && form.ApprovalRoleIDs != "" {
			if s.roles.Apply(ctx, form, response.UserID, form.ApprovalRoleIDs, form.ApprovalAction, reviewerID, true) {
				actions |= ActionRolesAssigned
			}
		}
	}

	workflow.Actions = actions
	if err := s.store.SaveWorkflow(ctx, workflow); err != nil {
		log.Printf("forms: approve response %d: persist workflow: %v", responseID, err)
		return decisionFailure("storage failure")
	}

	observability.DecisionsTotal.WithLabelValues("approved").Inc()
	publishEvent(ctx, s.publisher, workflow.StatusToken, ResponseEvent{
		Type:       EventResponseDecided,
		FormID:     form.ID,
		ResponseID: responseID,
		GuildID:    form.GuildID,
		Status:     string(StatusApproved),
		InviteCode: inviteCode,
		OccurredAt: s.now(),
	})

	return DecisionResult{OK: true, InviteCode: inviteCode}
}

// Reject moves a response to Rejected. Only Regular forms with a configured
// rejection role action carry a side effect; no unban or invite logic runs.
func (s *WorkflowService) Reject(ctx context.Context, responseID, reviewerID int64, notes string) DecisionResult {
	response, form, result := s.loadDecisionTargets(ctx, responseID)
	if !result.OK {
		return result
	}

	won, err := s.store.DecideWorkflow(ctx, responseID, StatusRejected, reviewerID, notes, s.now())
	if err != nil {
		log.Printf("forms: reject response %d: %v", responseID, err)
		return decisionFailure("storage failure")
	}
	if !won {
		return decisionFailure("response already decided")
	}

	workflow, err := s.store.FindWorkflowByResponse(ctx, responseID)
	if err != nil {
		log.Printf("forms: reject response %d: reload workflow: %v", responseID, err)
		return decisionFailure("storage failure")
	}

	if form.Type == FormTypeRegular && form.RequireApproval &&
		form.RejectionAction != RoleActionNone && form.RejectionRoleIDs != "" {
		if s.roles.Apply(ctx, form, response.UserID, form.RejectionRoleIDs, form.RejectionAction, reviewerID, false) {
			workflow.Actions |= ActionRolesRemoved
		}
	}

	if err := s.store.SaveWorkflow(ctx, workflow); err != nil {
		log.Printf("forms: reject response %d: persist workflow: %v", responseID, err)
		return decisionFailure("storage failure")
	}

	observability.DecisionsTotal.WithLabelValues("rejected").Inc()
	publishEvent(ctx, s.publisher, workflow.StatusToken, ResponseEvent{
		Type:       EventResponseDecided,
		FormID:     form.ID,
		ResponseID: responseID,
		GuildID:    form.GuildID,
		Status:     string(StatusRejected),
		OccurredAt: s.now(),
	})

	return DecisionResult{OK: true}
}

func (s *WorkflowService) loadDecisionTargets(ctx context.Context, responseID int64) (*FormResponse, *Form, DecisionResult) {
	response, err := s.store.FindResponse(ctx, responseID)
	if err != nil {
		return nil, nil, decisionFailure("response not found")
	}

	form, err := s.store.FindForm(ctx, response.FormID)
	if err != nil {
		return nil, nil, decisionFailure("form not found")
	}

	if _, err := s.store.FindWorkflowByResponse(ctx, responseID); err != nil {
		return nil, nil, decisionFailure("workflow not found")
	}

	return response, form, DecisionResult{OK: true}
}

func (s *WorkflowService) auditReason(form *Form, reviewerID int64, outcome string) string {
	return fmt.Sprintf("Form %q %s by reviewer %d", form.Name, outcome, reviewerID)
}

// CheckFormEligibility gates entry into the submission flow by form type:
// ban appeals need a currently banned actor, join applications need a
// non-member, regular forms need membership unless external users are allowed.
func (s *WorkflowService) CheckFormEligibility(ctx context.Context, form *Form, userID int64) (bool, string) {
	switch form.Type {
	case FormTypeBanAppeal:
		banned, err := s.platform.IsBanned(ctx, form.GuildID, userID)
		if err != nil {
			log.Printf("forms: eligibility for response to form %d: ban lookup: %v", form.ID, err)
			return false, "could not verify ban status"
		}
		if !banned {
			return false, "ban appeals are only open to banned users"
		}
		return true, ""

	case FormTypeJoinApplication:
		if _, err := s.platform.Member(ctx, form.GuildID, userID); err == nil {
			return false, "you are already a member of this server"
		}
		return true, ""

	default:
		if form.AllowExternal {
			return true, ""
		}
		if _, err := s.platform.Member(ctx, form.GuildID, userID); err != nil {
			return false, "this form is only open to server members"
		}
		return true, ""
	}
}

// FormAcceptsResponses checks the admission rules that hold regardless of
// who is submitting: the form is active and published, not expired, and has
// not reached its response cap. Returns the blocking reason when closed.
func (s *WorkflowService) FormAcceptsResponses(ctx context.Context, form *Form) (bool, string) {
	if !form.Active || form.Draft {
		return false, "this form is not accepting responses"
	}
	if form.IsExpired(s.now()) {
		return false, "this form has expired"
	}

	if form.MaxResponses > 0 {
		count, err := s.store.CountResponses(ctx, form.ID)
		if err != nil {
			log.Printf("forms: admission for form %d: count responses: %v", form.ID, err)
			return false, "could not verify response count"
		}
		if count >= int64(form.MaxResponses) {
			return false, "this form has reached its response limit"
		}
	}

	return true, ""
}

// CanUserSubmit checks the full admission rules for an identified submitter:
// the form accepts responses, the required role is held, and no repeat
// submission exists when multiples are disallowed.
func (s *WorkflowService) CanUserSubmit(ctx context.Context, formID, userID int64) (bool, string) {
	form, err := s.store.FindForm(ctx, formID)
	if err != nil {
		return false, "form not found"
	}

	if ok, reason := s.FormAcceptsResponses(ctx, form); !ok {
		return false, reason
	}

	if form.RequiredRoleID != 0 {
		member, err := s.platform.Member(ctx, form.GuildID, userID)
		if err != nil || !member.HasRole(form.RequiredRoleID) {
			return false, "you are missing the role required to submit"
		}
	}

	if !form.AllowMultiple {
		responded, err := s.store.HasUserResponded(ctx, formID, userID)
		if err != nil {
			log.Printf("forms: admission for form %d: prior response lookup: %v", formID, err)
			return false, "could not verify prior submissions"
		}
		if responded {
			return false, "you have already submitted a response"
		}
	}

	return true, ""
}
