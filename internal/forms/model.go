package forms

import (
	"time"

	"gorm.io/datatypes"
)

// FormType selects the approval side effects a form triggers.
type FormType string

const (
	// FormTypeRegular is a plain survey/application with optional role actions.
	FormTypeRegular FormType = "regular"
	// FormTypeBanAppeal unbans the submitter on approval.
	FormTypeBanAppeal FormType = "ban_appeal"
	// FormTypeJoinApplication generates an invite and pre-assigns roles on approval.
	FormTypeJoinApplication FormType = "join_application"
)

// ConditionalType selects which visibility rule applies to a question.
type ConditionalType string

const (
	ConditionalQuestion   ConditionalType = "question_based"
	ConditionalRole       ConditionalType = "discord_role"
	ConditionalTenure     ConditionalType = "server_tenure"
	ConditionalBoost      ConditionalType = "boost_status"
	ConditionalPermission ConditionalType = "permission"
	ConditionalMultiple   ConditionalType = "multiple_conditions"
)

// Operator compares a recorded answer against an expected value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
)

// RoleLogic selects how a configured role list is matched against a member.
type RoleLogic string

const (
	RoleLogicAny  RoleLogic = "any"
	RoleLogicAll  RoleLogic = "all"
	RoleLogicNone RoleLogic = "none"
)

// LogicType joins a clause with the running result of its condition group.
type LogicType string

const (
	LogicAnd LogicType = "and"
	LogicOr  LogicType = "or"
)

// RoleActionType selects the role mutation applied on a decision outcome.
type RoleActionType string

const (
	RoleActionNone   RoleActionType = "none"
	RoleActionAdd    RoleActionType = "add_roles"
	RoleActionRemove RoleActionType = "remove_roles"
)

// ResponseStatus tracks a response through review.
type ResponseStatus string

const (
	StatusPending     ResponseStatus = "pending"
	StatusUnderReview ResponseStatus = "under_review"
	StatusApproved    ResponseStatus = "approved"
	StatusRejected    ResponseStatus = "rejected"
)

// WorkflowAction records which side effects a decision applied.
type WorkflowAction int

const (
	ActionNone             WorkflowAction = 0
	ActionUnbanned         WorkflowAction = 1 << 0
	ActionInviteSent       WorkflowAction = 1 << 1
	ActionRolesPreassigned WorkflowAction = 1 << 2
	ActionRolesAssigned    WorkflowAction = 1 << 3
	ActionRolesRemoved     WorkflowAction = 1 << 4
)

// Has reports whether the flag set contains every bit of the argument.
func (a WorkflowAction) Has(flag WorkflowAction) bool {
	return a&flag == flag
}

// Form is a configurable survey/application owned by a guild.
type Form struct {
	ID          int64  `json:"id" gorm:"primaryKey"`
	GuildID     int64  `json:"guildId" gorm:"index;not null"`
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`

	SubmissionChannelID int64 `json:"submissionChannelId"`

	Active          bool `json:"active" gorm:"index"`
	Draft           bool `json:"draft"`
	AllowMultiple   bool `json:"allowMultiple"`
	AllowAnonymous  bool `json:"allowAnonymous"`
	RequireApproval bool `json:"requireApproval"`
	AllowExternal   bool `json:"allowExternal"`
	RequireCaptcha  bool `json:"requireCaptcha"`

	MaxResponses   int        `json:"maxResponses"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	RequiredRoleID int64      `json:"requiredRoleId"`

	Type FormType `json:"type" gorm:"type:varchar(32);default:'regular'"`

	ApprovalRoleIDs  string         `json:"approvalRoleIds"`
	ApprovalAction   RoleActionType `json:"approvalAction" gorm:"type:varchar(16);default:'none'"`
	RejectionRoleIDs string         `json:"rejectionRoleIds"`
	RejectionAction  RoleActionType `json:"rejectionAction" gorm:"type:varchar(16);default:'none'"`

	InviteMaxAgeSeconds int `json:"inviteMaxAgeSeconds"`
	InviteMaxUses       int `json:"inviteMaxUses"`

	SuccessMessage string `json:"successMessage"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Questions []FormQuestion `json:"-" gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE"`
}

// FormQuestion is one prompt within a form. Exactly one ConditionalType is
// active; ConditionalMultiple defers to FormQuestionCondition rows.
type FormQuestion struct {
	ID       int64 `json:"id" gorm:"primaryKey"`
	FormID   int64 `json:"formId" gorm:"index;not null"`
	Position int   `json:"position"`

	Text        string `json:"text" gorm:"not null"`
	InputType   string `json:"inputType" gorm:"type:varchar(32);default:'text'"`
	Required    bool   `json:"required"`
	MinLength   int    `json:"minLength"`
	MaxLength   int    `json:"maxLength"`
	Placeholder string `json:"placeholder"`

	ConditionalType ConditionalType `json:"conditionalType" gorm:"type:varchar(32);default:'question_based'"`

	ConditionalParentQuestionID int64    `json:"conditionalParentQuestionId"`
	ConditionalOperator         Operator `json:"conditionalOperator" gorm:"type:varchar(16)"`
	ConditionalValue            string   `json:"conditionalValue"`

	ConditionalRoleIDs   string    `json:"conditionalRoleIds"`
	ConditionalRoleLogic RoleLogic `json:"conditionalRoleLogic" gorm:"type:varchar(8)"`

	MinServerDays     int `json:"minServerDays"`
	MinAccountAgeDays int `json:"minAccountAgeDays"`

	RequiresBoost bool `json:"requiresBoost"`
	RequiresNitro bool `json:"requiresNitro"`

	RequiredPermissions uint64 `json:"requiredPermissions"`

	// Required-when is orthogonal to visibility: the question becomes
	// required when the parent answer matches, even if Required is false.
	RequiredWhenParentID int64    `json:"requiredWhenParentId"`
	RequiredWhenOperator Operator `json:"requiredWhenOperator" gorm:"type:varchar(16)"`
	RequiredWhenValue    string   `json:"requiredWhenValue"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Options    []FormQuestionOption    `json:"-" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	Conditions []FormQuestionCondition `json:"-" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// FormQuestionCondition is one clause of a ConditionalMultiple question.
// Clauses sharing a ConditionGroup combine left-to-right via each clause's
// own Logic; groups combine with inclusive OR.
type FormQuestionCondition struct {
	ID         int64 `json:"id" gorm:"primaryKey"`
	QuestionID int64 `json:"questionId" gorm:"index;not null"`

	ConditionGroup int       `json:"conditionGroup"`
	Position       int       `json:"position"`
	Logic          LogicType `json:"logic" gorm:"type:varchar(4);default:'and'"`

	Type ConditionalType `json:"type" gorm:"type:varchar(32);not null"`

	ParentQuestionID int64    `json:"parentQuestionId"`
	Operator         Operator `json:"operator" gorm:"type:varchar(16)"`
	Value            string   `json:"value"`

	RoleIDs   string    `json:"roleIds"`
	RoleLogic RoleLogic `json:"roleLogic" gorm:"type:varchar(8)"`

	MinServerDays     int `json:"minServerDays"`
	MinAccountAgeDays int `json:"minAccountAgeDays"`

	RequiresBoost bool `json:"requiresBoost"`
	RequiresNitro bool `json:"requiresNitro"`

	RequiredPermissions uint64 `json:"requiredPermissions"`

	CreatedAt time.Time `json:"createdAt"`
}

// FormQuestionOption is a selectable choice for choice-type questions.
type FormQuestionOption struct {
	ID         int64  `json:"id" gorm:"primaryKey"`
	QuestionID int64  `json:"questionId" gorm:"index;not null"`
	Label      string `json:"label" gorm:"not null"`
	Value      string `json:"value"`
	Position   int    `json:"position"`
}

// FormResponse is one submission instance. Identity fields are nil for
// anonymous submissions and the source IP is never stored in that case.
type FormResponse struct {
	ID     int64 `json:"id" gorm:"primaryKey"`
	FormID int64 `json:"formId" gorm:"index;not null"`

	UserID   *int64  `json:"userId" gorm:"index"`
	Username *string `json:"username"`

	SubmittedAt time.Time `json:"submittedAt"`
	SourceIP    *string   `json:"-"`

	// MessageID links the logged-submission message once the notifier posted it.
	MessageID *int64 `json:"messageId"`

	Answers []FormAnswer `json:"-" gorm:"foreignKey:ResponseID;constraint:OnDelete:CASCADE"`
}

// FormAnswer is one answer to one question within one response. Value holds
// single-text answers; Values holds ordered multi-select answers.
type FormAnswer struct {
	ID         int64 `json:"id" gorm:"primaryKey"`
	ResponseID int64 `json:"responseId" gorm:"index;not null"`
	QuestionID int64 `json:"questionId" gorm:"index;not null"`

	Value  string                      `json:"value"`
	Values datatypes.JSONSlice[string] `json:"values"`

	CreatedAt time.Time `json:"createdAt"`
}

// FormResponseWorkflow is the review state attached 1:1 to a response.
type FormResponseWorkflow struct {
	ID         int64 `json:"id" gorm:"primaryKey"`
	ResponseID int64 `json:"responseId" gorm:"uniqueIndex;not null"`

	Status  ResponseStatus `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	Actions WorkflowAction `json:"actions"`

	ReviewerID *int64     `json:"reviewerId"`
	ReviewedAt *time.Time `json:"reviewedAt"`
	Notes      string     `json:"notes"`

	// StatusToken is an opaque URL-safe token for unauthenticated status lookups.
	StatusToken string `json:"-" gorm:"uniqueIndex;type:varchar(64)"`

	InviteCode      string     `json:"inviteCode"`
	InviteExpiresAt *time.Time `json:"inviteExpiresAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FormShareLink maps an opaque code to a form on a specific deployment instance.
type FormShareLink struct {
	ID         int64      `json:"id" gorm:"primaryKey"`
	Code       string     `json:"code" gorm:"uniqueIndex;type:varchar(16);not null"`
	FormID     int64      `json:"formId" gorm:"index;not null"`
	InstanceID string     `json:"instanceId" gorm:"type:varchar(64)"`
	Active     bool       `json:"active"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// SavedRoles persists role ids to apply once a not-yet-joined user enters the
// guild. A separate restoration mechanism consumes these rows.
type SavedRoles struct {
	ID      int64                      `json:"id" gorm:"primaryKey"`
	GuildID int64                      `json:"guildId" gorm:"uniqueIndex:idx_saved_roles_guild_user;not null"`
	UserID  int64                      `json:"userId" gorm:"uniqueIndex:idx_saved_roles_guild_user;not null"`
	RoleIDs datatypes.JSONSlice[int64] `json:"roleIds"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Models lists every entity for schema migration.
func Models() []any {
	return []any{
		&Form{},
		&FormQuestion{},
		&FormQuestionCondition{},
		&FormQuestionOption{},
		&FormResponse{},
		&FormAnswer{},
		&FormResponseWorkflow{},
		&FormShareLink{},
		&SavedRoles{},
	}
}

// IsExpired reports whether the form's expiry timestamp has passed.
func (f *Form) IsExpired(now time.Time) bool {
	return f.ExpiresAt != nil && now.After(*f.ExpiresAt)
}

// Decided reports whether the workflow reached a terminal state.
func (w *FormResponseWorkflow) Decided() bool {
	return w.Status == StatusApproved || w.Status == StatusRejected
}

// IsExpired reports whether the share link's expiry timestamp has passed.
func (l *FormShareLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// ToDTO converts a form into a response payload.
func (f Form) ToDTO() map[string]any {
	return map[string]any{
		"id":                  f.ID,
		"guildId":             f.GuildID,
		"name":                f.Name,
		"description":         f.Description,
		"submissionChannelId": f.SubmissionChannelID,
		"type":                f.Type,
		"active":              f.Active,
		"draft":               f.Draft,
		"allowMultiple":       f.AllowMultiple,
		"allowAnonymous":      f.AllowAnonymous,
		"requireApproval":     f.RequireApproval,
		"allowExternal":       f.AllowExternal,
		"requireCaptcha":      f.RequireCaptcha,
		"maxResponses":        f.MaxResponses,
		"expiresAt":           f.ExpiresAt,
		"requiredRoleId":      f.RequiredRoleID,
		"createdAt":           f.CreatedAt,
		"updatedAt":           f.UpdatedAt,
	}
}

// ToDTO converts a workflow into a status payload safe for token lookups.
func (w FormResponseWorkflow) ToDTO() map[string]any {
	payload := map[string]any{
		"responseId": w.ResponseID,
		"status":     w.Status,
		"createdAt":  w.CreatedAt,
		"updatedAt":  w.UpdatedAt,
	}
	if w.ReviewedAt != nil {
		payload["reviewedAt"] = w.ReviewedAt
		payload["notes"] = w.Notes
	}
	if w.InviteCode != "" {
		payload["inviteCode"] = w.InviteCode
		payload["inviteExpiresAt"] = w.InviteExpiresAt
	}
	return payload
}
