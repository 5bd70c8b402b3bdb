package forms

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/formgate/formgate/internal/observability"
	"github.com/formgate/formgate/internal/platform"
)

// AnswerValue is a recorded answer, either a single text value or an
// ordered multi-select list.
type AnswerValue struct {
	Value  string
	Values []string
}

// Render returns the answer's display form; multi-values join with ", ".
func (a AnswerValue) Render() string {
	if len(a.Values) > 0 {
		return strings.Join(a.Values, ", ")
	}
	return a.Value
}

// EvalContext carries the actor identity and the answers collected so far.
type EvalContext struct {
	GuildID int64
	UserID  int64
	Answers map[int64]AnswerValue
}

// ConditionStore loads the grouped clauses of a ConditionalMultiple question.
type ConditionStore interface {
	ConditionsForQuestion(ctx context.Context, questionID int64) ([]FormQuestionCondition, error)
}

// Evaluator decides question visibility and requiredness from conditional
// rules. It is read-only: guild lookups and clause loads never mutate state.
//
// Several branches deliberately fail open (evaluate true) when configuration
// is absent or malformed; the permissive default keeps a misconfigured form
// usable rather than invisibly hiding questions.
type Evaluator struct {
	platform platform.Client
	store    ConditionStore
	now      func() time.Time
}

// NewEvaluator constructs an evaluator. A nil clock defaults to time.Now.
func NewEvaluator(client platform.Client, store ConditionStore, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{platform: client, store: store, now: now}
}

// conditionSpec is the parameter set shared by a question's inline condition
// fields and a FormQuestionCondition clause.
type conditionSpec struct {
	Type ConditionalType

	ParentQuestionID int64
	Operator         Operator
	Value            string

	RoleIDs   string
	RoleLogic RoleLogic

	MinServerDays     int
	MinAccountAgeDays int

	RequiresBoost bool
	RequiresNitro bool

	RequiredPermissions uint64
}

func (q *FormQuestion) conditionSpec() conditionSpec {
	return conditionSpec{
		Type:                q.ConditionalType,
		ParentQuestionID:    q.ConditionalParentQuestionID,
		Operator:            q.ConditionalOperator,
		Value:               q.ConditionalValue,
		RoleIDs:             q.ConditionalRoleIDs,
		RoleLogic:           q.ConditionalRoleLogic,
		MinServerDays:       q.MinServerDays,
		MinAccountAgeDays:   q.MinAccountAgeDays,
		RequiresBoost:       q.RequiresBoost,
		RequiresNitro:       q.RequiresNitro,
		RequiredPermissions: q.RequiredPermissions,
	}
}

func (c *FormQuestionCondition) conditionSpec() conditionSpec {
	return conditionSpec{
		Type:                c.Type,
		ParentQuestionID:    c.ParentQuestionID,
		Operator:            c.Operator,
		Value:               c.Value,
		RoleIDs:             c.RoleIDs,
		RoleLogic:           c.RoleLogic,
		MinServerDays:       c.MinServerDays,
		MinAccountAgeDays:   c.MinAccountAgeDays,
		RequiresBoost:       c.RequiresBoost,
		RequiresNitro:       c.RequiresNitro,
		RequiredPermissions: c.RequiredPermissions,
	}
}

func (e *Evaluator) evaluateSpec(ctx context.Context, spec conditionSpec, ec EvalContext) bool {
	observability.ConditionEvaluationsTotal.WithLabelValues(string(spec.Type)).Inc()

	switch spec.Type {
	case ConditionalQuestion:
		return e.evaluateQuestion(spec, ec)
	case ConditionalRole:
		return e.evaluateRole(ctx, spec, ec)
	case ConditionalTenure:
		return e.evaluateTenure(ctx, spec, ec)
	case ConditionalBoost:
		return e.evaluateBoost(ctx, spec, ec)
	case ConditionalPermission:
		return e.evaluatePermission(ctx, spec, ec)
	default:
		return true
	}
}

// evaluateQuestion gates on a parent question's answer. An unanswered parent
// can never satisfy the condition.
func (e *Evaluator) evaluateQuestion(spec conditionSpec, ec EvalContext) bool {
	answer, ok := ec.Answers[spec.ParentQuestionID]
	if !ok {
		return false
	}

	got := answer.Render()
	want := spec.Value

	switch spec.Operator {
	case OperatorEquals:
		return strings.EqualFold(got, want)
	case OperatorNotEquals:
		return !strings.EqualFold(got, want)
	case OperatorContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(want))
	case OperatorGreaterThan:
		gotN, err1 := strconv.ParseFloat(strings.TrimSpace(got), 64)
		wantN, err2 := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return gotN > wantN
	case OperatorLessThan:
		gotN, err1 := strconv.ParseFloat(strings.TrimSpace(got), 64)
		wantN, err2 := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return gotN < wantN
	default:
		// Unknown operators fail open.
		return true
	}
}

func (e *Evaluator) evaluateRole(ctx context.Context, spec conditionSpec, ec EvalContext) bool {
	if strings.TrimSpace(spec.RoleIDs) == "" {
		return true
	}

	member, err := e.platform.Member(ctx, ec.GuildID, ec.UserID)
	if err != nil {
		return false
	}

	roleIDs, err := ParseRoleIDList(spec.RoleIDs)
	if err != nil {
		// Malformed role lists fail open.
		return true
	}
	if len(roleIDs) == 0 {
		return true
	}

	matches := 0
	for _, id := range roleIDs {
		if member.HasRole(id) {
			matches++
		}
	}

	switch spec.RoleLogic {
	case RoleLogicAny:
		return matches > 0
	case RoleLogicAll:
		return matches == len(roleIDs)
	case RoleLogicNone:
		return matches == 0
	default:
		return true
	}
}

func (e *Evaluator) evaluateTenure(ctx context.Context, spec conditionSpec, ec EvalContext) bool {
	member, err := e.platform.Member(ctx, ec.GuildID, ec.UserID)
	if err != nil {
		return false
	}

	now := e.now()

	if spec.MinServerDays > 0 {
		if member.JoinedAt == nil {
			return false
		}
		if int(now.Sub(*member.JoinedAt).Hours()/24) < spec.MinServerDays {
			return false
		}
	}

	if spec.MinAccountAgeDays > 0 {
		if int(now.Sub(member.AccountCreatedAt).Hours()/24) < spec.MinAccountAgeDays {
			return false
		}
	}

	return true
}

func (e *Evaluator) evaluateBoost(ctx context.Context, spec conditionSpec, ec EvalContext) bool {
	member, err := e.platform.Member(ctx, ec.GuildID, ec.UserID)
	if err != nil {
		return false
	}

	if spec.RequiresBoost && member.BoostingSince == nil {
		return false
	}

	if spec.RequiresNitro {
		// True subscription tier is not observable; approximate via a
		// custom per-guild avatar or any boosting history.
		if !member.HasGuildAvatar && !member.EverBoosted && member.BoostingSince == nil {
			return false
		}
	}

	return true
}

func (e *Evaluator) evaluatePermission(ctx context.Context, spec conditionSpec, ec EvalContext) bool {
	if spec.RequiredPermissions == 0 {
		return true
	}

	member, err := e.platform.Member(ctx, ec.GuildID, ec.UserID)
	if err != nil {
		return false
	}

	return member.HasPermissions(spec.RequiredPermissions)
}

// evaluateMultiple loads the question's clauses and combines them: within a
// group left-to-right via each clause's own Logic (a failing AND clause
// short-circuits the group), across groups with inclusive OR.
func (e *Evaluator) evaluateMultiple(ctx context.Context, questionID int64, ec EvalContext) bool {
	if e.store == nil {
		return true
	}

	clauses, err := e.store.ConditionsForQuestion(ctx, questionID)
	if err != nil {
		log.Printf("forms: loading conditions for question %d: %v", questionID, err)
		return true
	}
	if len(clauses) == 0 {
		return true
	}

	groups := make(map[int][]FormQuestionCondition)
	order := make([]int, 0)
	for _, clause := range clauses {
		if _, seen := groups[clause.ConditionGroup]; !seen {
			order = append(order, clause.ConditionGroup)
		}
		groups[clause.ConditionGroup] = append(groups[clause.ConditionGroup], clause)
	}

	for _, group := range order {
		if e.evaluateGroup(ctx, groups[group], ec) {
			return true
		}
	}
	return false
}

func (e *Evaluator) evaluateGroup(ctx context.Context, clauses []FormQuestionCondition, ec EvalContext) bool {
	result := false
	for i, clause := range clauses {
		value := e.evaluateSpec(ctx, clause.conditionSpec(), ec)
		if clause.Logic == LogicOr {
			result = result || value
			continue
		}
		if !value {
			return false
		}
		if i == 0 {
			result = value
		}
	}
	return result
}

// ParseRoleIDList parses a comma-separated list of numeric role ids.
func ParseRoleIDList(csv string) ([]int64, error) {
	parts := strings.Split(csv, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
