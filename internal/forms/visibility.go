package forms

import "context"

// ShouldShow reports whether a question is visible to the actor given the
// answers collected so far. A question-based condition without a configured
// parent applies no gating at all.
func (e *Evaluator) ShouldShow(ctx context.Context, q *FormQuestion, ec EvalContext) bool {
	switch q.ConditionalType {
	case ConditionalQuestion:
		if q.ConditionalParentQuestionID == 0 {
			return true
		}
		return e.evaluateSpec(ctx, q.conditionSpec(), ec)
	case ConditionalMultiple:
		return e.evaluateMultiple(ctx, q.ID, ec)
	case ConditionalRole, ConditionalTenure, ConditionalBoost, ConditionalPermission:
		return e.evaluateSpec(ctx, q.conditionSpec(), ec)
	default:
		return true
	}
}

// IsRequired reports whether a question must be answered. The base Required
// flag wins; otherwise a configured required-when triple is evaluated exactly
// like a question-based condition, so an unanswered parent means optional.
// Requiredness is independent of visibility.
func (e *Evaluator) IsRequired(ctx context.Context, q *FormQuestion, ec EvalContext) bool {
	if q.Required {
		return true
	}

	if q.RequiredWhenParentID == 0 {
		return false
	}

	return e.evaluateQuestion(conditionSpec{
		Type:             ConditionalQuestion,
		ParentQuestionID: q.RequiredWhenParentID,
		Operator:         q.RequiredWhenOperator,
		Value:            q.RequiredWhenValue,
	}, ec)
}
