package forms

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store defines the persistence contract for the forms engine.
type Store interface {
	CreateForm(ctx context.Context, form *Form) error
	FindForm(ctx context.Context, id int64) (*Form, error)
	UpdateForm(ctx context.Context, id int64, updates map[string]any) (*Form, error)
	DeleteForm(ctx context.Context, id int64) error
	ListForms(ctx context.Context, guildID int64) ([]Form, error)

	CreateQuestion(ctx context.Context, question *FormQuestion) error
	FindQuestion(ctx context.Context, id int64) (*FormQuestion, error)
	UpdateQuestion(ctx context.Context, id int64, updates map[string]any) (*FormQuestion, error)
	DeleteQuestion(ctx context.Context, id int64) error
	QuestionsForForm(ctx context.Context, formID int64) ([]FormQuestion, error)

	CreateOption(ctx context.Context, option *FormQuestionOption) error
	OptionsForQuestion(ctx context.Context, questionID int64) ([]FormQuestionOption, error)
	DeleteOption(ctx context.Context, id int64) error

	CreateCondition(ctx context.Context, condition *FormQuestionCondition) error
	ConditionsForQuestion(ctx context.Context, questionID int64) ([]FormQuestionCondition, error)
	DeleteCondition(ctx context.Context, id int64) error

	CreateResponse(ctx context.Context, response *FormResponse) error
	FindResponse(ctx context.Context, id int64) (*FormResponse, error)
	ResponsesForForm(ctx context.Context, formID int64, offset, limit int) ([]FormResponse, int64, error)
	CountResponses(ctx context.Context, formID int64) (int64, error)
	HasUserResponded(ctx context.Context, formID, userID int64) (bool, error)
	SetResponseMessageID(ctx context.Context, responseID, messageID int64) error

	CreateAnswer(ctx context.Context, answer *FormAnswer) error
	AnswersForResponse(ctx context.Context, responseID int64) ([]FormAnswer, error)

	CreateWorkflow(ctx context.Context, workflow *FormResponseWorkflow) (*FormResponseWorkflow, error)
	FindWorkflowByResponse(ctx context.Context, responseID int64) (*FormResponseWorkflow, error)
	FindWorkflowByToken(ctx context.Context, token string) (*FormResponseWorkflow, error)
	DecideWorkflow(ctx context.Context, responseID int64, status ResponseStatus, reviewerID int64, notes string, at time.Time) (bool, error)
	SaveWorkflow(ctx context.Context, workflow *FormResponseWorkflow) error

	CreateShareLink(ctx context.Context, link *FormShareLink) error
	FindShareLinkByCode(ctx context.Context, code string) (*FormShareLink, error)
	SaveShareLink(ctx context.Context, link *FormShareLink) error

	MergeSavedRoles(ctx context.Context, guildID, userID int64, roleIDs []int64) error
	SavedRolesFor(ctx context.Context, guildID, userID int64) (*SavedRoles, error)
}

// GormStore implements Store on a relational database via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a store from a database connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// IsNotFound reports whether an error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// CreateForm persists a new form.
func (s *GormStore) CreateForm(ctx context.Context, form *Form) error {
	return s.db.WithContext(ctx).Create(form).Error
}

// FindForm returns a form by id.
func (s *GormStore) FindForm(ctx context.Context, id int64) (*Form, error) {
	var entity Form
	if err := s.db.WithContext(ctx).First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// UpdateForm applies partial updates to a form.
func (s *GormStore) UpdateForm(ctx context.Context, id int64, updates map[string]any) (*Form, error) {
	var entity Form
	tx := s.db.WithContext(ctx)
	if err := tx.First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&entity).Updates(updates).Error; err != nil {
		return nil, err
	}

	if err := tx.First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}

	return &entity, nil
}

// DeleteForm removes a form and everything it owns: questions, options,
// conditions, responses, answers, workflows and share links.
func (s *GormStore) DeleteForm(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var questionIDs []int64
		if err := tx.Model(&FormQuestion{}).Where("form_id = ?", id).Pluck("id", &questionIDs).Error; err != nil {
			return err
		}
		if len(questionIDs) > 0 {
			if err := tx.Delete(&FormQuestionOption{}, "question_id IN ?", questionIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&FormQuestionCondition{}, "question_id IN ?", questionIDs).Error; err != nil {
				return err
			}
		}

		var responseIDs []int64
		if err := tx.Model(&FormResponse{}).Where("form_id = ?", id).Pluck("id", &responseIDs).Error; err != nil {
			return err
		}
		if len(responseIDs) > 0 {
			if err := tx.Delete(&FormAnswer{}, "response_id IN ?", responseIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&FormResponseWorkflow{}, "response_id IN ?", responseIDs).Error; err != nil {
				return err
			}
		}

		if err := tx.Delete(&FormQuestion{}, "form_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FormResponse{}, "form_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FormShareLink{}, "form_id = ?", id).Error; err != nil {
			return err
		}

		result := tx.Delete(&Form{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ListForms returns the guild's forms, newest first.
func (s *GormStore) ListForms(ctx context.Context, guildID int64) ([]Form, error) {
	var forms []Form
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at DESC").
		Find(&forms).Error
	if err != nil {
		return nil, err
	}
	return forms, nil
}

// CreateQuestion persists a new question.
func (s *GormStore) CreateQuestion(ctx context.Context, question *FormQuestion) error {
	return s.db.WithContext(ctx).Create(question).Error
}

// FindQuestion returns a question by id.
func (s *GormStore) FindQuestion(ctx context.Context, id int64) (*FormQuestion, error) {
	var entity FormQuestion
	if err := s.db.WithContext(ctx).First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// UpdateQuestion applies partial updates to a question.
func (s *GormStore) UpdateQuestion(ctx context.Context, id int64, updates map[string]any) (*FormQuestion, error) {
	var entity FormQuestion
	tx := s.db.WithContext(ctx)
	if err := tx.First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&entity).Updates(updates).Error; err != nil {
		return nil, err
	}

	if err := tx.First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}

	return &entity, nil
}

// DeleteQuestion removes a question and its options and condition clauses.
func (s *GormStore) DeleteQuestion(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FormQuestionOption{}, "question_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FormQuestionCondition{}, "question_id = ?", id).Error; err != nil {
			return err
		}

		result := tx.Delete(&FormQuestion{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// QuestionsForForm returns a form's questions in display order.
func (s *GormStore) QuestionsForForm(ctx context.Context, formID int64) ([]FormQuestion, error) {
	var questions []FormQuestion
	err := s.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("position ASC, id ASC").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// CreateOption persists a question option.
func (s *GormStore) CreateOption(ctx context.Context, option *FormQuestionOption) error {
	return s.db.WithContext(ctx).Create(option).Error
}

// OptionsForQuestion returns a question's options in display order.
func (s *GormStore) OptionsForQuestion(ctx context.Context, questionID int64) ([]FormQuestionOption, error) {
	var options []FormQuestionOption
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("position ASC, id ASC").
		Find(&options).Error
	if err != nil {
		return nil, err
	}
	return options, nil
}

// DeleteOption removes an option.
func (s *GormStore) DeleteOption(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&FormQuestionOption{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateCondition persists a condition clause.
func (s *GormStore) CreateCondition(ctx context.Context, condition *FormQuestionCondition) error {
	return s.db.WithContext(ctx).Create(condition).Error
}

// ConditionsForQuestion returns a question's clauses grouped and ordered.
func (s *GormStore) ConditionsForQuestion(ctx context.Context, questionID int64) ([]FormQuestionCondition, error) {
	var conditions []FormQuestionCondition
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("condition_group ASC, position ASC, id ASC").
		Find(&conditions).Error
	if err != nil {
		return nil, err
	}
	return conditions, nil
}

// DeleteCondition removes a condition clause.
func (s *GormStore) DeleteCondition(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&FormQuestionCondition{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateResponse persists a response row.
func (s *GormStore) CreateResponse(ctx context.Context, response *FormResponse) error {
	return s.db.WithContext(ctx).Create(response).Error
}

// FindResponse returns a response by id.
func (s *GormStore) FindResponse(ctx context.Context, id int64) (*FormResponse, error) {
	var entity FormResponse
	if err := s.db.WithContext(ctx).First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// ResponsesForForm returns a page of responses plus the total count.
func (s *GormStore) ResponsesForForm(ctx context.Context, formID int64, offset, limit int) ([]FormResponse, int64, error) {
	total, err := s.CountResponses(ctx, formID)
	if err != nil {
		return nil, 0, err
	}

	var responses []FormResponse
	err = s.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("submitted_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&responses).Error
	if err != nil {
		return nil, 0, err
	}
	return responses, total, nil
}

// CountResponses counts a form's responses.
func (s *GormStore) CountResponses(ctx context.Context, formID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&FormResponse{}).
		Where("form_id = ?", formID).
		Count(&count).Error
	return count, err
}

// HasUserResponded reports whether the user already submitted to the form.
func (s *GormStore) HasUserResponded(ctx context.Context, formID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&FormResponse{}).
		Where("form_id = ? AND user_id = ?", formID, userID).
		Count(&count).Error
	return count > 0, err
}

// SetResponseMessageID records the logged-submission message id.
func (s *GormStore) SetResponseMessageID(ctx context.Context, responseID, messageID int64) error {
	result := s.db.WithContext(ctx).
		Model(&FormResponse{}).
		Where("id = ?", responseID).
		Update("message_id", messageID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateAnswer persists an answer row.
func (s *GormStore) CreateAnswer(ctx context.Context, answer *FormAnswer) error {
	return s.db.WithContext(ctx).Create(answer).Error
}

// AnswersForResponse returns a response's answers.
func (s *GormStore) AnswersForResponse(ctx context.Context, responseID int64) ([]FormAnswer, error) {
	var answers []FormAnswer
	err := s.db.WithContext(ctx).
		Where("response_id = ?", responseID).
		Order("id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}
	return answers, nil
}

// CreateWorkflow creates the review workflow for a response. Creation is
// idempotent on response id: re-creation returns the existing row untouched.
func (s *GormStore) CreateWorkflow(ctx context.Context, workflow *FormResponseWorkflow) (*FormResponseWorkflow, error) {
	var existing FormResponseWorkflow
	err := s.db.WithContext(ctx).First(&existing, "response_id = ?", workflow.ResponseID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "response_id"}},
		DoNothing: true,
	}).Create(workflow).Error; err != nil {
		return nil, err
	}

	// Re-read in case a concurrent creation won the conflict.
	if err := s.db.WithContext(ctx).First(&existing, "response_id = ?", workflow.ResponseID).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// FindWorkflowByResponse returns the workflow attached to a response.
func (s *GormStore) FindWorkflowByResponse(ctx context.Context, responseID int64) (*FormResponseWorkflow, error) {
	var entity FormResponseWorkflow
	if err := s.db.WithContext(ctx).First(&entity, "response_id = ?", responseID).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// FindWorkflowByToken returns a workflow by its opaque status token.
func (s *GormStore) FindWorkflowByToken(ctx context.Context, token string) (*FormResponseWorkflow, error) {
	var entity FormResponseWorkflow
	if err := s.db.WithContext(ctx).First(&entity, "status_token = ?", token).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// DecideWorkflow performs the Pending/UnderReview -> terminal transition as a
// single conditional update. It reports whether this caller won the
// transition; a concurrent decision on the same response loses cleanly.
func (s *GormStore) DecideWorkflow(ctx context.Context, responseID int64, status ResponseStatus, reviewerID int64, notes string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&FormResponseWorkflow{}).
		Where("response_id = ? AND status IN ?", responseID, []ResponseStatus{StatusPending, StatusUnderReview}).
		Updates(map[string]any{
			"status":      status,
			"reviewer_id": reviewerID,
			"reviewed_at": at,
			"notes":       notes,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SaveWorkflow persists workflow changes.
func (s *GormStore) SaveWorkflow(ctx context.Context, workflow *FormResponseWorkflow) error {
	return s.db.WithContext(ctx).Save(workflow).Error
}

// CreateShareLink persists a share link.
func (s *GormStore) CreateShareLink(ctx context.Context, link *FormShareLink) error {
	return s.db.WithContext(ctx).Create(link).Error
}

// FindShareLinkByCode returns a share link by its opaque code.
func (s *GormStore) FindShareLinkByCode(ctx context.Context, code string) (*FormShareLink, error) {
	var entity FormShareLink
	if err := s.db.WithContext(ctx).First(&entity, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// SaveShareLink persists share-link changes.
func (s *GormStore) SaveShareLink(ctx context.Context, link *FormShareLink) error {
	return s.db.WithContext(ctx).Save(link).Error
}

// MergeSavedRoles unions role ids into the saved-roles record for the
// (guild, user) pair, deduplicated.
func (s *GormStore) MergeSavedRoles(ctx context.Context, guildID, userID int64, roleIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record SavedRoles
		err := tx.First(&record, "guild_id = ? AND user_id = ?", guildID, userID).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			record = SavedRoles{GuildID: guildID, UserID: userID}
		}

		seen := make(map[int64]struct{}, len(record.RoleIDs)+len(roleIDs))
		merged := make([]int64, 0, len(record.RoleIDs)+len(roleIDs))
		for _, id := range record.RoleIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
		for _, id := range roleIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}

		record.RoleIDs = datatypes.JSONSlice[int64](merged)
		return tx.Save(&record).Error
	})
}

// SavedRolesFor returns the saved-roles record for a (guild, user) pair.
func (s *GormStore) SavedRolesFor(ctx context.Context, guildID, userID int64) (*SavedRoles, error) {
	var record SavedRoles
	if err := s.db.WithContext(ctx).First(&record, "guild_id = ? AND user_id = ?", guildID, userID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
