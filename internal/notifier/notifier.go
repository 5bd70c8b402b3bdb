// Package notifier consumes submitted-response events and posts the
// submission-log message to the form's submission channel, linking the
// resulting message id back onto the response.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/formgate/formgate/internal/forms"
	"github.com/formgate/formgate/internal/mq"
	"github.com/formgate/formgate/internal/platform"
)

// Notifier processes response events from the queue.
type Notifier struct {
	store    forms.Store
	platform platform.Client
}

// New constructs a notifier.
func New(store forms.Store, client platform.Client) *Notifier {
	return &Notifier{store: store, platform: client}
}

// HandleMessage consumes one event. Decision events and responses without a
// submission channel are skipped; a response that already carries a message
// id is not posted twice.
func (n *Notifier) HandleMessage(ctx context.Context, msg mq.Message) error {
	if n == nil || n.store == nil || n.platform == nil {
		return fmt.Errorf("notifier not initialised")
	}

	var event forms.ResponseEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode response event: %w", err)
	}
	if event.Type != forms.EventResponseSubmitted {
		return nil
	}

	response, err := n.store.FindResponse(ctx, event.ResponseID)
	if err != nil {
		if forms.IsNotFound(err) {
			log.Printf("notifier: response %d not found, skipping", event.ResponseID)
			return nil
		}
		return err
	}
	if response.MessageID != nil {
		return nil
	}

	form, err := n.store.FindForm(ctx, response.FormID)
	if err != nil {
		if forms.IsNotFound(err) {
			log.Printf("notifier: form %d not found for response %d, skipping", response.FormID, response.ID)
			return nil
		}
		return err
	}
	if form.SubmissionChannelID == 0 {
		return nil
	}

	content, err := n.renderSubmission(ctx, form, response)
	if err != nil {
		return err
	}

	messageID, err := n.platform.SendMessage(ctx, form.SubmissionChannelID, content)
	if err != nil {
		return fmt.Errorf("post submission log for response %d: %w", response.ID, err)
	}

	if err := n.store.SetResponseMessageID(ctx, response.ID, messageID); err != nil {
		return err
	}

	log.Printf("notifier: posted submission log for response %d as message %d", response.ID, messageID)
	return nil
}

func (n *Notifier) renderSubmission(ctx context.Context, form *forms.Form, response *forms.FormResponse) (string, error) {
	questions, err := n.store.QuestionsForForm(ctx, form.ID)
	if err != nil {
		return "", err
	}
	rows, err := n.store.AnswersForResponse(ctx, response.ID)
	if err != nil {
		return "", err
	}

	answers := make(map[int64]forms.AnswerValue, len(rows))
	for _, row := range rows {
		answers[row.QuestionID] = forms.AnswerValue{Value: row.Value, Values: row.Values}
	}

	submitter := "Anonymous"
	if response.Username != nil {
		submitter = *response.Username
	} else if response.UserID != nil {
		submitter = fmt.Sprintf("<@%d>", *response.UserID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New response to **%s** from %s\n", form.Name, submitter)
	for i := range questions {
		prompt := forms.ApplyPiping(questions[i].Text, answers, questions)
		answer, ok := answers[questions[i].ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "**%s**: %s\n", prompt, answer.Render())
	}
	return b.String(), nil
}

// Run starts the provided consumer with this notifier's handler.
func (n *Notifier) Run(ctx context.Context, consumer *mq.Consumer) error {
	if consumer == nil {
		return fmt.Errorf("consumer is nil")
	}
	return consumer.Run(ctx)
}
