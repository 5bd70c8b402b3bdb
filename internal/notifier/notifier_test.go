package notifier

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/formgate/formgate/internal/forms"
	"github.com/formgate/formgate/internal/mq"
	"github.com/formgate/formgate/internal/platform"
)

const (
	guildID   int64 = 100
	channelID int64 = 555
)

// userID is a var so tests can take its address for FormResponse.UserID.
var userID int64 = 200

func newFixture(t *testing.T) (*Notifier, *forms.GormStore, *platform.InMemory) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(forms.Models()...); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	store := forms.NewGormStore(db)
	client := platform.NewInMemory()
	client.PutGuild(&platform.Guild{ID: guildID, Name: "Test Guild"})
	return New(store, client), store, client
}

func seedSubmission(t *testing.T, store *forms.GormStore, form *forms.Form) *forms.FormResponse {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateForm(ctx, form); err != nil {
		t.Fatalf("create form: %v", err)
	}

	response := &forms.FormResponse{
		FormID:      form.ID,
		UserID:      &userID,
		SubmittedAt: time.Now(),
	}
	if err := store.CreateResponse(ctx, response); err != nil {
		t.Fatalf("create response: %v", err)
	}
	return response
}

func submittedEvent(t *testing.T, eventType string, responseID int64) mq.Message {
	t.Helper()
	payload, err := json.Marshal(forms.ResponseEvent{
		Type:       eventType,
		ResponseID: responseID,
		GuildID:    guildID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return mq.Message{Value: payload}
}

func TestHandleMessagePostsSubmissionLog(t *testing.T) {
	notifier, store, client := newFixture(t)
	ctx := context.Background()

	form := &forms.Form{GuildID: guildID, Name: "Feedback", SubmissionChannelID: channelID}
	response := seedSubmission(t, store, form)

	question := &forms.FormQuestion{FormID: form.ID, Text: "How was it?"}
	if err := store.CreateQuestion(ctx, question); err != nil {
		t.Fatalf("create question: %v", err)
	}
	if err := store.CreateAnswer(ctx, &forms.FormAnswer{
		ResponseID: response.ID,
		QuestionID: question.ID,
		Value:      "Great",
	}); err != nil {
		t.Fatalf("create answer: %v", err)
	}

	if err := notifier.HandleMessage(ctx, submittedEvent(t, forms.EventResponseSubmitted, response.ID)); err != nil {
		t.Fatalf("handle message: %v", err)
	}

	posted := client.Messages[channelID]
	if len(posted) != 1 {
		t.Fatalf("expected one posted message, got %d", len(posted))
	}
	if !strings.Contains(posted[0], "Feedback") || !strings.Contains(posted[0], "How was it?") ||
		!strings.Contains(posted[0], "Great") {
		t.Fatalf("unexpected message content:\n%s", posted[0])
	}
	if !strings.Contains(posted[0], "<@200>") {
		t.Fatalf("expected a submitter mention, got:\n%s", posted[0])
	}

	stored, err := store.FindResponse(ctx, response.ID)
	if err != nil {
		t.Fatalf("reload response: %v", err)
	}
	if stored.MessageID == nil {
		t.Fatal("expected the message id to be linked back onto the response")
	}

	// A redelivery of the same event must not post twice.
	if err := notifier.HandleMessage(ctx, submittedEvent(t, forms.EventResponseSubmitted, response.ID)); err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}
	if len(client.Messages[channelID]) != 1 {
		t.Fatalf("redelivery posted again: %d messages", len(client.Messages[channelID]))
	}
}

func TestHandleMessageSkipsDecisionEvents(t *testing.T) {
	notifier, store, client := newFixture(t)

	form := &forms.Form{GuildID: guildID, Name: "Feedback", SubmissionChannelID: channelID}
	response := seedSubmission(t, store, form)

	if err := notifier.HandleMessage(context.Background(), submittedEvent(t, forms.EventResponseDecided, response.ID)); err != nil {
		t.Fatalf("handle decision event: %v", err)
	}
	if len(client.Messages[channelID]) != 0 {
		t.Fatal("decision events must not trigger a post")
	}
}

func TestHandleMessageSkipsWithoutChannel(t *testing.T) {
	notifier, store, client := newFixture(t)

	form := &forms.Form{GuildID: guildID, Name: "No Channel"}
	response := seedSubmission(t, store, form)

	if err := notifier.HandleMessage(context.Background(), submittedEvent(t, forms.EventResponseSubmitted, response.ID)); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(client.Messages) != 0 {
		t.Fatal("forms without a submission channel must not trigger a post")
	}
}

func TestHandleMessageSkipsMissingResponse(t *testing.T) {
	notifier, _, client := newFixture(t)

	if err := notifier.HandleMessage(context.Background(), submittedEvent(t, forms.EventResponseSubmitted, 9999)); err != nil {
		t.Fatalf("missing response must be skipped, not failed: %v", err)
	}
	if len(client.Messages) != 0 {
		t.Fatal("nothing should be posted for a missing response")
	}
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	notifier, _, _ := newFixture(t)

	if err := notifier.HandleMessage(context.Background(), mq.Message{Value: []byte("{not json")}); err == nil {
		t.Fatal("malformed payloads must surface an error")
	}
}
