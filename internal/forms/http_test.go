package forms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formgate/formgate/internal/platform"
)

type httpFixture struct {
	router  chi.Router
	service *Service
	store   *GormStore
	client  *platform.InMemory
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	store := newTestStore(t)
	client := newTestPlatform()
	codes := newTestCodes()
	workflows := NewWorkflowService(store, client, codes, nil, nil)
	service := NewService(store, NewEvaluator(client, store, nil), workflows, codes, nil, "test-instance")

	router := chi.NewRouter()
	NewHandler(service).Mount(router, "/forms")

	return &httpFixture{router: router, service: service, store: store, client: client}
}

func (f *httpFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = "203.0.113.9:54321"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return envelope.Data
}

// activeForm seeds a published, active form directly through the store.
func (f *httpFixture) activeForm(t *testing.T, form *Form) *Form {
	t.Helper()
	form.Active = true
	if err := f.store.CreateForm(context.Background(), form); err != nil {
		t.Fatalf("seed form: %v", err)
	}
	return form
}

func TestFormLifecycleOverHTTP(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/forms", map[string]any{
		"guildId": testGuildID,
		"name":    "  Survey  ",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["name"] != "Survey" {
		t.Fatalf("expected trimmed name, got %v", data["name"])
	}
	if data["draft"] != true || data["active"] != false {
		t.Fatal("new forms must come back as inactive drafts")
	}
	id := int64(data["id"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/publish", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	if decodeData(t, rec)["draft"] != false {
		t.Fatal("publish must clear the draft flag")
	}

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/forms/%d", id), map[string]any{"active": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/forms?guildId=%d", testGuildID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/forms/%d", id), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/forms/%d", id), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestCreateFormValidation(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/forms", map[string]any{"guildId": testGuildID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/forms", map[string]any{"name": "No Guild"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing guild: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/forms", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("list without guildId: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/forms/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad path id: %d", rec.Code)
	}
}

func TestQuestionEndpoints(t *testing.T) {
	f := newHTTPFixture(t)
	form := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Survey"})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/questions", form.ID), map[string]any{
		"text":      "Favourite colour?",
		"inputType": "select",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create question: %d %s", rec.Code, rec.Body.String())
	}
	questionID := int64(decodeData(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/questions", form.ID), map[string]any{"text": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank question text: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/questions/%d/options", questionID), map[string]any{
		"label": "Red",
		"value": "red",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create option: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/questions/%d/conditions", questionID), map[string]any{
		"type":    string(ConditionalRole),
		"roleIds": "10,20",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create condition: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/questions/%d/conditions", questionID), map[string]any{
		"type": string(ConditionalMultiple),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nested multiple condition must be rejected: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/forms/%d/questions", form.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list questions: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/forms/questions/%d", questionID), map[string]any{"required": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("update question: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/forms/questions/%d", questionID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete question: %d", rec.Code)
	}
}

func TestSubmitEndpointEnforcesAdmission(t *testing.T) {
	f := newHTTPFixture(t)
	f.client.PutMember(testGuildID, &platform.Member{UserID: testUserID})
	form := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Survey"})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", form.ID), map[string]any{
		"userId":   testUserID,
		"username": "someone",
		"answers":  []map[string]any{{"questionId": 1, "value": "hello"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["statusToken"] == "" || data["responseId"] == nil {
		t.Fatalf("expected response id and status token, got %v", data)
	}

	// AllowMultiple defaults to false, so a repeat is refused.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", form.ID), map[string]any{
		"userId":  testUserID,
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("repeat submit: %d %s", rec.Code, rec.Body.String())
	}

	// Non-members are refused unless the form allows external submitters.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", form.ID), map[string]any{
		"userId":  777,
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("external submit: %d %s", rec.Code, rec.Body.String())
	}

	// Anonymous submits need an allowAnonymous or allowExternal form.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", form.ID), map[string]any{
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous submit on identified form: %d", rec.Code)
	}

	anon := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Anon", AllowAnonymous: true})
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", anon.ID), map[string]any{
		"answers": []map[string]any{{"questionId": 1, "value": "hi"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("anonymous submit: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitEndpointClosesFormsForAnonymousToo(t *testing.T) {
	f := newHTTPFixture(t)

	closed := &Form{GuildID: testGuildID, Name: "Closed", AllowAnonymous: true, Draft: true}
	if err := f.store.CreateForm(context.Background(), closed); err != nil {
		t.Fatalf("seed form: %v", err)
	}

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", closed.ID), map[string]any{
		"answers": []map[string]any{{"questionId": 1, "value": "hi"}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous submit to an inactive draft: %d %s", rec.Code, rec.Body.String())
	}

	yesterday := time.Now().Add(-24 * time.Hour)
	expired := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Expired", AllowAnonymous: true, ExpiresAt: &yesterday})
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", expired.ID), map[string]any{
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous submit to an expired form: %d %s", rec.Code, rec.Body.String())
	}

	capped := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Capped", AllowAnonymous: true, MaxResponses: 1})
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", capped.ID), map[string]any{
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first anonymous submit: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", capped.ID), map[string]any{
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous submit over the response cap: %d %s", rec.Code, rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.9:54321", "203.0.113.9"},
		{"[::1]:54321", "::1"},
		{"[2001:db8::2]:443", "2001:db8::2"},
		{"203.0.113.9", "203.0.113.9"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}

func TestDecisionEndpoints(t *testing.T) {
	f := newHTTPFixture(t)
	f.client.PutMember(testGuildID, &platform.Member{UserID: testUserID})
	form := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Survey"})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", form.ID), map[string]any{
		"userId":  testUserID,
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	responseID := int64(decodeData(t, rec)["responseId"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/responses/%d/approve", responseID), map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("approve without reviewer: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/responses/%d/approve", responseID), map[string]any{
		"reviewerId": 7,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/responses/%d/reject", responseID), map[string]any{
		"reviewerId": 7,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("decide twice: %d %s", rec.Code, rec.Body.String())
	}
}

func TestShareLinkAndStatusEndpoints(t *testing.T) {
	f := newHTTPFixture(t)
	f.client.PutMember(testGuildID, &platform.Member{UserID: testUserID})
	form := f.activeForm(t, &Form{GuildID: testGuildID, Name: "Survey"})

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/share-links", form.ID), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create share link: %d %s", rec.Code, rec.Body.String())
	}
	code := decodeData(t, rec)["code"].(string)

	rec = f.do(t, http.MethodGet, "/s/"+code, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve share link: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/s/nosuchcode00", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown share code: %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/forms/%d/submit", form.ID), map[string]any{
		"userId":  testUserID,
		"answers": []map[string]any{},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	token := decodeData(t, rec)["statusToken"].(string)

	rec = f.do(t, http.MethodGet, "/status/"+token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status lookup: %d %s", rec.Code, rec.Body.String())
	}
	if decodeData(t, rec)["status"] != string(StatusPending) {
		t.Fatalf("expected a pending status, got %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/status/ffffffffffffffff", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown status token: %d", rec.Code)
	}
}
