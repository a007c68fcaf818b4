package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/PortNumber53/adroom/backend/internal/decision"
	"github.com/PortNumber53/adroom/backend/internal/middleware"
	"github.com/gorilla/mux"
)

type fakeText struct {
	reply string
	err   error
	calls int
}

func (f *fakeText) Complete(ctx context.Context, systemPrompt, contextPayload string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newTestHandler(t *testing.T, opts Options) (*Handler, sqlmock.Sqlmock, *mux.Router) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	h := New(db, opts)
	r := mux.NewRouter()
	RegisterRoutes(h, r, nil)
	return h, mock, r
}

func doRequest(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func expectEmptyContextReads(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM public\.profiles`).WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))
	mock.ExpectQuery(`FROM public\.strategies`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "goal", "status", "roas", "created_at"}))
	mock.ExpectQuery(`FROM public\.platform_status`).WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))
	mock.ExpectQuery(`FROM public\.global_trends`).WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))
}

var strategyCols = []string{
	"id", "user_id", "type", "goal", "duration_days", "budget_daily", "budget_total", "total_spend",
	"roas", "target_roas", "clicks", "impressions", "status", "campaign_id",
	"platforms", "plan", "content_calendar", "optimization_log", "created_at", "updated_at",
}

func TestHealth(t *testing.T) {
	_, _, r := newTestHandler(t, Options{})
	rr := doRequest(r, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
}

func TestGetContext_UnknownTypeIs400(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	rr := doRequest(r, http.MethodGet, "/api/context/user/u1?contextType=campaign", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no reads expected: %v", err)
	}
}

func TestGetContext_FailedReadsAreDegradedNot500(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	boom := errors.New("connection reset")
	mock.ExpectQuery(`FROM public\.profiles`).WillReturnError(boom)
	mock.ExpectQuery(`FROM public\.strategies`).WillReturnError(boom)
	mock.ExpectQuery(`FROM public\.platform_status`).WillReturnError(boom)
	mock.ExpectQuery(`FROM public\.global_trends`).WillReturnError(boom)

	rr := doRequest(r, http.MethodGet, "/api/context/user/u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var body struct {
		User     map[string]any    `json:"user"`
		History  []any             `json:"history"`
		Degraded map[string]string `json:"degraded"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User == nil || body.History == nil {
		t.Fatalf("empty defaults must be present: %s", rr.Body.String())
	}
	for _, field := range []string{"user", "history", "platform_status", "global_trends"} {
		if _, ok := body.Degraded[field]; !ok {
			t.Fatalf("expected %s degraded, got %v", field, body.Degraded)
		}
	}
}

func TestGenerateStrategy_Success(t *testing.T) {
	text := &fakeText{reply: "```json\n" + `{"free_strategy":{"platforms":["facebook"],"content_plan":[],"expected_outcomes":{}},
		"paid_strategy":{"platforms":["facebook"],"content_plan":[],"expected_outcomes":{},"budget_recommendation":25},
		"comparison":{"winner":"paid"}}` + "\n```"}
	_, mock, r := newTestHandler(t, Options{Generator: decision.NewGenerator(text, nil)})
	expectEmptyContextReads(mock)

	rr := doRequest(r, http.MethodPost, "/api/strategies/generate/user/u1", `{"goal":"Sell more mugs","durationDays":14}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if text.calls != 1 {
		t.Fatalf("expected one completion, got %d", text.calls)
	}
	if !strings.Contains(rr.Body.String(), `"budget_recommendation":25`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestGenerateStrategy_BadModelReplyIs502(t *testing.T) {
	text := &fakeText{reply: `{"free_strategy":{"platforms":[]}}`}
	_, mock, r := newTestHandler(t, Options{Generator: decision.NewGenerator(text, nil)})
	expectEmptyContextReads(mock)

	rr := doRequest(r, http.MethodPost, "/api/strategies/generate/user/u1", `{"goal":"Sell","durationDays":7}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestGenerateStrategy_ValidatesBeforeReading(t *testing.T) {
	text := &fakeText{}
	_, mock, r := newTestHandler(t, Options{Generator: decision.NewGenerator(text, nil)})

	rr := doRequest(r, http.MethodPost, "/api/strategies/generate/user/u1", `{"goal":"","durationDays":7}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = doRequest(r, http.MethodPost, "/api/strategies/generate/user/u1", `{"goal":"x","durationDays":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if text.calls != 0 {
		t.Fatalf("text client must not be called")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no reads expected: %v", err)
	}
}

func TestGenerateStrategy_NoGeneratorIs503(t *testing.T) {
	_, _, r := newTestHandler(t, Options{})
	rr := doRequest(r, http.MethodPost, "/api/strategies/generate/user/u1", `{"goal":"x","durationDays":3}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCreateStrategy_PersistsApprovedPlan(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO public\.strategies`).
		WillReturnRows(sqlmock.NewRows(strategyCols).
			AddRow("s1", "u1", "paid", "Sell mugs", 14, 50.0, 700.0, 0.0,
				0.0, 2.5, int64(0), int64(0), "active", "cmp_1",
				[]byte("{facebook}"), []byte(`{"steps":[]}`), []byte("[]"), []byte("[]"), now, now))

	body := `{"type":"Paid","goal":"Sell mugs","durationDays":14,"budgetDaily":50,"budgetTotal":700,
		"targetRoas":2.5,"campaignId":"cmp_1","plan":{"steps":[]}}`
	rr := doRequest(r, http.MethodPost, "/api/strategies/user/u1", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var got map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got["id"] != "s1" || got["status"] != "active" {
		t.Fatalf("unexpected body %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestCreateStrategy_Validation(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	cases := []string{
		`{"type":"viral","goal":"x","durationDays":3}`,
		`{"type":"organic","goal":" ","durationDays":3}`,
		`{"type":"organic","goal":"x","durationDays":0}`,
		`{"type":"paid","goal":"x","durationDays":3,"budgetDaily":0}`,
		`{"type":"organic","goal":"x","durationDays":3,"budgetTotal":-1}`,
		`not json`,
	}
	for _, body := range cases {
		rr := doRequest(r, http.MethodPost, "/api/strategies/user/u1", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rr.Code)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no writes expected: %v", err)
	}
}

func TestListStrategies_EmptyIsArray(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	mock.ExpectQuery(`FROM public\.strategies WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(strategyCols))
	rr := doRequest(r, http.MethodGet, "/api/strategies/user/u1", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestEvaluateRisk(t *testing.T) {
	text := &fakeText{reply: `{"compliant":false,"risk_level":"high","issues":["before/after claim"]}`}
	_, _, r := newTestHandler(t, Options{Generator: decision.NewGenerator(text, nil)})

	rr := doRequest(r, http.MethodPost, "/api/risk", `{"content":"Lose 10kg in a week!"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"compliant":false`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	rr = doRequest(r, http.MethodPost, "/api/risk", `{"content":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	text.reply = `{"risk_level":"low"}`
	rr = doRequest(r, http.MethodPost, "/api/risk", `{"content":"hello"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for reply without compliant, got %d", rr.Code)
	}
}

func TestListIntelligence_PassesClampedLimit(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM public\.intelligence_logs`).
		WithArgs("u1", 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "strategy_id", "type", "platform", "summary", "details",
			"priority", "recommended_actions", "expires_at", "created_at"}).
			AddRow("i1", nil, nil, "trend", "facebook", "Reels are up", []byte(`{"k":"v"}`), 2, []byte("{}"), nil, now))

	rr := doRequest(r, http.MethodGet, "/api/intelligence/user/u1?limit=999", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Reels are up") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestUpsertAdConfig(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})

	rr := doRequest(r, http.MethodPut, "/api/ad-config/user/u1", `{"pageId":"p1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", rr.Code)
	}

	mock.ExpectExec(`INSERT INTO public\.ad_platform_configs`).
		WithArgs("u1", "tok", "act_1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	rr = doRequest(r, http.MethodPut, "/api/ad-config/user/u1", `{"accessToken":" tok ","adAccountId":"act_1","pageId":"p1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "tok") {
		t.Fatalf("token must not be echoed: %s", rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestFacebookWebhookVerify(t *testing.T) {
	_, _, r := newTestHandler(t, Options{VerifyToken: "vt"})

	rr := doRequest(r, http.MethodGet, "/webhook/facebook?hub.mode=subscribe&hub.verify_token=vt&hub.challenge=12345", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "12345" {
		t.Fatalf("unexpected verify response %d %q", rr.Code, rr.Body.String())
	}
	rr = doRequest(r, http.MethodGet, "/webhook/facebook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

const webhookBody = `{"object":"page","entry":[{"id":"page_1","time":1700000000,
	"changes":[
		{"field":"feed","value":{"item":"comment","verb":"add","comment_id":"c_1","post_id":"p_1","message":"Love it","from":{"id":"fan_1","name":"Fan"}}},
		{"field":"feed","value":{"item":"comment","verb":"add","comment_id":"c_2","message":"our own reply","from":{"id":"page_1"}}}
	],
	"messaging":[
		{"sender":{"id":"psid_1"},"recipient":{"id":"page_1"},"timestamp":1700000000000,"message":{"mid":"m_1","text":"Do you ship?"}},
		{"sender":{"id":"page_1"},"recipient":{"id":"psid_1"},"timestamp":1700000000001,"message":{"mid":"m_2","text":"echo","is_echo":true}}
	]}]}`

func TestFacebookWebhook_StoresCommentsMessagesAndLeads(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	mock.ExpectQuery(`SELECT user_id FROM public\.ad_platform_configs WHERE page_id = \$1`).
		WithArgs("page_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec(`INSERT INTO public\.interactions`).
		WithArgs(sqlmock.AnyArg(), "u1", "facebook", "comment", "c_1", "fan_1", "Love it").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO public\.interactions`).
		WithArgs(sqlmock.AnyArg(), "u1", "facebook", "message", "m_1", "psid_1", "Do you ship?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO public\.leads`).
		WithArgs(sqlmock.AnyArg(), "u1", "", "psid_1", time.UnixMilli(1700000000000).UTC()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := doRequest(r, http.MethodPost, "/webhook/facebook", webhookBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var res webhookResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Stored != 2 || res.Leads != 1 || res.Ignored != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestFacebookWebhook_UnknownPageIgnored(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{})
	mock.ExpectQuery(`FROM public\.ad_platform_configs`).
		WithArgs("page_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	rr := doRequest(r, http.MethodPost, "/webhook/facebook", webhookBody)
	var res webhookResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if rr.Code != http.StatusOK || res.Stored != 0 || res.Ignored != 4 {
		t.Fatalf("unexpected response %d %+v", rr.Code, res)
	}
}

func TestFacebookWebhook_Signature(t *testing.T) {
	_, mock, r := newTestHandler(t, Options{AppSecret: "app-secret"})

	req := httptest.NewRequest(http.MethodPost, "/webhook/facebook", strings.NewReader(`{"object":"user"}`))
	req.Header.Set(signatureHeader, "sha256=deadbeef")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rr.Code)
	}

	body := []byte(`{"object":"user"}`)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	req = httptest.NewRequest(http.MethodPost, "/webhook/facebook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("non-page objects must not hit the db: %v", err)
	}
}

func TestRunSweep(t *testing.T) {
	h, _, _ := newTestHandler(t, Options{})
	h.RegisterSweep("optimizer", func(ctx context.Context) (any, error) {
		return map[string]int{"evaluated": 3}, nil
	})
	h.RegisterSweep("cleanup", func(ctx context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	r := mux.NewRouter()
	RegisterRoutes(h, r, middleware.InternalAuth("s3cret"))

	call := func(name, secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/"+name, nil)
		req.RemoteAddr = "10.1.2.3:4000"
		if secret != "" {
			req.Header.Set(middleware.InternalSecretHeader, secret)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	if rr := call("optimizer", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without secret, got %d", rr.Code)
	}
	rr := call("optimizer", "s3cret")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"evaluated":3`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	if rr := call("cleanup", "s3cret"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	rr = call("nope", "s3cret")
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), `"cleanup"`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}
