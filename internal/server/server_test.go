package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glacestorm/crmalerts/internal/config"
	escalationdomain "github.com/glacestorm/crmalerts/internal/escalation/domain"
	goalriskdomain "github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"github.com/glacestorm/crmalerts/internal/observability"
	webhookdomain "github.com/glacestorm/crmalerts/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testCronSecret  = "cron-secret-value"
	testServiceRole = "service-role-key"
)

// A syntactically valid JWT; the gate never checks the signature.
var testJWT = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
	"eyJzdWIiOiJ1c2VyLTEiLCJyb2xlIjoiYXV0aGVudGljYXRlZCJ9." +
	"c2lnbmF0dXJlLW5vdC12ZXJpZmllZA"

type fakeGoalRiskService struct {
	calls  int
	result goalriskdomain.CheckResult
	err    error
}

func (f *fakeGoalRiskService) RunCheck(context.Context) (goalriskdomain.CheckResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeEscalationService struct {
	calls  int
	result escalationdomain.RunResult
	err    error
}

func (f *fakeEscalationService) Run(context.Context) (escalationdomain.RunResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeDispatchService struct {
	calls   int
	lastReq webhookdomain.DispatchRequest
	result  webhookdomain.DispatchResult
	err     error
}

func (f *fakeDispatchService) Dispatch(_ context.Context, req webhookdomain.DispatchRequest) (webhookdomain.DispatchResult, error) {
	f.calls++
	f.lastReq = req
	if err := req.Validate(); err != nil {
		return webhookdomain.DispatchResult{}, err
	}
	return f.result, f.err
}

type testServer struct {
	engine     *gin.Engine
	goalRisk   *fakeGoalRiskService
	escalation *fakeEscalationService
	dispatch   *fakeDispatchService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zaptest.NewLogger(t)
	engine := NewEngine(observability.Config{Environment: "test"}, log)
	ts := &testServer{
		engine:     engine,
		goalRisk:   &fakeGoalRiskService{},
		escalation: &fakeEscalationService{},
		dispatch:   &fakeDispatchService{result: webhookdomain.EmptyResult()},
	}
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{CronSecret: testCronSecret, ServiceRoleKey: testServiceRole},
		Log:           log,
		GoalRiskSvc:   ts.goalRisk,
		EscalationSvc: ts.escalation,
		DispatchSvc:   ts.dispatch,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.engine.ServeHTTP(resp, req)
	return resp
}

func cronHeaders() map[string]string {
	return map[string]string{HeaderCronSecret: testCronSecret}
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func TestAuthGate(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "cron secret", headers: cronHeaders(), want: http.StatusOK},
		{name: "service role bearer", headers: map[string]string{"Authorization": "Bearer " + testServiceRole}, want: http.StatusOK},
		{name: "jwt shaped bearer", headers: map[string]string{"Authorization": "Bearer " + testJWT}, want: http.StatusOK},
		{name: "no credentials", headers: nil, want: http.StatusUnauthorized},
		{name: "wrong cron secret", headers: map[string]string{HeaderCronSecret: "nope"}, want: http.StatusUnauthorized},
		{name: "short three segment token", headers: map[string]string{"Authorization": "Bearer a.b.c"}, want: http.StatusUnauthorized},
		{name: "long token with two segments", headers: map[string]string{"Authorization": "Bearer " + strings.Repeat("x", 40) + "." + strings.Repeat("y", 40)}, want: http.StatusUnauthorized},
		{name: "basic scheme", headers: map[string]string{"Authorization": "Basic " + testJWT}, want: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(http.MethodPost, "/functions/escalate-alerts", "", tc.headers)

			assert.Equal(t, tc.want, resp.Code)
			if tc.want == http.StatusUnauthorized {
				assert.Equal(t, 0, ts.escalation.calls)
				assert.Equal(t, "Unauthorized", decodeBody(t, resp)["error"])
			} else {
				assert.Equal(t, 1, ts.escalation.calls)
			}
		})
	}
}

func TestEmptyConfiguredCronSecretNeverMatches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &Server{cfg: config.Config{}}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/fn", srv.FunctionAuthRequired(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/fn", nil)
	req.Header.Set(HeaderCronSecret, " ")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestOptionsPreflightReturnsNoContent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodOptions, "/functions/dispatch-webhook", "", nil)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header().Get("Access-Control-Allow-Headers"), "authorization")
	assert.Contains(t, resp.Header().Get("Access-Control-Allow-Headers"), HeaderCronSecret)
	assert.Equal(t, 0, ts.dispatch.calls)
}

func TestCORSHeadersOnRejectedRequests(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/functions/goal-risk-monitor", "", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestGoalRiskMonitorResponse(t *testing.T) {
	ts := newTestServer(t)
	ts.goalRisk.result = goalriskdomain.CheckResult{GoalsChecked: 12, AlertsSent: 3}

	resp := ts.do(http.MethodPost, "/functions/goal-risk-monitor", "", cronHeaders())

	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Checked 12 goals, sent 3 alerts", body["message"])
	assert.Equal(t, float64(12), body["goalsChecked"])
	assert.Equal(t, float64(3), body["alertsSent"])
}

func TestGoalRiskMonitorStoreFailureIs500(t *testing.T) {
	ts := newTestServer(t)
	ts.goalRisk.err = errors.New("connection refused")

	resp := ts.do(http.MethodPost, "/functions/goal-risk-monitor", "", cronHeaders())

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "internal server error", decodeBody(t, resp)["error"])
}

func TestEscalateAlertsResponse(t *testing.T) {
	ts := newTestServer(t)
	ts.escalation.result = escalationdomain.RunResult{Checked: 5, EscalatedCount: 2, NotificationsSent: 4}

	resp := ts.do(http.MethodPost, "/functions/escalate-alerts", "", cronHeaders())

	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["escalatedCount"])
	assert.Equal(t, float64(4), body["notificationsSent"])
}

func TestDispatchWebhookPassesResultThrough(t *testing.T) {
	ts := newTestServer(t)
	status := http.StatusOK
	ts.dispatch.result = webhookdomain.DispatchResult{
		Dispatched: 2,
		Successful: 1,
		Results: []webhookdomain.WebhookResult{
			{WebhookID: "wh-1", WebhookName: "slack", Success: true, Status: &status, DurationMS: 12},
			{WebhookID: "wh-2", WebhookName: "crm", Success: false, Error: "HTTP 500", DurationMS: 30},
		},
	}

	resp := ts.do(http.MethodPost, "/functions/dispatch-webhook",
		`{"notification_id":"n-1","channel_name":"alerts","event_type":"goal.at_risk"}`, cronHeaders())

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, webhookdomain.DispatchRequest{NotificationID: "n-1", ChannelName: "alerts", EventType: "goal.at_risk"}, ts.dispatch.lastReq)
	assert.JSONEq(t, `{
		"dispatched": 2,
		"successful": 1,
		"results": [
			{"webhook_id":"wh-1","webhook_name":"slack","success":true,"status":200,"duration_ms":12},
			{"webhook_id":"wh-2","webhook_name":"crm","success":false,"error":"HTTP 500","duration_ms":30}
		]
	}`, resp.Body.String())
}

func TestDispatchWebhookEmptyResult(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/functions/dispatch-webhook",
		`{"notification_id":"n-1","channel_name":"unknown","event_type":"goal.at_risk"}`, cronHeaders())

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"dispatched":0,"successful":0,"results":[]}`, resp.Body.String())
}

func TestDispatchWebhookValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/functions/dispatch-webhook", `{"channel_name":"alerts"}`, cronHeaders())

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "missing required fields: notification_id, event_type", decodeBody(t, resp)["error"])
}

func TestDispatchWebhookRejectsMissingBody(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/functions/dispatch-webhook", "", cronHeaders())

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "request body is required", decodeBody(t, resp)["error"])
	assert.Equal(t, 0, ts.dispatch.calls)
}

func TestDispatchWebhookUnknownNotificationIs404(t *testing.T) {
	ts := newTestServer(t)
	ts.dispatch.err = webhookdomain.ErrNotificationNotFound

	resp := ts.do(http.MethodPost, "/functions/dispatch-webhook",
		`{"notification_id":"missing","channel_name":"alerts","event_type":"goal.at_risk"}`, cronHeaders())

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "notification not found", decodeBody(t, resp)["error"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestLooksLikeJWT(t *testing.T) {
	assert.True(t, looksLikeJWT(testJWT))
	assert.False(t, looksLikeJWT("a.b.c"))
	assert.False(t, looksLikeJWT(strings.Repeat("a", 60)))
	assert.False(t, looksLikeJWT(strings.Repeat("a.", 30)+"a"))
}
