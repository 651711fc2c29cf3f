package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/hobbysync/internal/concepts/passwordauth"
	"github.com/roach88/hobbysync/internal/config"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/testutil"
)

type testServer struct {
	t   *testing.T
	app *App
	srv *httptest.Server
	llm *testutil.ScriptedLLM
}

func newTestServer(t *testing.T, timeout time.Duration, replies ...string) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(t, timeout), replies...)
}

func testConfig(t *testing.T, timeout time.Duration) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "hobbysync.db")
	cfg.Server.RequestTimeout = timeout
	cfg.Server.RateLimitRequests = 0
	return cfg
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, replies ...string) *testServer {
	t.Helper()
	scripted := &testutil.ScriptedLLM{Replies: replies}
	a, err := Open(context.Background(), cfg,
		WithEnv(testutil.Env("id")),
		WithLLM(scripted),
		WithFlowTokens(testutil.NewSequentialFlows("flow")),
		WithPasswordOptions(passwordauth.WithBcryptCost(bcrypt.MinCost)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Engine.Run(ctx)
	}()

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		assert.NoError(t, a.Close())
	})
	return &testServer{t: t, app: a, srv: srv, llm: scripted}
}

func (s *testServer) post(path string, body map[string]any) (int, map[string]any) {
	s.t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	data, err := json.Marshal(body)
	require.NoError(s.t, err)
	resp, err := http.Post(s.srv.URL+"/api"+path, "application/json", bytes.NewReader(data))
	require.NoError(s.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	var out map[string]any
	require.NoError(s.t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func (s *testServer) ok(path string, body map[string]any) map[string]any {
	s.t.Helper()
	status, out := s.post(path, body)
	require.Equal(s.t, http.StatusOK, status, "%s: %v", path, out)
	require.NotContains(s.t, out, "error", "%s: %v", path, out)
	return out
}

func (s *testServer) login(username string) (user, session string) {
	s.t.Helper()
	reg := s.ok("/PasswordAuthentication/register", map[string]any{"username": username, "password": "password1"})
	out := s.ok("/PasswordAuthentication/authenticate", map[string]any{"username": username, "password": "password1"})
	assert.Equal(s.t, reg["user"], out["user"])
	return out["user"].(string), out["session"].(string)
}

func TestRegisterLoginAndProfile(t *testing.T) {
	s := newTestServer(t, 2*time.Second)
	user, session := s.login("ada")
	require.NotEmpty(t, session)

	assert.Equal(t, map[string]any{"msg": map[string]any{}},
		s.ok("/UserProfile/setName", map[string]any{"session": session, "displayname": "Ada"}))
	s.ok("/UserProfile/setHobby", map[string]any{"session": session, "hobby": "Chess"})
	s.ok("/UserProfile/setHobby", map[string]any{"session": session, "hobby": "Pottery"})
	s.ok("/UserProfile/closeHobby", map[string]any{"session": session, "hobby": "Chess"})

	prof := s.ok("/UserProfile/_getUserProfile", map[string]any{"session": session})
	p := prof["userProfile"].(map[string]any)
	assert.Equal(t, user, p["user"])
	assert.Equal(t, "Ada", p["displayname"])
	assert.Equal(t, true, p["active"])

	all := s.ok("/UserProfile/_getUserHobbies", map[string]any{"session": session})
	assert.Len(t, all["hobbies"], 2)
	active := s.ok("/UserProfile/_getActiveHobbies", map[string]any{"session": session})
	assert.Equal(t, []any{map[string]any{"hobby": "Pottery", "active": true}}, active["hobbies"])

	_, dup := s.post("/UserProfile/setHobby", map[string]any{"session": session, "hobby": "Pottery"})
	assert.Equal(t, "Hobby 'Pottery' is already active for user "+user+".", dup["error"])
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, 2*time.Second)

	_, out := s.post("/PasswordAuthentication/register", map[string]any{"username": "bob", "password": "short"})
	assert.Equal(t, map[string]any{"error": "Password must be at least 8 characters long."}, out)

	s.login("bob")
	_, out = s.post("/PasswordAuthentication/register", map[string]any{"username": "bob", "password": "password1"})
	assert.Equal(t, "Username 'bob' is already taken.", out["error"])

	_, out = s.post("/PasswordAuthentication/authenticate", map[string]any{"username": "bob", "password": "wrong-password"})
	assert.Equal(t, map[string]any{"error": "Invalid username or password."}, out)
}

func TestChangePasswordAndLogout(t *testing.T) {
	s := newTestServer(t, 2*time.Second)
	_, session := s.login("cy")

	s.ok("/PasswordAuthentication/changePassword", map[string]any{"session": session, "oldPassword": "password1", "newPassword": "password2"})
	_, out := s.post("/PasswordAuthentication/changePassword", map[string]any{"session": session, "oldPassword": "password1", "newPassword": "password3"})
	assert.Equal(t, "Invalid current password.", out["error"])

	assert.Equal(t, map[string]any{}, s.ok("/logout", map[string]any{"session": session}))
	_, out = s.post("/logout", map[string]any{"session": session})
	assert.Equal(t, "Session "+session+" not found.", out["error"])

	s.ok("/PasswordAuthentication/authenticate", map[string]any{"username": "cy", "password": "password2"})
}

func TestQuizMatch(t *testing.T) {
	s := newTestServer(t, 2*time.Second, "Suggested hobby: Pottery.")
	_, session := s.login("dee")

	q := s.ok("/QuizMatchmaker/_getQuestions", nil)
	questions := q["questions"].([]any)
	require.Len(t, questions, 5)
	assert.Equal(t, "q_1", questions[0].(map[string]any)["id"])

	answers := []string{"outdoors", "creative", "a little", "new skills", "light"}
	out := s.ok("/QuizMatchmaker/generateHobbyMatch", map[string]any{"session": session, "answers": answers})
	assert.Equal(t, "Pottery", out["matchedHobby"])
	assert.Equal(t, 1, s.llm.Calls())
	assert.Contains(t, s.llm.Prompts[0], "A: outdoors")

	_, out = s.post("/QuizMatchmaker/generateHobbyMatch", map[string]any{"session": session, "answers": answers[:2]})
	assert.Equal(t, "Must provide exactly 5 answers.", out["error"])

	latest := s.ok("/QuizMatchmaker/_getMatchedHobby", map[string]any{"session": session})
	require.Len(t, latest["match"], 1)
	assert.Equal(t, "Pottery", latest["match"].([]any)[0].(map[string]any)["matchedHobby"])

	s.ok("/QuizMatchmaker/deleteHobbyMatches", map[string]any{"session": session})
	matches := s.ok("/QuizMatchmaker/_getAllHobbyMatches", map[string]any{"session": session})
	assert.Equal(t, []any{}, matches["matches"])
}

func TestGoalWithGeneratedSteps(t *testing.T) {
	s := newTestServer(t, 2*time.Second, `Here you go: ["Buy clay","Take a wheel class"]`)
	_, session := s.login("eve")

	out := s.ok("/MilestoneTracker/createGoal", map[string]any{
		"session": session, "hobby": "Pottery", "description": "Throw a bowl", "autoGenerate": true,
	})
	goalID := out["goalId"].(string)
	require.NotEmpty(t, goalID)
	assert.Equal(t, []any{"Buy clay", "Take a wheel class"}, out["steps"])

	steps := s.ok("/MilestoneTracker/_getSteps", map[string]any{"session": session, "goalId": goalID})["steps"].([]any)
	require.Len(t, steps, 2)
	first := steps[0].(map[string]any)
	assert.Equal(t, "Buy clay", first["description"])
	assert.Equal(t, false, first["isComplete"])
	assert.Equal(t, "", first["completion"])

	stepID := first["id"].(string)
	s.ok("/MilestoneTracker/completeStep", map[string]any{"session": session, "stepId": stepID})
	done := s.ok("/MilestoneTracker/_getCompleteSteps", map[string]any{"session": session, "goalId": goalID})
	assert.Len(t, done["steps"], 1)
	todo := s.ok("/MilestoneTracker/_getIncompleteSteps", map[string]any{"session": session, "goalId": goalID})
	assert.Len(t, todo["steps"], 1)

	goals := s.ok("/MilestoneTracker/_getGoals", map[string]any{"session": session})
	require.Len(t, goals["goals"], 1)
	assert.Equal(t, goalID, goals["goals"].([]any)[0].(map[string]any)["goalId"])
}

func TestGoalStepGenerationFailureStillAnswers(t *testing.T) {
	s := newTestServer(t, 2*time.Second, "no array here")
	_, session := s.login("fay")

	status, out := s.post("/MilestoneTracker/createGoal", map[string]any{
		"session": session, "hobby": "Chess", "description": "Win a game", "autoGenerate": true,
	})
	require.Equal(t, http.StatusOK, status, "%v", out)
	assert.NotEmpty(t, out["goalId"])
	assert.Equal(t, "Invalid response format", out["error"])
}

func TestManualGoal(t *testing.T) {
	s := newTestServer(t, 2*time.Second)
	_, session := s.login("gus")

	out := s.ok("/MilestoneTracker/createGoal", map[string]any{
		"session": session, "hobby": "Chess", "description": "Learn openings", "autoGenerate": false,
	})
	goalID := out["goalId"].(string)
	assert.NotContains(t, out, "steps")
	assert.Zero(t, s.llm.Calls())

	step := s.ok("/MilestoneTracker/addStep", map[string]any{"session": session, "goalId": goalID, "description": "Study the Italian"})
	assert.NotEmpty(t, step["step"])

	_, out = s.post("/MilestoneTracker/createGoal", map[string]any{
		"session": session, "hobby": "Chess", "description": "Again", "autoGenerate": false,
	})
	assert.Contains(t, out["error"], "An active goal for hobby 'Chess' already exists")

	s.ok("/MilestoneTracker/closeGoal", map[string]any{"session": session, "goalId": goalID})
	_, out = s.post("/MilestoneTracker/closeGoal", map[string]any{"session": session, "goalId": goalID})
	assert.Equal(t, "Goal "+goalID+" is already closed.", out["error"])
}

func TestCloseProfileDeletesAccount(t *testing.T) {
	s := newTestServer(t, 2*time.Second)
	_, session := s.login("hal")

	s.ok("/UserProfile/closeProfile", map[string]any{"session": session})
	require.Eventually(t, func() bool {
		_, out := s.post("/PasswordAuthentication/authenticate", map[string]any{"username": "hal", "password": "password1"})
		return out["error"] == "Invalid username or password."
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rows, err := s.app.Engine.Query(context.Background(), "Sessioning._isLoggedIn", ir.O("session", session))
		require.NoError(t, err)
		return ir.Equal(rows[0], ir.O("loggedIn", false))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestInvalidSessionTimesOut(t *testing.T) {
	s := newTestServer(t, 150*time.Millisecond)
	status, out := s.post("/UserProfile/setName", map[string]any{"session": "nope", "displayname": "X"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, map[string]any{"error": "Request timed out."}, out)
}

func TestCollectRoutesAnswerEmptyForInvalidSession(t *testing.T) {
	s := newTestServer(t, 2*time.Second)
	out := s.ok("/UserProfile/_getUserHobbies", map[string]any{"session": "nope"})
	assert.Equal(t, []any{}, out["hobbies"])
}

func TestHTTPSurface(t *testing.T) {
	s := newTestServer(t, time.Second)

	resp, err := http.Get(s.srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "Concept Server is running.", string(body))

	resp, err = http.Post(s.srv.URL+"/api/UserProfile/setName", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(s.srv.URL+"/api/UserProfile/setName", "application/json", strings.NewReader(`{"n": 1.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metrics), "hobbysync_http_requests_total")
}

func TestCatalogReferencesResolve(t *testing.T) {
	s := newTestServer(t, time.Second)
	for _, rule := range s.app.Rules {
		for _, w := range rule.When {
			assert.True(t, s.app.Registry.HasAction(ir.ActionRef(w.Action)), "%s: %s", rule.ID, w.Action)
		}
		for _, step := range rule.Where {
			if !step.IsCollect() {
				assert.True(t, s.app.Registry.HasQuery(ir.ActionRef(step.Query)), "%s: %s", rule.ID, step.Query)
			}
		}
		for _, th := range rule.Then {
			assert.True(t, s.app.Registry.HasAction(ir.ActionRef(th.Action)), "%s: %s", rule.ID, th.Action)
		}
	}
}

func TestNewLLMWithoutKey(t *testing.T) {
	assert.Nil(t, NewLLM(config.LLMConfig{}))
	cfg := config.Default().LLM
	cfg.APIKey = "k"
	assert.NotNil(t, NewLLM(cfg))
}

func TestConfiguredPassthroughRoutes(t *testing.T) {
	cfg := testConfig(t, 300*time.Millisecond)
	cfg.Server.Passthrough = []string{"/QuizMatchmaker/_getQuestions", "PasswordAuthentication/_getUserByUsername"}
	s := newTestServerWithConfig(t, cfg)

	// Answered with the bare rows, not a {questions} envelope.
	resp, err := http.Post(s.srv.URL+"/api/QuizMatchmaker/_getQuestions", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var questions []map[string]any
	require.NoError(t, json.Unmarshal(raw, &questions))
	require.Len(t, questions, 5)
	assert.NotEmpty(t, questions[0]["text"])

	s.ok("/PasswordAuthentication/register", map[string]any{"username": "hal", "password": "password1"})
	resp, err = http.Post(s.srv.URL+"/api/PasswordAuthentication/_getUserByUsername", "application/json", strings.NewReader(`{"username":"hal"}`))
	require.NoError(t, err)
	raw, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(raw, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "hal", users[0]["username"])

	// Routes off the list still go through the rules.
	status, out := s.post("/UserProfile/setName", map[string]any{"session": "nope", "displayname": "Hal"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "Request timed out.", out["error"])
}
