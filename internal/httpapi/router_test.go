package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/phoenix-ai/platform/internal/ai"
	"github.com/phoenix-ai/platform/internal/assistant"
	"github.com/phoenix-ai/platform/internal/auth"
	"github.com/phoenix-ai/platform/internal/chat"
	"github.com/phoenix-ai/platform/internal/config"
	"github.com/phoenix-ai/platform/internal/httpapi/handlers"
	"github.com/phoenix-ai/platform/internal/ledger"
	"github.com/phoenix-ai/platform/internal/models"
	"github.com/phoenix-ai/platform/internal/moderation"
	"github.com/phoenix-ai/platform/internal/store/rabbitmq"
	"github.com/phoenix-ai/platform/internal/testutil"
)

const (
	testSecret     = "test-secret"
	testAdminToken = "admin-token"
)

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Chat(ctx context.Context, _ []ai.Message, params ai.Params) (*ai.Generation, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Generation{Text: p.reply, Model: params.Model}, nil
}

type fakeGrants struct {
	got []rabbitmq.CreditGrant
	err error
}

func (f *fakeGrants) PublishGrant(_ context.Context, g rabbitmq.CreditGrant) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, g)
	return nil
}

type env struct {
	r      *gin.Engine
	db     *gorm.DB
	prov   *stubProvider
	grants *fakeGrants
	user   *models.User
	token  string
}

func newEnv(t *testing.T, balance int64) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := testutil.OpenDB(t,
		&models.User{}, &models.CreditTransaction{},
		&assistant.Assistant{}, &chat.Conversation{}, &chat.Message{},
	)
	u := &models.User{Email: "api@example.com", Username: "api", Credits: balance}
	require.NoError(t, gdb.Create(u).Error)
	a := &assistant.Assistant{
		Name: "Helper", Slug: "helper", Training: "You help.", Active: true,
		Config: assistant.Config{MaxMessageLength: 100},
	}
	require.NoError(t, gdb.Create(a).Error)

	hash, err := auth.HashToken(testAdminToken)
	require.NoError(t, err)
	cfg := config.Config{
		JWTSecret:          testSecret,
		AdminTokenHash:     hash,
		CreditPerCharacter: 1,
		CreditDefaultFloor: 1,
	}

	prov := &stubProvider{reply: "Hi there"}
	led := ledger.New(gdb)
	svc := chat.NewService(chat.NewRepo(gdb), assistant.NewRepo(gdb), led,
		ai.NewGateway(prov, time.Second, ai.Params{Model: "m"}),
		moderation.NewGate(nil),
		chat.Options{
			CreditPerCharacter: 1,
			FallbackReply:      "placeholder",
			DefaultMemoryLimit: 10,
			FloorForTier:       func(string) int64 { return 1 },
		})
	grants := &fakeGrants{}

	tok, err := auth.SignJWT(u.ID, testSecret, time.Hour)
	require.NoError(t, err)

	return &env{
		r:      NewRouter(cfg, handlers.NewHandler(cfg, svc, led, grants)),
		db:     gdb,
		prov:   prov,
		grants: grants,
		user:   u,
		token:  tok,
	}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (e *env) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token}
}

func TestSendMessage(t *testing.T) {
	t.Run("charges and replies", func(t *testing.T) {
		e := newEnv(t, 50)
		w, out := e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": "Hello"}, e.bearer())
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "Hi there", out["reply"])
		assert.EqualValues(t, 8, out["credits_consumed"])
		assert.Len(t, out["conversation_id"], 26)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

		var u models.User
		require.NoError(t, e.db.First(&u, e.user.ID).Error)
		assert.Equal(t, int64(42), u.Credits)
	})

	t.Run("unknown assistant", func(t *testing.T) {
		e := newEnv(t, 50)
		w, _ := e.do(t, http.MethodPost, "/assistants/nope/messages", map[string]string{"message": "Hello"}, e.bearer())
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty message", func(t *testing.T) {
		e := newEnv(t, 50)
		w, out := e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": ""}, e.bearer())
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.EqualValues(t, 42202, out["code"])
	})

	t.Run("insufficient credits", func(t *testing.T) {
		e := newEnv(t, 0)
		w, _ := e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": "Hello"}, e.bearer())
		assert.Equal(t, http.StatusPaymentRequired, w.Code)

		var n int64
		require.NoError(t, e.db.Model(&chat.Message{}).Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("provider outage answers with placeholder", func(t *testing.T) {
		e := newEnv(t, 50)
		e.prov.err = errors.New("boom")
		w, out := e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": "Hello"}, e.bearer())
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "placeholder", out["reply"])
		assert.EqualValues(t, 0, out["credits_consumed"])
	})

	t.Run("bad token", func(t *testing.T) {
		e := newEnv(t, 50)
		w, _ := e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": "Hello"},
			map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestListMessages(t *testing.T) {
	e := newEnv(t, 50)
	_, out := e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": "Hello"}, e.bearer())
	convID, _ := out["conversation_id"].(string)
	require.NotEmpty(t, convID)

	w, list := e.do(t, http.MethodGet, "/conversations/"+convID+"/messages", nil, e.bearer())
	require.Equal(t, http.StatusOK, w.Code)
	msgs, _ := list["messages"].([]any)
	assert.Len(t, msgs, 2)

	// anonymous callers cannot read a user's conversation
	w, _ = e.do(t, http.MethodGet, "/conversations/"+convID+"/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMyCredits(t *testing.T) {
	e := newEnv(t, 30)

	w, _ := e.do(t, http.MethodGet, "/me/credits", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out := e.do(t, http.MethodGet, "/me/credits", nil, e.bearer())
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 30, out["balance"])
}

func TestGrantCredits(t *testing.T) {
	admin := map[string]string{"X-Admin-Token": testAdminToken}

	t.Run("requires admin token", func(t *testing.T) {
		e := newEnv(t, 0)
		w, _ := e.do(t, http.MethodPost, "/admin/credits", map[string]any{"user_id": e.user.ID, "amount": 5}, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, e.grants.got)
	})

	t.Run("queues a grant", func(t *testing.T) {
		e := newEnv(t, 0)
		w, out := e.do(t, http.MethodPost, "/admin/credits",
			map[string]any{"user_id": e.user.ID, "amount": 5, "reason": "purchase", "reference": "pay_1"}, admin)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, "pay_1", out["reference"])
		require.Len(t, e.grants.got, 1)
		assert.Equal(t, rabbitmq.CreditGrant{UserID: e.user.ID, Amount: 5, Reason: "purchase", Reference: "pay_1"}, e.grants.got[0])
	})

	t.Run("purchase without reference", func(t *testing.T) {
		e := newEnv(t, 0)
		w, _ := e.do(t, http.MethodPost, "/admin/credits",
			map[string]any{"user_id": e.user.ID, "amount": 5, "reason": "purchase"}, admin)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("adjustment gets a generated reference", func(t *testing.T) {
		e := newEnv(t, 0)
		w, out := e.do(t, http.MethodPost, "/admin/credits",
			map[string]any{"user_id": e.user.ID, "amount": 3}, admin)
		require.Equal(t, http.StatusAccepted, w.Code)
		ref, _ := out["reference"].(string)
		assert.Regexp(t, `^grant_[0-9A-Z]{26}$`, ref)
		require.Len(t, e.grants.got, 1)
		assert.Equal(t, models.ReasonAdjustment, e.grants.got[0].Reason)
	})

	t.Run("publish failure", func(t *testing.T) {
		e := newEnv(t, 0)
		e.grants.err = errors.New("closed")
		w, _ := e.do(t, http.MethodPost, "/admin/credits",
			map[string]any{"user_id": e.user.ID, "amount": 3}, admin)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestFlagMessage(t *testing.T) {
	e := newEnv(t, 50)
	_, _ = e.do(t, http.MethodPost, "/assistants/helper/messages", map[string]string{"message": "Hello"}, e.bearer())

	var m chat.Message
	require.NoError(t, e.db.Order("id ASC").First(&m).Error)

	w, _ := e.do(t, http.MethodPatch, "/admin/messages/"+strconv.FormatUint(m.ID, 10)+"/flag",
		map[string]any{"flagged": true, "reason": "spam"}, map[string]string{"X-Admin-Token": testAdminToken})
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, e.db.First(&m, m.ID).Error)
	assert.True(t, m.IsFlagged)
	require.NotNil(t, m.FlagReason)
	assert.Equal(t, "spam", *m.FlagReason)
}

func TestFlagMessage_Unknown(t *testing.T) {
	e := newEnv(t, 0)
	w, out := e.do(t, http.MethodPatch, "/admin/messages/999999/flag",
		map[string]any{"flagged": true}, map[string]string{"X-Admin-Token": testAdminToken})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.EqualValues(t, 40403, out["code"])
}

func TestSendMessage_MemoryLimit(t *testing.T) {
	e := newEnv(t, 50)
	w, _ := e.do(t, http.MethodPost, "/assistants/helper/messages",
		map[string]any{"message": "Hello", "memory_limit": 0}, e.bearer())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, out := e.do(t, http.MethodPost, "/assistants/helper/messages",
		map[string]any{"message": "Hello", "memory_limit": 3}, e.bearer())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var conv chat.Conversation
	require.NoError(t, e.db.Where("conversation_id = ?", out["conversation_id"]).First(&conv).Error)
	require.NotNil(t, conv.MemoryLimit)
	assert.Equal(t, 3, *conv.MemoryLimit)
}

func TestNoRoute(t *testing.T) {
	e := newEnv(t, 0)
	w, out := e.do(t, http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.EqualValues(t, 40400, out["code"])
}
