package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"classcare-chatbot/internal/ai"
	"classcare-chatbot/internal/model"
	"classcare-chatbot/internal/repository"
	"classcare-chatbot/internal/vectorstore"
)

type fakePublisher struct {
	published []model.Message
	failNext  bool
	calls     *[]string // optional shared call log
}

func (p *fakePublisher) Publish(_ context.Context, msg model.Message) error {
	if p.failNext {
		return assert.AnError
	}
	if p.calls != nil {
		*p.calls = append(*p.calls, "publish")
	}
	p.published = append(p.published, msg)
	return nil
}

// fakeHistoryCache records every call into a shared log so tests can assert
// ordering against the publisher.
type fakeHistoryCache struct {
	calls  *[]string
	dirty  bool
	stored []model.Message
	hit    bool
}

func (c *fakeHistoryCache) record(name string) {
	if c.calls != nil {
		*c.calls = append(*c.calls, name)
	}
}

func (c *fakeHistoryCache) GetHistory(context.Context, uint) ([]model.Message, bool, error) {
	c.record("get_history")
	return c.stored, c.hit, nil
}

func (c *fakeHistoryCache) SetHistory(_ context.Context, _ uint, messages []model.Message) error {
	c.record("set_history")
	c.stored = messages
	c.hit = true
	return nil
}

func (c *fakeHistoryCache) DeleteHistory(context.Context, uint) error {
	c.record("delete_history")
	c.stored = nil
	c.hit = false
	return nil
}

func (c *fakeHistoryCache) MarkDirty(context.Context, uint) error {
	c.record("mark_dirty")
	return nil
}

func (c *fakeHistoryCache) IsDirty(context.Context, uint) (bool, error) {
	return c.dirty, nil
}

type fakeStore struct {
	hits         []vectorstore.ScoredChunk
	searchedWith []float32
	deletedDocs  []uint
	deleteErr    error
}

func (s *fakeStore) Init(context.Context, int) error { return nil }
func (s *fakeStore) Upsert(context.Context, []vectorstore.ChunkRecord) error {
	return nil
}
func (s *fakeStore) Search(_ context.Context, vector []float32, _ int) ([]vectorstore.ScoredChunk, error) {
	s.searchedWith = vector
	return s.hits, nil
}
func (s *fakeStore) DeleteByDocumentID(_ context.Context, documentID uint) error {
	s.deletedDocs = append(s.deletedDocs, documentID)
	return s.deleteErr
}
func (s *fakeStore) Ping(context.Context) error { return nil }

// newFakeLLMServer answers both /embeddings and /chat/completions and
// records the last chat request body.
func newFakeLLMServer(t *testing.T, answer string, lastChatBody *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embeddings":
			var body struct {
				Input []string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			data := make([]map[string]interface{}, len(body.Input))
			for i := range body.Input {
				data[i] = map[string]interface{}{"embedding": []float32{0.1, 0.2, 0.3}}
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
		case "/chat/completions":
			if lastChatBody != nil {
				require.NoError(t, json.NewDecoder(r.Body).Decode(lastChatBody))
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{"content": answer}},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

type chatFixture struct {
	service   *ChatService
	publisher *fakePublisher
	store     *fakeStore
	sessions  *repository.SessionRepository
	messages  *repository.MessageRepository
}

func newChatFixture(t *testing.T, serverURL string, store *fakeStore) *chatFixture {
	return newChatFixtureWithCache(t, serverURL, store, nil)
}

func newChatFixtureWithCache(t *testing.T, serverURL string, store *fakeStore, cache HistoryCache) *chatFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Session{}, &model.Message{}))

	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	publisher := &fakePublisher{}

	service := NewChatService(
		sessionRepo,
		messageRepo,
		publisher,
		cache,
		store,
		ai.ChatConfig{BaseURL: serverURL, APIKey: "test-key", Model: "test-model", Temperature: 0.7},
		ai.EmbeddingConfig{BaseURL: serverURL, APIKey: "test-key", Model: "test-emb"},
		4,
		10,
	)
	return &chatFixture{
		service:   service,
		publisher: publisher,
		store:     store,
		sessions:  sessionRepo,
		messages:  messageRepo,
	}
}

func TestSendMessageWithRetrievedContext(t *testing.T) {
	var chatBody map[string]interface{}
	server := newFakeLLMServer(t, "Refunds take five business days.", &chatBody)
	defer server.Close()

	store := &fakeStore{hits: []vectorstore.ScoredChunk{
		{DocumentID: 1, Title: "billing", Content: "Refund processing requires five business days.", Score: 0.93},
	}}
	fx := newChatFixture(t, server.URL, store)

	result, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "How long do refunds take?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Refunds take five business days.", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, uint(1), result.Sources[0].DocumentID)
	assert.NotZero(t, result.SessionID)
	assert.NotEmpty(t, store.searchedWith)

	// Both sides of the exchange were enqueued for persistence.
	require.Len(t, fx.publisher.published, 2)
	assert.Equal(t, model.RoleHuman, fx.publisher.published[0].Role)
	assert.Equal(t, model.RoleAI, fx.publisher.published[1].Role)

	// The prompt carries the persona, the context block and the question.
	msgs := chatBody["messages"].([]interface{})
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
	last := msgs[len(msgs)-1].(map[string]interface{})
	content := last["content"].(string)
	assert.Contains(t, content, "Context: Refund processing requires five business days.")
	assert.Contains(t, content, "Question: How long do refunds take?")
}

func TestSendMessageAutoCreatesSessionTitledFromQuestion(t *testing.T) {
	server := newFakeLLMServer(t, "hi", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})

	longQuestion := strings.Repeat("word ", 30)
	result, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: longQuestion,
	})
	require.NoError(t, err)

	session, err := fx.sessions.GetByIDAndUserID(result.SessionID, 1)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, strings.HasSuffix(session.Title, "..."))
	assert.LessOrEqual(t, len([]rune(session.Title)), 53)
}

func TestSendMessageDegradesWithoutDocuments(t *testing.T) {
	var chatBody map[string]interface{}
	server := newFakeLLMServer(t, "plain answer", &chatBody)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{}) // no hits

	result, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "hello there",
	})
	require.NoError(t, err)

	assert.Empty(t, result.Sources)
	msgs := chatBody["messages"].([]interface{})
	last := msgs[len(msgs)-1].(map[string]interface{})
	assert.Equal(t, "hello there", last["content"])
}

func TestSendMessageEmptyContent(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})

	_, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "   \n ",
	})
	assert.ErrorIs(t, err, ErrMessageEmpty)
}

func TestSendMessageUnknownSession(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})

	_, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: 777,
		Content:   "hi",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSendMessageForeignSession(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})
	other, err := fx.service.CreateSession(CreateSessionInput{UserID: 2, Title: "theirs"})
	require.NoError(t, err)

	_, err = fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: other.ID,
		Content:   "hi",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSendMessageEnqueueFailure(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})
	fx.publisher.failNext = true

	_, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "hi",
	})
	assert.ErrorIs(t, err, ErrMessageEnqueue)
}

func TestSendMessageMissingLLMConfig(t *testing.T) {
	fx := newChatFixture(t, "", &fakeStore{})

	_, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "hi",
	})
	assert.ErrorIs(t, err, ErrLLMConfig)
}

func TestSendMessageMasksAPIKeyInRequestLog(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})

	result, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "hi",
	})
	require.NoError(t, err)
	assert.NotContains(t, result.LLMRequest.APIKeyMasked, "test-key")
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})
	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 1, Title: "t"})
	require.NoError(t, err)

	require.NoError(t, fx.messages.Create(&model.Message{
		SessionID: session.ID, UserID: 1, Role: model.RoleHuman, Content: "hi",
	}))

	require.NoError(t, fx.service.DeleteSession(1, session.ID))

	left, err := fx.messages.ListBySessionID(session.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, left)

	sessions, err := fx.service.ListSessions(1)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestDeleteSessionForeignOwner(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})
	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 2, Title: "t"})
	require.NoError(t, err)

	err = fx.service.DeleteSession(1, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetSessionMessagesFromDatabase(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})
	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 1, Title: "t"})
	require.NoError(t, err)

	require.NoError(t, fx.messages.Create(&model.Message{
		SessionID: session.ID, UserID: 1, Role: model.RoleHuman, Content: "question",
	}))
	require.NoError(t, fx.messages.Create(&model.Message{
		SessionID: session.ID, UserID: 1, Role: model.RoleAI, Content: "answer",
	}))

	messages, err := fx.service.GetSessionMessages(1, session.ID, 100)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "question", messages[0].Content)
}

func TestSendMessageInvalidatesCacheBeforeEnqueue(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	var calls []string
	cache := &fakeHistoryCache{calls: &calls}
	fx := newChatFixtureWithCache(t, server.URL, &fakeStore{}, cache)
	fx.publisher.calls = &calls

	_, err := fx.service.SendMessage(context.Background(), SendMessageInput{
		UserID:  1,
		Content: "hi",
	})
	require.NoError(t, err)

	// Both the human and the ai message are guarded by a dirty marker and a
	// cache delete before they hit the queue.
	assert.Equal(t, []string{
		"mark_dirty", "delete_history", "publish",
		"mark_dirty", "delete_history", "publish",
	}, calls)
}

func TestGetSessionMessagesSkipsCacheSetWhileDirty(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	var calls []string
	cache := &fakeHistoryCache{calls: &calls, dirty: true}
	fx := newChatFixtureWithCache(t, server.URL, &fakeStore{}, cache)

	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 1, Title: "t"})
	require.NoError(t, err)
	require.NoError(t, fx.messages.Create(&model.Message{
		SessionID: session.ID, UserID: 1, Role: model.RoleHuman, Content: "hi",
	}))

	messages, err := fx.service.GetSessionMessages(1, session.ID, 100)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.NotContains(t, calls, "set_history")
	assert.NotContains(t, calls, "get_history")
}

func TestGetSessionMessagesServesFromCache(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	cached := []model.Message{
		{SessionID: 1, UserID: 1, Role: model.RoleHuman, Content: "cached question"},
		{SessionID: 1, UserID: 1, Role: model.RoleAI, Content: "cached answer"},
	}
	cache := &fakeHistoryCache{stored: cached, hit: true}
	fx := newChatFixtureWithCache(t, server.URL, &fakeStore{}, cache)

	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 1, Title: "t"})
	require.NoError(t, err)

	// Nothing in the database; the cached copy is served as-is.
	messages, err := fx.service.GetSessionMessages(1, session.ID, 100)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "cached question", messages[0].Content)
}

func TestGetSessionMessagesCachesFullWindowOnLimitedRead(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	cache := &fakeHistoryCache{}
	fx := newChatFixtureWithCache(t, server.URL, &fakeStore{}, cache)

	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 1, Title: "t"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.messages.Create(&model.Message{
			SessionID: session.ID, UserID: 1, Role: model.RoleHuman,
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	// A limited read returns the newest message but must not poison the
	// cache with the truncated list.
	messages, err := fx.service.GetSessionMessages(1, session.ID, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "message 2", messages[0].Content)
	assert.Len(t, cache.stored, 3)

	// A later full read served from the cache still sees everything.
	messages, err = fx.service.GetSessionMessages(1, session.ID, 100)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestCreateSessionDefaultTitle(t *testing.T) {
	server := newFakeLLMServer(t, "x", nil)
	defer server.Close()

	fx := newChatFixture(t, server.URL, &fakeStore{})

	session, err := fx.service.CreateSession(CreateSessionInput{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, "New Chat", session.Title)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	masked := maskSecret("sk-abcdefghijklmnop")
	assert.True(t, strings.HasPrefix(masked, "sk-a"))
	assert.True(t, strings.HasSuffix(masked, "mnop"))
	assert.Contains(t, masked, "***")
}
