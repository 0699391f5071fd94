package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"classcare-chatbot/internal/ai"
	"classcare-chatbot/internal/model"
	"classcare-chatbot/internal/repository"
	"classcare-chatbot/internal/vectorstore"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrLLMConfig       = errors.New("llm config is invalid")
	ErrMessageEnqueue  = errors.New("message enqueue failed")
)

const (
	sessionTitleMaxRunes  = 50
	sourceSnippetMaxRunes = 200

	systemPrompt = "You are a helpful AI assistant for ClassCare software. " +
		"Use the following pieces of context to answer the question at the end. " +
		"If you don't know the answer based on the context, just say that you don't know, " +
		"don't try to make up an answer. Always be friendly, professional, and helpful."
)

type ChatService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	store        vectorstore.VectorStore
	llmClient    *ai.OpenAICompatibleClient
	chatConfig   ai.ChatConfig
	embConfig    ai.EmbeddingConfig
	topK         int
	maxHistory   int
}

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

type CreateSessionInput struct {
	UserID uint
	Title  string
}

type SendMessageInput struct {
	UserID    uint
	SessionID uint // 0 = auto-create a session titled from the question
	Content   string
}

type LLMRequestLog struct {
	BaseURL      string           `json:"base_url"`
	Model        string           `json:"model"`
	APIKeyMasked string           `json:"api_key_masked"`
	Messages     []ai.ChatMessage `json:"messages"`
}

type SendMessageResult struct {
	SessionID  uint                   `json:"session_id"`
	Answer     string                 `json:"answer"`
	Sources    []model.SourceDocument `json:"source_documents"`
	Messages   []model.Message        `json:"messages"`
	LLMRequest LLMRequestLog          `json:"llm_request"`
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	store vectorstore.VectorStore,
	chatConfig ai.ChatConfig,
	embConfig ai.EmbeddingConfig,
	topK int,
	maxHistory int,
) *ChatService {
	if topK <= 0 {
		topK = 4
	}
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		publisher:    publisher,
		historyCache: historyCache,
		store:        store,
		llmClient:    ai.NewOpenAICompatibleClient(),
		chatConfig:   chatConfig,
		embConfig:    embConfig,
		topK:         topK,
		maxHistory:   maxHistory,
	}
}

func (s *ChatService) CreateSession(input CreateSessionInput) (*model.Session, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Chat"
	}

	session := &model.Session{
		UserID: input.UserID,
		Title:  title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

func (s *ChatService) DeleteSession(userID, sessionID uint) error {
	if userID == 0 || sessionID == 0 {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), sessionID)
	}
	return nil
}

// SendMessage answers a question with retrieval-augmented generation: the
// question is embedded, the top-k most similar chunks become the context
// block of the prompt, and both sides of the exchange are persisted
// asynchronously. With an empty index the call degrades to plain chat.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	session, err := s.resolveSession(input.UserID, input.SessionID, content)
	if err != nil {
		return nil, err
	}

	if err := s.validateLLM(); err != nil {
		return nil, err
	}

	sources, contextBlock, err := s.retrieve(ctx, content)
	if err != nil {
		return nil, err
	}

	promptMessages, err := s.buildPromptMessages(session.ID, contextBlock, content)
	if err != nil {
		return nil, err
	}

	userMessage := model.Message{
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleHuman,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.enqueue(ctx, userMessage); err != nil {
		return nil, err
	}

	answer, err := s.llmClient.Complete(ctx, s.chatConfig, promptMessages)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}

	assistantMessage := model.Message{
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleAI,
		Content:   answer,
		CreatedAt: time.Now(),
	}
	assistantMessage.SetSourceDocuments(sources)
	if err := s.enqueue(ctx, assistantMessage); err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Touch(session.ID); err != nil {
		log.Printf("touch session %d failed: %v", session.ID, err)
	}

	return &SendMessageResult{
		SessionID: session.ID,
		Answer:    answer,
		Sources:   sources,
		Messages:  []model.Message{userMessage, assistantMessage},
		LLMRequest: LLMRequestLog{
			BaseURL:      s.chatConfig.BaseURL,
			Model:        s.chatConfig.Model,
			APIKeyMasked: maskSecret(s.chatConfig.APIKey),
			Messages:     promptMessages,
		},
	}, nil
}

// StreamMessage is SendMessage with the completion streamed through onChunk.
func (s *ChatService) StreamMessage(
	ctx context.Context,
	input SendMessageInput,
	onChunk func(string) error,
) (*SendMessageResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	session, err := s.resolveSession(input.UserID, input.SessionID, content)
	if err != nil {
		return nil, err
	}
	if err := s.validateLLM(); err != nil {
		return nil, err
	}

	sources, contextBlock, err := s.retrieve(ctx, content)
	if err != nil {
		return nil, err
	}
	promptMessages, err := s.buildPromptMessages(session.ID, contextBlock, content)
	if err != nil {
		return nil, err
	}

	userMessage := model.Message{
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleHuman,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.enqueue(ctx, userMessage); err != nil {
		return nil, err
	}

	full, err := s.llmClient.StreamComplete(ctx, s.chatConfig, promptMessages, onChunk)
	if err != nil {
		return nil, err
	}
	full = strings.TrimSpace(full)
	if full == "" {
		full = "The model returned an empty response."
	}

	assistantMessage := model.Message{
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleAI,
		Content:   full,
		CreatedAt: time.Now(),
	}
	assistantMessage.SetSourceDocuments(sources)
	if err := s.enqueue(ctx, assistantMessage); err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Touch(session.ID); err != nil {
		log.Printf("touch session %d failed: %v", session.ID, err)
	}

	return &SendMessageResult{
		SessionID: session.ID,
		Answer:    full,
		Sources:   sources,
		Messages:  []model.Message{userMessage, assistantMessage},
	}, nil
}

// historyCacheWindow is the span of messages kept in the Redis copy of a
// session. Only full-window fetches populate the cache, so a read with a
// small limit can never leave a truncated list behind for later readers.
const historyCacheWindow = 100

// GetSessionMessages serves a session's messages, preferring the Redis copy
// when it is present and not dirty.
func (s *ChatService) GetSessionMessages(userID, sessionID uint, limit int) ([]model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if limit <= 0 {
		limit = historyCacheWindow
	}
	if limit > historyCacheWindow {
		// Oversized reads bypass the cache entirely.
		return s.messageRepo.ListBySessionID(sessionID, limit)
	}

	ctx := context.Background()
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, historyCacheWindow)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return trimMessages(messages, limit), nil
}

// resolveSession loads the user's session, or creates one titled from the
// question when sessionID is zero.
func (s *ChatService) resolveSession(userID, sessionID uint, question string) (*model.Session, error) {
	if sessionID != 0 {
		session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrSessionNotFound
		}
		return session, nil
	}

	title := question
	if runes := []rune(title); len(runes) > sessionTitleMaxRunes {
		title = string(runes[:sessionTitleMaxRunes]) + "..."
	}
	session := &model.Session{UserID: userID, Title: title}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

// retrieve embeds the question and searches the vector store. No hits is not
// an error: the answer is then generated without a context block.
func (s *ChatService) retrieve(ctx context.Context, question string) ([]model.SourceDocument, string, error) {
	if s.store == nil {
		return nil, "", nil
	}

	queryEmb, err := s.llmClient.Embed(ctx, s.embConfig, question)
	if err != nil {
		return nil, "", fmt.Errorf("embed question failed: %w", err)
	}

	hits, err := s.store.Search(ctx, queryEmb, s.topK)
	if err != nil {
		return nil, "", fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, "", nil
	}

	var sb strings.Builder
	sources := make([]model.SourceDocument, 0, len(hits))
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(hit.Content)

		snippet := hit.Content
		if runes := []rune(snippet); len(runes) > sourceSnippetMaxRunes {
			snippet = string(runes[:sourceSnippetMaxRunes]) + "..."
		}
		sources = append(sources, model.SourceDocument{
			DocumentID: hit.DocumentID,
			Title:      hit.Title,
			Content:    snippet,
			Score:      hit.Score,
		})
	}
	return sources, sb.String(), nil
}

// buildPromptMessages assembles persona + rolling history window + the
// current question with its retrieved context.
func (s *ChatService) buildPromptMessages(sessionID uint, contextBlock, question string) ([]ai.ChatMessage, error) {
	// maxHistory counts (human, ai) pairs.
	recent, err := s.messageRepo.ListRecentBySessionID(sessionID, s.maxHistory*2)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.ChatMessage, 0, len(recent)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    "system",
		Content: systemPrompt,
	})
	for _, item := range recent {
		role := "user"
		if item.Role == model.RoleAI {
			role = "assistant"
		}
		messages = append(messages, ai.ChatMessage{
			Role:    role,
			Content: item.Content,
		})
	}

	userContent := question
	if contextBlock != "" {
		userContent = "Context: " + contextBlock + "\n\nQuestion: " + question + "\n\nHelpful Answer:"
	}
	messages = append(messages, ai.ChatMessage{
		Role:    "user",
		Content: userContent,
	})
	return messages, nil
}

func (s *ChatService) enqueue(ctx context.Context, msg model.Message) error {
	if s.publisher == nil {
		return ErrMessageEnqueue
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, msg.SessionID)
		_ = s.historyCache.DeleteHistory(ctx, msg.SessionID)
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return ErrMessageEnqueue
	}
	return nil
}

func (s *ChatService) validateLLM() error {
	if s.chatConfig.BaseURL == "" || s.chatConfig.APIKey == "" || s.chatConfig.Model == "" {
		return ErrLLMConfig
	}
	return nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
