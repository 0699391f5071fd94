package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"classcare-chatbot/internal/ai"
	"classcare-chatbot/internal/chunk"
	"classcare-chatbot/internal/config"
	"classcare-chatbot/internal/model"
	mysqlClient "classcare-chatbot/internal/platform/mysql"
	rabbitmqClient "classcare-chatbot/internal/platform/rabbitmq"
	redisClient "classcare-chatbot/internal/platform/redis"
	"classcare-chatbot/internal/repository"
	"classcare-chatbot/internal/vectorstore"
	"classcare-chatbot/internal/worker"
)

type App struct {
	Config        *config.Config
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	VectorStore   vectorstore.VectorStore
	MessageWorker *worker.MessagePersistWorker
	IngestWorker  *worker.DocumentIngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Session{},
		&model.Message{},
		&model.Document{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(ctx, cfg, mysqlDB)
	if err != nil {
		return nil, err
	}

	messageRepo := repository.NewMessageRepository(mysqlDB)
	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}

	docRepo := repository.NewDocumentRepository(mysqlDB)
	embConfig := ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	}
	ingestWorker := worker.NewDocumentIngestWorker(
		mqConn,
		docRepo,
		ai.NewOpenAICompatibleClient(),
		store,
		chunk.NewSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		embConfig,
		cfg.RAG.EmbeddingBatchSize,
		cfg.RabbitMQ.DocumentIngestQueue,
	)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:        cfg,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		VectorStore:   store,
		MessageWorker: messageWorker,
		IngestWorker:  ingestWorker,
		StartedAt:     time.Now(),
	}, nil
}

func newVectorStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (vectorstore.VectorStore, error) {
	var store vectorstore.VectorStore
	switch cfg.VectorStore.Driver {
	case "milvus":
		store = vectorstore.NewMilvusStore(vectorstore.MilvusConfig{
			Addr:       cfg.VectorStore.MilvusAddr,
			Collection: cfg.VectorStore.Collection,
		})
	case "mysql":
		store = vectorstore.NewMySQLStore(db)
	default:
		return nil, fmt.Errorf("unknown vector store driver %q", cfg.VectorStore.Driver)
	}

	if err := store.Init(ctx, cfg.VectorStore.Dimension); err != nil {
		return nil, fmt.Errorf("init vector store failed: %w", err)
	}
	return store, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
