package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graphloom/loom/internal/queue"
	mid "github.com/graphloom/loom/internal/server/middleware"
	"github.com/graphloom/loom/internal/util"
	"github.com/graphloom/loom/migrations"
	"github.com/graphloom/loom/pkg/ai"
	oai "github.com/graphloom/loom/pkg/ai/ollama"
	gai "github.com/graphloom/loom/pkg/ai/openai"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/query"
	pgstore "github.com/graphloom/loom/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/net/netutil"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := migrations.Up(databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	graphStore, err := pgstore.NewGraphDBStoreWithConnection(ctx, conn)
	if err != nil {
		logger.Fatal("Failed to create graph store", "err", err)
	}

	querySvc, err := query.NewService(query.NewServiceParams{
		Store:    graphStore,
		AI:       newAIClient(),
		Limit:    int(util.GetEnvNumeric("QUERY_LIMIT", 0)),
		MinScore: util.GetEnvFloat("QUERY_MIN_SCORE", 0),
		Depth:    int(util.GetEnvNumeric("QUERY_DEPTH", 0)),
		MaxNodes: int(util.GetEnvNumeric("QUERY_MAX_NODES", 0)),
	})
	if err != nil {
		logger.Fatal("Failed to create query service", "err", err)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, []string{queue.RunQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	app := &mid.App{
		Store: graphStore,
		Query: querySvc,
		Queue: ch,
		Publish: func(queueName string, data []byte) error {
			return queue.PublishFIFO(ch, queueName, data)
		},
		Key:            &k,
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("32M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}

		ln, err := net.Listen("tcp", ":"+port)
		if err != nil {
			logger.Fatal("Failed to listen", "port", port, "err", err)
		}
		maxConns := int(util.GetEnvNumeric("MAX_CONNS", 256))
		e.Listener = netutil.LimitListener(ln, maxConns)

		logger.Info("Starting server", "port", port, "max_conns", maxConns)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// newAIClient builds the embedding client for the query path from the
// same environment the worker reads.
func newAIClient() ai.Client {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
			RequestsPerSecond:     util.GetEnvFloat("AI_REQ_PER_SEC", 0),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
			RequestsPerSecond:     util.GetEnvFloat("AI_REQ_PER_SEC", 0),
		})
	}
}
