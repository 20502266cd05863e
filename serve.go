package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"echomind/config"
	"echomind/handlers"
	"echomind/services"
	"echomind/session"
	"echomind/store"
	"echomind/workflows"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the EchoMind API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required (config or DATABASE_URL)")
	}
	if cfg.Groq.APIKey == "" {
		return errors.New("groq api key is required (config or GROQ_API_KEY)")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	log.Info().Msg("connected to PostgreSQL database")

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	convStore := store.NewConversationStore(db)
	faqStore := store.NewFAQStore(db)

	groqService := services.NewGroqService(cfg)
	dispatcher := services.NewDispatcher(groqService)
	router := services.NewModelRouter(cfg.Routing.Indicators, cfg.Routing.SimpleModel, cfg.Routing.ComplexModel)

	chatWorkflows := workflows.NewChatWorkflows(dispatcher, convStore, cfg.Chat.Apology)

	// Initialize DBOS context for durable workflows
	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL: cfg.DatabaseURL,
		AppName:     "echomind",
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize DBOS")
	}

	// Register workflows with DBOS (MUST be before Launch)
	dbos.RegisterWorkflow(dbosCtx, chatWorkflows.CompletionTurnWorkflow)

	if err := dbos.Launch(dbosCtx); err != nil {
		return errors.Wrap(err, "failed to launch DBOS")
	}
	defer dbos.Shutdown(dbosCtx, 5*time.Second)
	log.Info().Msg("DBOS initialized - durable workflows enabled")

	registry := session.NewRegistry(session.Deps{
		Runner:        workflows.NewDBOSTurnRunner(dbosCtx, chatWorkflows),
		Router:        router,
		Greeting:      cfg.Chat.Greeting,
		Apology:       cfg.Chat.Apology,
		FallbackModel: cfg.Routing.FallbackModel,
		KnownModel:    cfg.KnownModel,
	}, convStore)

	chatHandler := handlers.NewChatHandler(registry, convStore)
	faqHandler := handlers.NewFAQHandler(faqStore)

	engine := gin.Default()

	// Enable CORS for local development
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api := engine.Group("/api")
	api.GET("/faqs", faqHandler.List)

	authed := api.Group("")
	authed.Use(handlers.RequireOwner)
	{
		authed.POST("/chat", chatHandler.Submit)
		authed.POST("/chat/clear", chatHandler.Clear)
		authed.GET("/conversations", chatHandler.ListConversations)
		authed.GET("/conversations/:id", chatHandler.GetConversation)
		authed.DELETE("/conversations/:id", chatHandler.DeleteConversation)
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "dbos": "enabled"})
	})

	log.Info().Str("addr", cfg.Addr).Msg("starting server")
	if err := engine.Run(cfg.Addr); err != nil {
		return errors.Wrap(err, "server exited")
	}
	return nil
}
