package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/RadAdrian/ai-marketplace-app/chat"
	"github.com/RadAdrian/ai-marketplace-app/controllers"
	"github.com/RadAdrian/ai-marketplace-app/controllers/auth"
	"github.com/RadAdrian/ai-marketplace-app/database"
	"github.com/RadAdrian/ai-marketplace-app/middleware"
	"github.com/RadAdrian/ai-marketplace-app/models"
	"github.com/RadAdrian/ai-marketplace-app/routes"
	"github.com/RadAdrian/ai-marketplace-app/store"
	"github.com/RadAdrian/ai-marketplace-app/utils"
)

func main() {
	// Load .env if present (do not overwrite already-set environment variables).
	if envMap, err := godotenv.Read(); err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	requiredEnvVars := []string{"DB_HOST", "DB_USER", "DB_PASS", "DB_NAME", "JWT_SECRET", "GEMINI_API_KEY"}
	for _, envVar := range requiredEnvVars {
		if os.Getenv(envVar) == "" {
			log.Fatalf("Required environment variable %s is not set", envVar)
		}
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	// Auto-migrate only in development to avoid accidental production schema changes
	if strings.ToLower(os.Getenv("ENV")) == "development" {
		log.Println("Running in development mode - performing auto-migration")
		if err := database.RunMigrationsWithBackup(db,
			&models.User{},
			&models.RefreshToken{},
			&models.Assistant{},
			&models.Conversation{},
			&models.UserMessageLog{},
		); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		log.Println("Auto-migration completed successfully")
	} else {
		log.Println("Running in production mode - skipping auto-migration")
	}

	// Guest counters live in Redis when configured so limits survive
	// restarts and hold across instances; in-memory otherwise.
	var kv chat.KeyValueStore
	if utils.RedisClient != nil {
		kv = store.NewRedisKV(utils.RedisClient)
	} else {
		log.Println("REDIS_ADDR not set - guest counters are in-memory")
		kv = chat.NewMemoryStore()
	}

	conversations := store.NewConversationStore(db)
	messageLog := store.NewMessageLogStore(db)
	assistantStore := store.NewAssistantStore(db)

	clock := chat.SystemClock()
	limiter := chat.NewLimiter(clock, kv, messageLog)

	manager := chat.NewManager(chat.Deps{
		Generator:   utils.GeminiGenerator{},
		Transcripts: conversations,
		Limiter:     limiter,
		Clock:       clock,
	})
	auth.ChatManager = manager

	runCtx, stopManager := context.WithCancel(context.Background())
	defer stopManager()
	go manager.Run(runCtx)

	assistantController := controllers.NewAssistantController(assistantStore)
	chatController := controllers.NewChatController(manager, assistantStore)

	router := routes.InitRouter(assistantController, chatController)

	// Global middleware: logging -> security headers / CORS -> request id ->
	// guest session -> max body -> timeout -> recovery
	handler := middleware.RequestLogMiddleware(
		middleware.SecurityHeadersMiddleware(
			middleware.RequestIDMiddleware(
				middleware.GuestSessionMiddleware(
					middleware.MaxBodyMiddleware(
						middleware.TimeoutMiddleware(
							middleware.RecoveryMiddleware(router),
						),
					),
				),
			),
		),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopManager()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
