package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/RadAdrian/ai-marketplace-app/controllers"
	"github.com/RadAdrian/ai-marketplace-app/controllers/auth"
	"github.com/RadAdrian/ai-marketplace-app/middleware"
)

// APIRoutes registers the auth, catalog and conversation endpoints on the
// given subrouter.
func APIRoutes(api *mux.Router, assistants *controllers.AssistantController, chats *controllers.ChatController) {
	// login/register: 60 per IP per 5 minutes
	loginLimiter := middleware.NewIPRateLimiter(60, 5*time.Minute)
	// per-user limiter with per-category rules, 60s window
	userLimiter := middleware.NewUserRateLimiter(60)
	// conversation reads are polled by the client, keep this loose
	conversationLimiter := middleware.NewIPRateLimiter(500, 5*time.Minute)
	// sends hit the upstream model, keep this tight per IP
	sendLimiter := middleware.NewIPRateLimiter(60, 5*time.Minute)

	// Register & Login
	api.Handle("/register", loginLimiter.Middleware(http.HandlerFunc(auth.RegisterHandler))).Methods(http.MethodPost)
	api.Handle("/login", loginLimiter.Middleware(http.HandlerFunc(auth.LoginHandler))).Methods(http.MethodPost)
	api.Handle("/refresh", loginLimiter.Middleware(http.HandlerFunc(auth.RefreshHandler))).Methods(http.MethodPost)
	api.Handle("/logout", userLimiter.Middleware(http.HandlerFunc(auth.LogoutHandler))).Methods(http.MethodPost)
	api.Handle("/logout-all", userLimiter.Middleware(middleware.AuthMiddleware(http.HandlerFunc(auth.LogoutAllHandler)))).Methods(http.MethodPost)

	// Assistant catalog
	api.Handle("/assistants", userLimiter.Middleware(middleware.OptionalAuthMiddleware(http.HandlerFunc(assistants.ListHandler)))).Methods(http.MethodGet)
	api.Handle("/assistants", userLimiter.Middleware(middleware.AuthMiddleware(http.HandlerFunc(assistants.CreateHandler)))).Methods(http.MethodPost)
	api.Handle("/assistants/image-upload", userLimiter.Middleware(middleware.AuthMiddleware(http.HandlerFunc(assistants.ImageUploadHandler)))).Methods(http.MethodPost)
	api.Handle("/assistants/{id}", userLimiter.Middleware(http.HandlerFunc(assistants.DetailHandler))).Methods(http.MethodGet)

	// Conversations: optional auth, guests ride on the session cookie
	api.Handle("/assistants/{id}/conversation",
		conversationLimiter.Middleware(middleware.OptionalAuthMiddleware(http.HandlerFunc(chats.GetConversationHandler)))).Methods(http.MethodGet)
	api.Handle("/assistants/{id}/conversation/messages",
		sendLimiter.Middleware(userLimiter.Middleware(middleware.OptionalAuthMiddleware(http.HandlerFunc(chats.SendMessageHandler))))).Methods(http.MethodPost)
	api.Handle("/assistants/{id}/conversation",
		userLimiter.Middleware(middleware.AuthMiddleware(http.HandlerFunc(chats.ResetConversationHandler)))).Methods(http.MethodDelete)
}
