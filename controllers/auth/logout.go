package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/RadAdrian/ai-marketplace-app/chat"
	"github.com/RadAdrian/ai-marketplace-app/database"
	"github.com/RadAdrian/ai-marketplace-app/models"
	"github.com/RadAdrian/ai-marketplace-app/utils"
)

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// revokeAccessJTI revokes the access-token jti from the Authorization header,
// best effort. TTL matches the remaining token lifetime.
func revokeAccessJTI(r *http.Request) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	claims, err := utils.ValidateAccessToken(tokenStr)
	if err != nil {
		return
	}
	jtiRaw, ok := claims["jti"].(string)
	if !ok || jtiRaw == "" {
		return
	}
	var ttl time.Duration
	if expRaw, ok := claims["exp"].(float64); ok {
		ttl = time.Until(time.Unix(int64(expRaw), 0))
	}
	if ttl < 0 {
		ttl = 0
	}
	_ = utils.RevokeJTI(jtiRaw, ttl)
}

func notifySignedOut(userID uint) {
	if ChatManager == nil || userID == 0 {
		return
	}
	ChatManager.Notify(chat.AuthEvent{Type: chat.EventSignedOut, UserID: userID})
}

// LogoutHandler revokes a specific refresh token and the access token jti
// from the Authorization header when present.
func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON body"})
		return
	}
	if req.RefreshToken == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "refresh_token is required"})
		return
	}

	var userID uint
	if uid, err := utils.ExtractUserIDFromRequest(r); err == nil {
		userID = uid
	}
	revokeAccessJTI(r)

	if database.DB == nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Server error"})
		return
	}
	// Missing rows still return success to avoid token enumeration.
	_ = database.DB.Model(&models.RefreshToken{}).Where("id = ?", req.RefreshToken).Update("revoked", true).Error

	notifySignedOut(userID)

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Logged out"})
}
