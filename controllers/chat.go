package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/RadAdrian/ai-marketplace-app/chat"
	"github.com/RadAdrian/ai-marketplace-app/models"
	"github.com/RadAdrian/ai-marketplace-app/store"
	"github.com/RadAdrian/ai-marketplace-app/utils"
)

// ChatController serves the conversation endpoints for one assistant,
// for guests and registered users alike.
type ChatController struct {
	Manager    *chat.Manager
	Assistants *store.AssistantStore
}

func NewChatController(manager *chat.Manager, assistants *store.AssistantStore) *ChatController {
	return &ChatController{Manager: manager, Assistants: assistants}
}

func requestIdentity(r *http.Request) (chat.Identity, bool) {
	if uid, ok := utils.GetUserID(r); ok {
		return chat.Identity{UserID: uid}, true
	}
	if key := utils.GetGuestSession(r); key != "" {
		return chat.Identity{SessionKey: key}, true
	}
	return chat.Identity{}, false
}

func (c *ChatController) loadAssistant(w http.ResponseWriter, r *http.Request) *models.Assistant {
	id := mux.Vars(r)["id"]
	assistant, err := c.Assistants.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Assistant not found"})
			return nil
		}
		log.Printf("[chat] assistant fetch %s failed: %v", id, err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Server error"})
		return nil
	}
	return assistant
}

// GetConversationHandler returns the current transcript, session state,
// remaining message quota and any pending warning for the caller's
// conversation with an assistant.
func (c *ChatController) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(r)
	if !ok {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "No session"})
		return
	}
	assistant := c.loadAssistant(w, r)
	if assistant == nil {
		return
	}

	session := c.Manager.Session(r.Context(), identity, *assistant)
	messages, state, warning := session.Snapshot()

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Conversation retrieved",
		Data: map[string]interface{}{
			"assistant_id": assistant.ID,
			"messages":     messages,
			"state":        state,
			"warning":      warning,
			"remaining":    session.Remaining(r.Context()),
		},
	})
}

type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessageHandler submits one user message and waits for the assistant
// reply. Generation failures still return 200 with an error bubble as the
// reply; quota and concurrency violations map to 4xx statuses.
func (c *ChatController) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(r)
	if !ok {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "No session"})
		return
	}
	assistant := c.loadAssistant(w, r)
	if assistant == nil {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON body"})
		return
	}

	session := c.Manager.Session(r.Context(), identity, *assistant)
	reply, err := session.Submit(r.Context(), req.Message)
	if err != nil {
		_, _, warning := session.Snapshot()
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Message must not be empty"})
		case errors.Is(err, chat.ErrSendInFlight):
			utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "A message is already being processed"})
		case errors.Is(err, chat.ErrGuestLimitReached):
			utils.WriteJSON(w, http.StatusTooManyRequests, utils.APIResponse{
				Success: false,
				Message: warning,
				Data:    map[string]interface{}{"auth_required": true},
			})
		case errors.Is(err, chat.ErrUserLimitReached):
			utils.WriteJSON(w, http.StatusTooManyRequests, utils.APIResponse{Success: false, Message: warning})
		case errors.Is(err, chat.ErrSuperseded):
			utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "Session was superseded, please reload the conversation"})
		default:
			log.Printf("[chat] submit failed for assistant %s: %v", assistant.ID, err)
			utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Server error"})
		}
		return
	}

	messages, state, warning := session.Snapshot()
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Message sent",
		Data: map[string]interface{}{
			"reply":    reply,
			"messages": messages,
			"state":    state,
			"warning":  warning,
		},
	})
}

type ResetConversationRequest struct {
	Confirm bool `json:"confirm"`
}

// ResetConversationHandler deletes the transcript and reseeds the greeting.
// Registered users only, and destructive, so the body must carry
// {"confirm": true}.
func (c *ChatController) ResetConversationHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(r)
	if !ok || identity.Guest() {
		utils.WriteJSON(w, http.StatusForbidden, utils.APIResponse{Success: false, Message: "Guests cannot reset conversations"})
		return
	}
	assistant := c.loadAssistant(w, r)
	if assistant == nil {
		return
	}

	var req ResetConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON body"})
		return
	}

	session := c.Manager.Session(r.Context(), identity, *assistant)
	if err := session.Reset(r.Context(), req.Confirm); err != nil {
		switch {
		case errors.Is(err, chat.ErrGuestReset):
			utils.WriteJSON(w, http.StatusForbidden, utils.APIResponse{Success: false, Message: "Guests cannot reset conversations"})
		case errors.Is(err, chat.ErrConfirmationRequired):
			utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Reset requires confirmation"})
		case errors.Is(err, chat.ErrSendInFlight):
			utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "A message is still being processed"})
		default:
			log.Printf("[chat] reset failed for assistant %s: %v", assistant.ID, err)
			utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Could not reset conversation"})
		}
		return
	}

	messages, state, warning := session.Snapshot()
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Conversation reset",
		Data: map[string]interface{}{
			"messages": messages,
			"state":    state,
			"warning":  warning,
		},
	})
}
