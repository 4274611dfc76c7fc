package controllers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/RadAdrian/ai-marketplace-app/middleware"
	"github.com/RadAdrian/ai-marketplace-app/store"
	"github.com/RadAdrian/ai-marketplace-app/utils"
)

// AssistantController serves the catalog endpoints.
type AssistantController struct {
	Assistants *store.AssistantStore
}

func NewAssistantController(assistants *store.AssistantStore) *AssistantController {
	return &AssistantController{Assistants: assistants}
}

// ListHandler returns the public templates for anonymous callers and the
// caller's own assistants when authenticated.
func (c *AssistantController) ListHandler(w http.ResponseWriter, r *http.Request) {
	var ownerID *uint
	if uid, ok := utils.GetUserID(r); ok {
		ownerID = &uid
	}
	assistants, err := c.Assistants.List(r.Context(), ownerID)
	if err != nil {
		log.Printf("[assistants] list failed: %v", err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Server error"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Assistants retrieved",
		Data:    map[string]interface{}{"assistants": assistants},
	})
}

func (c *AssistantController) DetailHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	assistant, err := c.Assistants.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Assistant not found"})
			return
		}
		log.Printf("[assistants] fetch %s failed: %v", id, err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Server error"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Assistant retrieved",
		Data:    map[string]interface{}{"assistant": assistant},
	})
}

type CreateAssistantRequest struct {
	Name         string   `json:"name" validate:"required,nameok"`
	Tagline      string   `json:"tagline" validate:"maxlen=255"`
	Description  string   `json:"description"`
	Category     string   `json:"category" validate:"maxlen=50"`
	Price        string   `json:"price" validate:"maxlen=20"`
	ImageURL     string   `json:"image_url" validate:"maxlen=512"`
	Features     []string `json:"features"`
	SystemPrompt string   `json:"system_prompt" validate:"required"`
	AccentColor  string   `json:"accent_color" validate:"maxlen=50"`
}

func (c *AssistantController) CreateHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := utils.GetUserID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}

	var req CreateAssistantRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}

	assistant, err := c.Assistants.Add(r.Context(), store.NewAssistantInput{
		Name:         strings.TrimSpace(req.Name),
		Tagline:      strings.TrimSpace(req.Tagline),
		Description:  req.Description,
		Category:     req.Category,
		Price:        req.Price,
		ImageURL:     req.ImageURL,
		Features:     req.Features,
		SystemPrompt: req.SystemPrompt,
		AccentColor:  req.AccentColor,
	}, uid)
	if err != nil {
		log.Printf("[assistants] create failed for user %d: %v", uid, err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to create assistant"})
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{
		Success: true,
		Message: "Assistant created",
		Data:    map[string]interface{}{"assistant": assistant},
	})
}

var allowedImageExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ImageUploadHandler accepts a multipart image and stores it in object
// storage, returning the public URL to use as the assistant image.
func (c *AssistantController) ImageUploadHandler(w http.ResponseWriter, r *http.Request) {
	uid, ok := utils.GetUserID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(5 << 20); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "image field is required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExt[ext] {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Unsupported image type"})
		return
	}

	// sniff the content type from the first bytes, not the filename
	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	contentType := http.DetectContentType(head[:n])
	if !strings.HasPrefix(contentType, "image/") {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "File is not an image"})
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Server error"})
		return
	}

	objectName := fmt.Sprintf("assistants/%d/%d-%s%s", uid, time.Now().Unix(), uuid.NewString()[:8], ext)
	if err := utils.UploadToS3(objectName, file, header.Size); err != nil {
		log.Printf("[assistants] image upload failed for user %d: %v", uid, err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Upload failed"})
		return
	}
	publicURL, err := utils.PublicObjectURL(objectName)
	if err != nil {
		log.Printf("[assistants] public URL build failed: %v", err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Upload failed"})
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{
		Success: true,
		Message: "Image uploaded",
		Data:    map[string]interface{}{"image_url": publicURL},
	})
}
