package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/zhouzirui/gamechat/backend/internal/logging"
	chatmodel "github.com/zhouzirui/gamechat/backend/internal/model/chat"
	"github.com/zhouzirui/gamechat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/gamechat/backend/internal/service/chat"
	"github.com/zhouzirui/gamechat/backend/pkg/utils"
)

const contentRequired = "Message content is required"

// Service 聊天编排服务接口
type Service interface {
	ListSessions(ctx context.Context) ([]chatmodel.Session, error)
	CreateSession(ctx context.Context, title string) (chatmodel.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListMessages(ctx context.Context, sessionID string) ([]chatmodel.MessageWithRecommendations, error)
	SendMessage(ctx context.Context, sessionID, content string) (*chatmodel.AssistantReply, error)
}

var _ Service = (*chatservice.Service)(nil)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  Service
	validate *validator.Validate
}

// New 创建聊天处理器
func New(chatSvc Service) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes 注册会话与消息路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
}

type createSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type sendMessageRequest struct {
	Content string `validate:"required,max=4000"`
}

// errorMessages 每个路由对外暴露的错误文案
type errorMessages struct {
	notFound     string
	internal     string
	includeCause bool
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, r, err, errorMessages{internal: "Failed to get chat sessions"})
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, utils.ErrEmptyBody) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "title must be at most 200 characters")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.Title)
	if err != nil {
		respondServiceError(w, r, err, errorMessages{internal: "Failed to create chat session"})
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.DeleteSession(r.Context(), sessionID); err != nil {
		respondServiceError(w, r, err, errorMessages{
			notFound: "Session not found",
			internal: "Failed to delete session",
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.ListMessages(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, r, err, errorMessages{internal: "Failed to get messages"})
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var raw struct {
		Content json.RawMessage `json:"content"`
	}
	if err := utils.DecodeJSON(r, &raw); err != nil {
		msg := err.Error()
		if errors.Is(err, utils.ErrEmptyBody) {
			msg = contentRequired
		}
		utils.RespondError(w, http.StatusBadRequest, msg)
		return
	}

	// content 必须是字符串, 数字/对象/null 一律拒绝
	var payload sendMessageRequest
	if len(raw.Content) == 0 || json.Unmarshal(raw.Content, &payload.Content) != nil || string(raw.Content) == "null" {
		utils.RespondError(w, http.StatusBadRequest, contentRequired)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	reply, err := h.chatSvc.SendMessage(r.Context(), sessionID, payload.Content)
	if err != nil {
		respondServiceError(w, r, err, errorMessages{
			notFound:     "Chat session not found",
			internal:     "Failed to process message",
			includeCause: true,
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, msgs errorMessages) {
	var validationErr *chatservice.ValidationError
	var aiErr *ai.AIRequestError

	switch {
	case errors.As(err, &validationErr):
		utils.RespondError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, chatservice.ErrSessionNotFound):
		msg := msgs.notFound
		if msg == "" {
			msg = err.Error()
		}
		utils.RespondError(w, http.StatusNotFound, msg)
	case errors.As(err, &aiErr):
		logging.Ctx(r.Context()).Error().Err(err).Msg("ai request failed")
		utils.RespondError(w, http.StatusInternalServerError, aiErr.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg := msgs.internal
		if msgs.includeCause {
			msg += ": " + err.Error()
		}
		utils.RespondError(w, http.StatusInternalServerError, msg)
	}
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "max" {
		return "Message content is too long"
	}
	return contentRequired
}
