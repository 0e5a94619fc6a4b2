package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/middleware"
	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/service"
	"github.com/finchat/assistant/pkg/logger"
)

const maxChatBodyBytes = 64 << 10

// restSessionPrefix keeps REST history keys apart from WebSocket connection
// ids, which are published by GET /sessions.
const restSessionPrefix = "rest:"

// ChatHandler handles the REST chat endpoint.
type ChatHandler struct {
	asker  service.Asker
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(asker service.Asker, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		asker:  asker,
		logger: log.Named("chat_handler"),
	}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithCorrelation(middleware.GetCorrelationID(ctx))

	var req model.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := middleware.ValidateQuery(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err.Error())
		return
	}

	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session id", err.Error())
		return
	}

	turn := service.Turn{Query: req.Query}
	if req.SessionID != "" {
		turn.SessionID = restSessionPrefix + req.SessionID
	}

	res, err := h.asker.Run(ctx, turn)
	if err != nil {
		log.Error("chat request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to process chat request", err.Error())
		return
	}

	log.Debug("chat request answered",
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", len(res.ToolCalls)),
		zap.String("model", res.Model),
	)

	writeJSON(w, http.StatusOK, model.ChatResponse{Response: res.Answer})
}
