package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/finchat/assistant/internal/llm"
	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/pkg/logger"
)

// BotName is the user name carried by assistant replies on the real-time channel.
const BotName = "Assistant"

// Broadcaster fans events out to connected clients.
type Broadcaster interface {
	Broadcast(event model.ChatEvent) int
}

// Asker runs one orchestration turn.
type Asker interface {
	Run(ctx context.Context, turn Turn) (*TurnResult, error)
}

// ChatService handles chat messages arriving over the real-time channel.
type ChatService struct {
	asker  Asker
	hub    Broadcaster
	logger *logger.Logger
}

// NewChatService creates a new chat service.
func NewChatService(asker Asker, hub Broadcaster, log *logger.Logger) *ChatService {
	if log == nil {
		log = logger.Global()
	}
	return &ChatService{
		asker:  asker,
		hub:    hub,
		logger: log.Named("chat"),
	}
}

// Send broadcasts a user's message to every client, runs a turn for it and
// broadcasts the bot reply. A failed turn is broadcast as an error message
// and also returned.
func (s *ChatService) Send(ctx context.Context, connectionID, user, text string) (*TurnResult, error) {
	s.hub.Broadcast(model.NewReceiveMessage(connectionID, user, text, model.MessageTypeUser))

	res, err := s.asker.Run(ctx, Turn{SessionID: connectionID, Query: text})
	if err != nil {
		s.logger.Warn("turn failed for connection",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
		s.hub.Broadcast(model.NewReceiveMessage(connectionID, BotName, UserFacingError(err), model.MessageTypeError))
		return nil, err
	}

	s.hub.Broadcast(model.NewReceiveMessage(connectionID, BotName, res.Answer, model.MessageTypeBot))
	return res, nil
}

// UserFacingError renders a turn failure without leaking backend detail.
func UserFacingError(err error) string {
	switch {
	case errors.Is(err, ErrToolLoopExceeded):
		return "Sorry, I could not finish answering that question. Please try rephrasing it."
	case errors.Is(err, ErrEmptyQuery):
		return "Please enter a question."
	case llm.IsUnavailable(err):
		return "The assistant is temporarily unavailable. Please try again shortly."
	case llm.IsProtocol(err):
		return "The assistant returned an unexpected response. Please try again."
	default:
		return "Sorry, something went wrong while processing your message."
	}
}
