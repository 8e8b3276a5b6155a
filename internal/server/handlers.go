package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/comigor/triage-go/internal/agent"
	"github.com/comigor/triage-go/internal/events"
	"github.com/comigor/triage-go/internal/history"
	"github.com/comigor/triage-go/internal/logger"
)

const defaultUserID = 1

// Pointers tell an omitted field from an explicit zero value.
type chatRequest struct {
	Message *string `json:"message"`
	UserID  *int64  `json:"user_id"`
}

type runCodeRequest struct {
	Code   string `json:"code"`
	UserID *int64 `json:"user_id"`
}

func userIDOrDefault(id *int64) int64 {
	if id == nil {
		return defaultUserID
	}
	return *id
}

type progressResponse struct {
	UserID   int64              `json:"user_id"`
	Progress []history.Progress `json:"progress"`
}

type conversationsResponse struct {
	UserID        int64                        `json:"user_id"`
	Conversations []history.ConversationRecord `json:"conversations"`
}

func (s *Server) info(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": ServiceName,
		"version": version,
		"status":  "running",
	})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "service": ServiceName})
}

func (s *Server) ready(c *fiber.Ctx) error {
	database := "ok"
	if err := s.store.Ping(c.UserContext()); err != nil {
		database = "error: " + err.Error()
	}
	return c.JSON(fiber.Map{"api": "ok", "database": database})
}

// chat always answers 200 once the body is valid; specialist and storage
// failures are absorbed by the dispatcher.
func (s *Server) chat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	// An empty message is still a chat turn; only a missing field is rejected.
	if req.Message == nil {
		return fiber.NewError(fiber.StatusBadRequest, "message is required")
	}

	reply := s.d.Handle(c.UserContext(), userIDOrDefault(req.UserID), *req.Message)
	return c.JSON(reply)
}

func (s *Server) runCode(c *fiber.Ctx) error {
	var req runCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	resp, err := s.d.RunCode(c.UserContext(), userIDOrDefault(req.UserID), req.Code)
	if errors.Is(err, agent.ErrEmptyCode) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(resp)
}

func (s *Server) progress(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	progress, err := s.store.Progress(c.UserContext(), userID)
	if err != nil {
		return readError("progress", err)
	}
	return c.JSON(progressResponse{UserID: userID, Progress: progress})
}

func (s *Server) conversations(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	limit := history.ClampLimit(c.QueryInt("limit", history.DefaultLimit))
	records, err := s.store.Conversations(c.UserContext(), userID, limit)
	if err != nil {
		return readError("conversations", err)
	}
	return c.JSON(conversationsResponse{UserID: userID, Conversations: records})
}

func (s *Server) subscriptions(c *fiber.Ctx) error {
	return c.JSON(events.Subscriptions(s.pubsub))
}

func (s *Server) onRouted(c *fiber.Ctx) error {
	var ev events.Routed
	if err := events.Decode(c.Body(), &ev); err != nil {
		return drop(c, events.TopicRouted, err)
	}
	return ack(c, events.TopicRouted, s.d.OnRouted(c.UserContext(), ev))
}

func (s *Server) onLearningResponse(c *fiber.Ctx) error {
	var ev events.Response
	if err := events.Decode(c.Body(), &ev); err != nil {
		return drop(c, events.TopicResponse, err)
	}
	return ack(c, events.TopicResponse, s.d.OnLearningResponse(c.UserContext(), ev))
}

// ack maps a handler result to the sidecar delivery protocol: processed,
// DROP for events that can never succeed, RETRY otherwise.
func ack(c *fiber.Ctx, topic string, err error) error {
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "processed"})
	case errors.Is(err, agent.ErrInvalidEvent):
		return drop(c, topic, err)
	default:
		logger.L.Error("event handler failed", "topic", topic, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "RETRY"})
	}
}

func drop(c *fiber.Ctx, topic string, err error) error {
	logger.L.Warn("dropping event", "topic", topic, "error", err)
	return c.JSON(fiber.Map{"status": "DROP"})
}

func userIDParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("user_id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "user_id must be a positive integer")
	}
	return int64(id), nil
}

func readError(what string, err error) error {
	logger.L.Error("store read failed", "read", what, "error", err)
	if errors.Is(err, history.ErrUnavailable) {
		return fiber.NewError(fiber.StatusServiceUnavailable, "database unavailable")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to read "+what)
}
