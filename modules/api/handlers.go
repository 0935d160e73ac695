package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	api := app.Group("/api")
	api.Post("/rooms", m.createRoom)
	api.Get("/rooms/:id", m.getRoom)
	api.Get("/stats", m.statsHandler)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	healthy := true
	details := map[string]any{
		"connected_clients": m.router.ClientCount(),
		"active_rooms":      len(m.registry.Rooms()),
	}
	for _, check := range m.checks {
		status := check.Health(c.UserContext())
		details[check.Name()] = status
		if !status.Healthy {
			healthy = false
		}
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
			Status:  "unhealthy",
			Details: details,
		})
	}
	return c.JSON(HealthResponse{Status: "healthy", Details: details})
}

// createRoom handles POST /api/rooms.
func (m *APIModule) createRoom(c *fiber.Ctx) error {
	room, err := m.rooms.CreateRoom(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to create room", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "create_failed",
			Message: "Failed to create room",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(CreateRoomResponse{RoomID: room.RoomID})
}

// getRoom handles GET /api/rooms/:id.
func (m *APIModule) getRoom(c *fiber.Ctx) error {
	roomID := c.Params("id")

	room, err := m.rooms.GetRoom(c.UserContext(), roomID)
	if err != nil {
		m.logger.Error("Failed to get room", "room_id", roomID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "lookup_failed",
			Message: "Failed to look up room",
		})
	}

	members := m.registry.MemberCount(roomID)
	resp := RoomResponse{
		RoomID:  roomID,
		Exists:  room.Exists || members > 0,
		Members: members,
	}
	if room.Exists {
		createdAt := room.CreatedAt
		resp.CreatedAt = &createdAt
	}
	return c.JSON(resp)
}

// statsHandler handles GET /api/stats.
func (m *APIModule) statsHandler(c *fiber.Ctx) error {
	sent, dropped := m.router.Stats()
	return c.JSON(fiber.Map{
		"events":            m.stats.Snapshot(),
		"active_rooms":      len(m.registry.Rooms()),
		"connected_clients": m.router.ClientCount(),
		"frames_sent":       sent,
		"frames_dropped":    dropped,
	})
}
