package hub

import (
	"Roomchat/internal/model"
	"sort"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connectionStats := ms.getConnectionStats()
	clients := ms.getClientList()

	// Determine overall health status
	status := "healthy"
	if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Rooms:       ms.getRoomStats(),
		Typing:      model.TypingStats{ActiveEntries: ms.hub.typing.Len()},
		Clients:     clients,
		StateCount:  getStateCount(clients),
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	connections, authenticated, users := ms.hub.sessions.Count()

	return model.ConnectionStats{
		TotalConnected:       connections,
		TotalAuthenticated:   authenticated,
		TotalUsers:           users,
		TotalUnauthenticated: connections - authenticated,
	}
}

func (ms *MonitorService) getRoomStats() model.RoomStats {
	details := ms.hub.rooms.Snapshot()
	return model.RoomStats{
		TotalRooms:  len(details),
		RoomDetails: details,
	}
}

// getClientList returns list of all connected clients, oldest first
func (ms *MonitorService) getClientList() []model.ClientInfo {
	all := ms.hub.sessions.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ConnectedAt.Before(all[j].ConnectedAt) })

	clients := make([]model.ClientInfo, 0, len(all))
	for _, c := range all {
		clients = append(clients, model.ClientInfo{
			ClientID: c.ID,
			UserID:   c.UserID(),
			State:    c.State(),
			RoomIDs:  c.Rooms(),
		})
	}
	return clients
}

func getStateCount(clients []model.ClientInfo) map[string]int {
	stateCount := map[string]int{
		StateUnauthenticated: 0,
		StateAuthenticated:   0,
		StateInRoom:          0,
	}

	for _, c := range clients {
		stateCount[c.State]++
	}
	return stateCount
}
