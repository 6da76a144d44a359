package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"`      // "healthy" or "idle"
	Connections ConnectionStats `json:"connections"` // Client connection stats
	Rooms       RoomStats       `json:"rooms"`       // Room stats
	Typing      TypingStats     `json:"typing"`      // Typing presence stats
	Clients     []ClientInfo    `json:"clients"`     // List of connected clients
	StateCount  map[string]int  `json:"stateCount"`  // Count by lifecycle state
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected       int `json:"totalConnected"`       // Live transport links
	TotalAuthenticated   int `json:"totalAuthenticated"`   // Links bound to a user
	TotalUsers           int `json:"totalUsers"`           // Distinct authenticated users
	TotalUnauthenticated int `json:"totalUnauthenticated"` // Links still in handshake
}

// RoomStats holds room statistics
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`  // Rooms held by the registry
	RoomDetails []RoomInfo `json:"roomDetails"` // Details of each room
}

// RoomInfo contains information about a single room
type RoomInfo struct {
	RoomID        string   `json:"roomId"`
	Kind          string   `json:"kind"`
	ProjectID     string   `json:"projectId,omitempty"`
	TotalMembers  int      `json:"totalMembers"`  // Member connections
	ConnectionIDs []string `json:"connectionIds"` // Member connection ids in join order
}

// TypingStats holds typing presence statistics
type TypingStats struct {
	ActiveEntries int `json:"activeEntries"`
}

// ClientInfo contains information about a connected client
type ClientInfo struct {
	ClientID string   `json:"clientId"`
	UserID   string   `json:"userId,omitempty"`
	State    string   `json:"state"`
	RoomIDs  []string `json:"roomIds"`
}
