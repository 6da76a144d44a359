package model

import (
	"fmt"
	"time"
)

// Room kinds
const (
	RoomKindProject = "project"
	RoomKindSupport = "support"
	RoomKindDirect  = "direct"
)

// SupportRoomID is the single support room shared by every user of a deployment.
const SupportRoomID = "support"

// Room represents a conversation scope. Membership is not part of the
// metadata; the room registry keeps the live member connections.
type Room struct {
	ID          string    `json:"id" bson:"room_id"`
	Kind        string    `json:"kind" bson:"kind"`
	ProjectID   string    `json:"projectId,omitempty" bson:"project_id,omitempty"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	CreatedBy   string    `json:"createdBy" bson:"created_by"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
}

// ProjectRoomID returns the id of the room that belongs to projectID.
func ProjectRoomID(projectID string) string {
	return fmt.Sprintf("project:%s", projectID)
}
