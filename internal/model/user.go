package model

import (
	"time"
)

// User is the identity record consulted by the directory identity provider.
type User struct {
	UserID    string    `json:"userId" bson:"user_id"`
	Username  string    `json:"username" bson:"username"`
	Email     string    `json:"email" bson:"email"`
	FirstName string    `json:"firstName" bson:"first_name"`
	LastName  string    `json:"lastName" bson:"last_name"`
	IsActive  bool      `json:"isActive" bson:"is_active"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// ProjectMember grants a user access to the room of a project.
type ProjectMember struct {
	ProjectID string    `json:"projectId" bson:"project_id"`
	UserID    string    `json:"userId" bson:"user_id"`
	Role      string    `json:"role" bson:"role"`
	IsActive  bool      `json:"isActive" bson:"is_active"`
	JoinedAt  time.Time `json:"joinedAt" bson:"joined_at"`
}
