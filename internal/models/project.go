package models

import (
	"time"

	"github.com/google/uuid"
)

type ProjectType string

const (
	ProjectWeb        ProjectType = "web"
	ProjectMobile     ProjectType = "mobile"
	ProjectAI         ProjectType = "ai"
	ProjectAutomation ProjectType = "automation"
	ProjectAnalysis   ProjectType = "analysis"
)

type ProjectStatus string

const (
	ProjectPlanning   ProjectStatus = "planning"
	ProjectInProgress ProjectStatus = "in-progress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectPaused     ProjectStatus = "paused"
)

// Project is owned by exactly one user and lives and dies with it.
type Project struct {
	ID          string        `json:"id"`
	UserID      string        `json:"-"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        ProjectType   `json:"type"`
	Status      ProjectStatus `json:"status"`
	Progress    int           `json:"progress"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func NewProject(userID, name, description string, typ ProjectType, now time.Time) *Project {
	return &Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: description,
		Type:        typ,
		Status:      ProjectPlanning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
