package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleModerator
}

// AI models a user can pick as their preferred assistant.
var AIModels = []string{"claude-3", "gpt-3.5-turbo", "gpt-4"}

const DefaultAIModel = "claude-3"

type Privacy struct {
	ProfileVisibility string `json:"profileVisibility"`
	ShowActivity      bool   `json:"showActivity"`
	AllowSharing      bool   `json:"allowSharing"`
}

type AISettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type Preferences struct {
	Language      string     `json:"language"`
	Theme         string     `json:"theme"`
	Notifications bool       `json:"notifications"`
	Privacy       Privacy    `json:"privacy"`
	AISettings    AISettings `json:"aiSettings"`
}

// DefaultPreferences are what a new account starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:      "ar",
		Theme:         "light",
		Notifications: true,
		Privacy: Privacy{
			ProfileVisibility: "private",
			AllowSharing:      true,
		},
		AISettings: AISettings{
			Model:       DefaultAIModel,
			Temperature: 0.7,
			MaxTokens:   1000,
		},
	}
}

type Profile struct {
	Avatar      string      `json:"avatar"`
	Bio         string      `json:"bio"`
	Preferences Preferences `json:"preferences"`
	// AvatarKey is the storage key of an uploaded avatar, empty while the
	// generated default is in use.
	AvatarKey string `json:"-"`
}

type Activity struct {
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	LoginCount    int        `json:"loginCount"`
	TotalRequests int        `json:"totalRequests"`
}

// User is an account holder. The password field holds a bcrypt hash and is
// never serialized.
type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Password     string       `json:"-"`
	Role         Role         `json:"role"`
	Profile      Profile      `json:"profile"`
	Subscription Subscription `json:"subscription"`
	Activity     Activity     `json:"activity"`
	Projects     []Project    `json:"projects"`
	IsActive     bool         `json:"isActive"`
	IsVerified   bool         `json:"isVerified"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NewUser builds a fresh account on the free plan with the given quotas.
// The subscription period runs one month from now.
func NewUser(name, email, passwordHash string, quota Features, now time.Time) *User {
	name = strings.TrimSpace(name)
	return &User{
		ID:       uuid.NewString(),
		Name:     name,
		Email:    NormalizeEmail(email),
		Password: passwordHash,
		Role:     RoleUser,
		Profile: Profile{
			Avatar:      DefaultAvatar(name),
			Preferences: DefaultPreferences(),
		},
		Subscription: Subscription{
			Plan:      PlanFree,
			StartDate: now,
			EndDate:   now.AddDate(0, 1, 0),
			Features: Features{
				AIRequests:  quota.AIRequests,
				FileUploads: quota.FileUploads,
			},
		},
		Projects:  []Project{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func DefaultAvatar(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=3b82f6&color=fff"
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsSubscriptionExpired(now time.Time) bool {
	return u.Subscription.IsExpired(now)
}

func (u *User) CanMakeRequest() bool {
	return u.Subscription.CanMakeRequest()
}

func (u *User) RequestUsagePercentage() int {
	return u.Subscription.UsagePercentage()
}

func (u *User) ProjectCount() int {
	return len(u.Projects)
}

// RecordLogin updates the login bookkeeping.
func (u *User) RecordLogin(now time.Time) {
	u.Activity.LastLogin = &now
	u.Activity.LoginCount++
	u.UpdatedAt = now
}
