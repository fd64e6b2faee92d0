package model

import "time"

type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
)

// Valid сообщает, известен ли тип канала.
func (k ChannelKind) Valid() bool {
	return k == ChannelPublic || k == ChannelPrivate
}

// NotificationPreferences — настройки уведомлений канала (email / push / in-app).
type NotificationPreferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	InApp bool `json:"in_app"`
}

// DefaultNotifications — настройки нового канала.
func DefaultNotifications() NotificationPreferences {
	return NotificationPreferences{Email: true, Push: true, InApp: true}
}

type Channel struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Kind          ChannelKind             `json:"type"`
	Description   string                  `json:"description"`
	Members       []string                `json:"members"`
	Archived      bool                    `json:"archived"`
	Notifications NotificationPreferences `json:"notification_preferences"`
	CreatedBy     string                  `json:"created_by"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// HasMember — линейный поиск по списку участников.
func (c *Channel) HasMember(userID string) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// ChannelPatch — частичное обновление канала; nil-поля не меняются.
type ChannelPatch struct {
	Name          *string
	Description   *string
	Kind          *ChannelKind
	Archived      *bool
	Notifications *NotificationPreferences
}

// Empty сообщает, что патч ничего не меняет.
func (p ChannelPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Kind == nil && p.Archived == nil && p.Notifications == nil
}

// Apply применяет патч к копии канала.
func (p ChannelPatch) Apply(c Channel) Channel {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.Archived != nil {
		c.Archived = *p.Archived
	}
	if p.Notifications != nil {
		c.Notifications = *p.Notifications
	}
	return c
}
