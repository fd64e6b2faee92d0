package model

import "time"

// Message — сообщение канала вместе с деревом ответов и реакциями.
// Seq — порядковый номер в канале, монотонно растёт в порядке фиксации.
type Message struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	UserID    string      `json:"user_id"`
	Content   string      `json:"content"`
	Replies   []Reply     `json:"replies"`
	Reactions []Reaction  `json:"reactions"`
	Unread    bool        `json:"unread"`
	Pinned    bool        `json:"pinned"`
	Version   int64       `json:"version"`
	Seq       int64       `json:"seq"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Author    *UserPublic `json:"user,omitempty"`
}

// Reply — ответ в треде. ParentID пустой, если ответ на само сообщение.
type Reply struct {
	ID        string      `json:"id"`
	MessageID string      `json:"message_id"`
	ParentID  string      `json:"parent_id,omitempty"`
	UserID    string      `json:"user_id"`
	Content   string      `json:"content"`
	Replies   []Reply     `json:"replies"`
	Reactions []Reaction  `json:"reactions"`
	CreatedAt time.Time   `json:"created_at"`
	Author    *UserPublic `json:"user,omitempty"`
}

// Reaction прикрепляется к сообщению (ReplyID пустой) или к ответу.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ReplyID   string    `json:"reply_id,omitempty"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
