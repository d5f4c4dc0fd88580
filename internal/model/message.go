package model

import "time"

// Message 工单线程中的消息
type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ThreadID  string    `gorm:"size:64;not null;index:idx_message_thread" json:"thread_id"`
	SenderID  uint      `gorm:"not null" json:"sender_id"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}
