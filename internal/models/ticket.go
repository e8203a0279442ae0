package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketResponded TicketStatus = "responded"
	TicketClosed    TicketStatus = "closed"
)

// SupportTicket is a user-opened support conversation.
type SupportTicket struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID     `gorm:"type:uuid;index;not null" json:"account_id"`
	Subject   string        `gorm:"not null" json:"subject"`
	Message   string        `gorm:"not null" json:"message"`
	Status    TicketStatus  `gorm:"not null;default:open" json:"status"`
	Replies   []TicketReply `gorm:"foreignKey:TicketID" json:"replies"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TicketReply is one message in a ticket thread; IsAdmin marks staff replies.
type TicketReply struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID  uuid.UUID `gorm:"type:uuid;index;not null" json:"ticket_id"`
	AccountID uuid.UUID `gorm:"type:uuid;not null" json:"account_id"`
	Message   string    `gorm:"not null" json:"message"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}
