package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrNotTicketOwner = errors.New("not the ticket owner")
	ErrEmptyMessage   = errors.New("subject and message are required")
	ErrTicketClosed   = errors.New("ticket is closed")
)

// Service implements the support-ticket workflow: users open tickets and
// reply to their own; admins can read and reply to any ticket, and an admin
// reply moves an open ticket to responded.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a support service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger.Named("support")}
}

// Open creates a new ticket for the account.
func (s *Service) Open(ctx context.Context, accountID uuid.UUID, subject, message string) (*models.SupportTicket, error) {
	subject = strings.TrimSpace(subject)
	message = strings.TrimSpace(message)
	if subject == "" || message == "" {
		return nil, ErrEmptyMessage
	}

	ticket := &models.SupportTicket{
		ID:        uuid.New(),
		AccountID: accountID,
		Subject:   subject,
		Message:   message,
		Status:    models.TicketOpen,
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.logger.Info("Ticket opened", zap.String("ticket_id", ticket.ID.String()))
	return ticket, nil
}

// ForAccount returns all tickets opened by the account, newest first.
func (s *Service) ForAccount(ctx context.Context, accountID uuid.UUID) ([]models.SupportTicket, error) {
	var tickets []models.SupportTicket
	err := s.db.WithContext(ctx).Preload("Replies").
		Where("account_id = ?", accountID).Order("created_at desc").Find(&tickets).Error
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	return tickets, nil
}

// Get returns one ticket if the requester owns it or is an admin.
func (s *Service) Get(ctx context.Context, ticketID uuid.UUID, requester *models.Account) (*models.SupportTicket, error) {
	var ticket models.SupportTicket
	err := s.db.WithContext(ctx).Preload("Replies").First(&ticket, "id = ?", ticketID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if ticket.AccountID != requester.ID && requester.Role != models.RoleAdmin {
		return nil, ErrNotTicketOwner
	}
	return &ticket, nil
}

// Reply appends a message to a ticket thread. Admin replies move an open
// ticket to responded.
func (s *Service) Reply(ctx context.Context, ticketID uuid.UUID, requester *models.Account, message string) (*models.SupportTicket, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	ticket, err := s.Get(ctx, ticketID, requester)
	if err != nil {
		return nil, err
	}
	if ticket.Status == models.TicketClosed {
		return nil, ErrTicketClosed
	}

	isAdmin := requester.Role == models.RoleAdmin
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reply := &models.TicketReply{
			ID:        uuid.New(),
			TicketID:  ticket.ID,
			AccountID: requester.ID,
			Message:   message,
			IsAdmin:   isAdmin,
		}
		if err := tx.Create(reply).Error; err != nil {
			return fmt.Errorf("create reply: %w", err)
		}

		updates := map[string]interface{}{"updated_at": time.Now()}
		if isAdmin && ticket.Status == models.TicketOpen {
			updates["status"] = models.TicketResponded
		}
		return tx.Model(&models.SupportTicket{}).Where("id = ?", ticket.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ticketID, requester)
}

// Close moves a ticket to closed; owner or admin only.
func (s *Service) Close(ctx context.Context, ticketID uuid.UUID, requester *models.Account) (*models.SupportTicket, error) {
	ticket, err := s.Get(ctx, ticketID, requester)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(&models.SupportTicket{}).
		Where("id = ?", ticket.ID).
		Updates(map[string]interface{}{"status": models.TicketClosed, "updated_at": time.Now()}).Error
	if err != nil {
		return nil, fmt.Errorf("close ticket: %w", err)
	}
	ticket.Status = models.TicketClosed
	return ticket, nil
}
