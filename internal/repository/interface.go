package repository

import (
	"context"
	"errors"

	"github.com/MrMorningStark/chat/internal/domain"
)

// ErrUserNotFound is returned when no user record matches the identity.
var ErrUserNotFound = errors.New("user not found")

// MessageRepository is the storage collaborator for chat messages.
type MessageRepository interface {
	// Save persists a message. The relay must not broadcast a message this
	// call did not accept.
	Save(ctx context.Context, msg *domain.Message) error
	// FindByRoom returns all messages in a room in ascending timestamp order.
	FindByRoom(ctx context.Context, room string) ([]domain.Message, error)
	// MarkRead flips the read flag on the given message IDs.
	MarkRead(ctx context.Context, ids []string) error
}

// UserRepository reads user records. This service never writes them.
type UserRepository interface {
	FindByIdentity(ctx context.Context, sid string) (*domain.User, error)
}
