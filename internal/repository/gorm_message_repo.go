package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/MrMorningStark/chat/internal/domain"
	pkglog "github.com/MrMorningStark/chat/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a GORM-based message repository and
// migrates its schema.
func NewGormMessageRepository(db *gorm.DB) (*GormMessageRepository, error) {
	if err := db.AutoMigrate(&domain.Message{}); err != nil {
		return nil, err
	}
	return &GormMessageRepository{db: db}, nil
}

// Save persists a message.
func (r *GormMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	result := r.db.WithContext(ctx).Create(msg)
	if result.Error != nil {
		l := pkglog.L()
		l.Error().Err(result.Error).Str(pkglog.FieldRoom, msg.Room).Msg("failed to save message")
		return result.Error
	}
	return nil
}

// FindByRoom returns the room's messages in ascending timestamp order.
func (r *GormMessageRepository) FindByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	var messages []domain.Message
	result := r.db.WithContext(ctx).
		Where("room = ?", room).
		Order("timestamp asc").
		Find(&messages)
	if result.Error != nil {
		l := pkglog.L()
		l.Error().Err(result.Error).Str(pkglog.FieldRoom, room).Msg("failed to load room history")
		return nil, result.Error
	}
	return messages, nil
}

// MarkRead flips the read flag on the given message IDs.
func (r *GormMessageRepository) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id IN ?", ids).
		Update("read", true)
	return result.Error
}

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a GORM-based user repository and migrates
// its schema.
func NewGormUserRepository(db *gorm.DB) (*GormUserRepository, error) {
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		return nil, err
	}
	return &GormUserRepository{db: db}, nil
}

// FindByIdentity returns the user with the given stable identity.
func (r *GormUserRepository) FindByIdentity(ctx context.Context, sid string) (*domain.User, error) {
	var user domain.User
	result := r.db.WithContext(ctx).First(&user, "sid = ?", sid)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}
