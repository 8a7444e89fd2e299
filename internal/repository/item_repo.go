package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/timmy/wardrobe/internal/domain"
	"gorm.io/gorm"
)

// userLocks serializes metadata writes per username.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) lock(username string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[username]
	if !ok {
		m = &sync.Mutex{}
		l.locks[username] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ItemRepository stores wardrobe items and the image id to owner index.
// Every mutation touches single rows inside a per-user critical section, so
// concurrent pipeline runs for the same user cannot drop each other's writes.
type ItemRepository struct {
	db    *gorm.DB
	locks userLocks
}

// NewItemRepository creates a new ItemRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ItemRepository: repository instance bound to db.
func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item and its owner index entry in one transaction.
func (r *ItemRepository) Create(ctx context.Context, item *domain.Item) error {
	if item.ImageID == "" || item.Username == "" {
		return fmt.Errorf("%w: item requires image_id and username", domain.ErrInvalidInput)
	}

	unlock := r.locks.lock(item.Username)
	defer unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}
		owner := &domain.ItemOwner{ImageID: item.ImageID, Username: item.Username}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("failed to index item owner: %w", err)
		}
		return nil
	})
}

// ListByUser returns a user's items in upload order.
func (r *ItemRepository) ListByUser(ctx context.Context, username string) ([]domain.Item, error) {
	var items []domain.Item
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at ASC, image_id ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// GetByID retrieves one item of a user.
// Returns domain.ErrItemNotFound if the user has no such item.
func (r *ItemRepository) GetByID(ctx context.Context, username, imageID string) (*domain.Item, error) {
	return getItem(r.db.WithContext(ctx), username, imageID)
}

// OwnerOf resolves the owning username of an image id through the owner index.
func (r *ItemRepository) OwnerOf(ctx context.Context, imageID string) (string, error) {
	var owner domain.ItemOwner
	err := r.db.WithContext(ctx).First(&owner, "image_id = ?", imageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up item owner: %w", err)
	}
	return owner.Username, nil
}

// Update applies a partial patch to one item and returns the updated record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - username: owner of the item.
//   - imageID: item to patch.
//   - patch: fields to change; nil fields are left untouched.
//
// Returns:
//   - *domain.Item: item after the patch.
//   - error: domain.ErrItemNotFound if absent, or a database error.
func (r *ItemRepository) Update(ctx context.Context, username, imageID string, patch domain.ItemPatch) (*domain.Item, error) {
	updates := make(map[string]interface{}, 4)
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.ApparelType != nil {
		updates["apparel_type"] = *patch.ApparelType
	}
	if patch.ProcessingStatus != nil {
		updates["processing_status"] = *patch.ProcessingStatus
	}

	unlock := r.locks.lock(username)
	defer unlock()

	var updated *domain.Item
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			res := tx.Model(&domain.Item{}).
				Where("username = ? AND image_id = ?", username, imageID).
				Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("failed to update item: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return domain.ErrItemNotFound
			}
		}
		item, err := getItem(tx, username, imageID)
		if err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddPair links two items of the same user symmetrically.
// Re-adding an existing pair leaves both pair sets unchanged.
func (r *ItemRepository) AddPair(ctx context.Context, username, imageID, otherID string) error {
	if imageID == otherID {
		return fmt.Errorf("%w: an item cannot be paired with itself", domain.ErrInvalidInput)
	}

	unlock := r.locks.lock(username)
	defer unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := getItem(tx, username, imageID)
		if err != nil {
			return err
		}
		b, err := getItem(tx, username, otherID)
		if err != nil {
			return err
		}

		if err := appendPair(tx, a, b.ImageID); err != nil {
			return err
		}
		return appendPair(tx, b, a.ImageID)
	})
}

func appendPair(tx *gorm.DB, item *domain.Item, otherID string) error {
	if item.Pairs.Contains(otherID) {
		return nil
	}
	pairs := append(domain.StringArray{}, item.Pairs...)
	pairs = append(pairs, otherID)

	err := tx.Model(&domain.Item{}).
		Where("username = ? AND image_id = ?", item.Username, item.ImageID).
		Update("pairs", pairs).Error
	if err != nil {
		return fmt.Errorf("failed to update pairs: %w", err)
	}
	item.Pairs = pairs
	return nil
}

// ListByStatus returns every item whose status is one of statuses, across users.
func (r *ItemRepository) ListByStatus(ctx context.Context, statuses ...domain.ProcessingStatus) ([]domain.Item, error) {
	var items []domain.Item
	err := r.db.WithContext(ctx).
		Where("processing_status IN ?", statuses).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list items by status: %w", err)
	}
	return items, nil
}

// ClearUser deletes all items of a user and their owner entries.
// Returns the removed items so callers can clean up objects and vectors.
func (r *ItemRepository) ClearUser(ctx context.Context, username string) ([]domain.Item, error) {
	unlock := r.locks.lock(username)
	defer unlock()

	var removed []domain.Item
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", username).Find(&removed).Error; err != nil {
			return fmt.Errorf("failed to load items: %w", err)
		}
		if err := tx.Where("username = ?", username).Delete(&domain.Item{}).Error; err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
		if err := tx.Where("username = ?", username).Delete(&domain.ItemOwner{}).Error; err != nil {
			return fmt.Errorf("failed to delete owner index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func getItem(db *gorm.DB, username, imageID string) (*domain.Item, error) {
	var item domain.Item
	err := db.First(&item, "username = ? AND image_id = ?", username, imageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}
