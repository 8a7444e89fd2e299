package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ProcessingStatus represents the persisted annotation status of an item.
// Values include ProcessingStatusPending, ProcessingStatusEmbedding,
// ProcessingStatusCompleted, and ProcessingStatusError.
type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "pending"
	ProcessingStatusEmbedding ProcessingStatus = "processing_embeddings"
	ProcessingStatusCompleted ProcessingStatus = "completed"
	ProcessingStatusError     ProcessingStatus = "error"

	// ProcessingStatusNotFound is only reported by status queries; it is never stored.
	ProcessingStatusNotFound ProcessingStatus = "not_found"
)

// ApparelType is the category label assigned to an item.
type ApparelType string

const (
	ApparelTop       ApparelType = "top"
	ApparelBottom    ApparelType = "bottom"
	ApparelOuterwear ApparelType = "outerwear"
	ApparelFullBody  ApparelType = "full-body"
)

// ApparelTypes lists every valid category in prompt order.
var ApparelTypes = []ApparelType{ApparelTop, ApparelBottom, ApparelOuterwear, ApparelFullBody}

// PlaceholderText is stored in annotation fields until the pipeline fills them.
const PlaceholderText = "Processing..."

// Valid reports whether t is one of the four known categories.
func (t ApparelType) Valid() bool {
	switch t {
	case ApparelTop, ApparelBottom, ApparelOuterwear, ApparelFullBody:
		return true
	}
	return false
}

// ParseApparelType normalizes a model or user supplied label.
// It reports false when the label is not one of the four categories.
func ParseApparelType(s string) (ApparelType, bool) {
	t := ApparelType(strings.ToLower(strings.Trim(strings.TrimSpace(s), ".\"'`")))
	if t == "fullbody" || t == "full body" {
		t = ApparelFullBody
	}
	return t, t.Valid()
}

// Complement returns the category an outfit should be completed with.
// Tops and outerwear pair with bottoms; everything else pairs with a top.
func (t ApparelType) Complement() ApparelType {
	if t == ApparelTop || t == ApparelOuterwear {
		return ApparelBottom
	}
	return ApparelTop
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Contains reports whether id is already in the array.
func (a StringArray) Contains(id string) bool {
	for _, v := range a {
		if v == id {
			return true
		}
	}
	return false
}

// Item is one uploaded apparel photo and its annotations.
// Pairs holds the image IDs of items it has been matched with; the relation is symmetric.
type Item struct {
	ImageID          string           `gorm:"type:text;primaryKey" json:"image_id"`
	Username         string           `gorm:"type:text;not null;index:idx_items_user" json:"username"`
	Filename         string           `gorm:"type:text;not null" json:"filename"`
	Description      string           `gorm:"type:text" json:"description"`
	Title            string           `gorm:"type:text" json:"title"`
	ApparelType      ApparelType      `gorm:"type:text;index:idx_items_user_type" json:"apparel_type"`
	ProcessingStatus ProcessingStatus `gorm:"type:text;index:idx_items_status;default:pending" json:"processing_status"`
	Pairs            StringArray      `gorm:"type:text" json:"pairs"`
	Width            int              `json:"width,omitempty"`
	Height           int              `json:"height,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Item.
func (Item) TableName() string {
	return "items"
}

// StorageKey is the object key the item's image lives under.
// The username is always the segment right before the filename.
func (i *Item) StorageKey() string {
	return i.Username + "/" + i.Filename
}

// ItemOwner indexes image IDs to their owning user so id-only lookups
// never have to scan every wardrobe.
type ItemOwner struct {
	ImageID   string    `gorm:"type:text;primaryKey" json:"image_id"`
	Username  string    `gorm:"type:text;not null;index" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ItemOwner.
func (ItemOwner) TableName() string {
	return "item_owners"
}

// ItemPatch is a partial update applied to a single item record.
// Nil fields are left untouched.
type ItemPatch struct {
	Description      *string
	Title            *string
	ApparelType      *ApparelType
	ProcessingStatus *ProcessingStatus
}

// StatusPatch builds a patch that only changes the processing status.
func StatusPatch(status ProcessingStatus) ItemPatch {
	return ItemPatch{ProcessingStatus: &status}
}
