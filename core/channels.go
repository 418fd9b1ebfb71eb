package core

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ChannelRegistry creates and looks up channels by unique name. Creation
// only ever happens inside a join transaction.
type ChannelRegistry struct {
	db *gorm.DB
}

// isValidChannelName checks if a channel name is valid
func isValidChannelName(name string) bool {
	if len(name) < 2 {
		return false
	}

	// Must start with # or &
	if name[0] != '#' && name[0] != '&' {
		return false
	}

	// Can't contain spaces, ASCII 7 (bell), commas, colons, or NULL bytes
	if strings.ContainsAny(name, " ,:\x00\x07") {
		return false
	}

	return true
}

// GetByName looks up a channel.
func (r *ChannelRegistry) GetByName(name string) (*Channel, error) {
	var channel Channel
	err := r.db.Where("name = ?", name).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeNotFound, "no such channel: %s", name)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return &channel, nil
}

// Get loads a channel by id.
func (r *ChannelRegistry) Get(id uint) (*Channel, error) {
	var channel Channel
	err := r.db.First(&channel, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeNotFound, "no such channel: %d", id)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return &channel, nil
}

// findTx looks up a channel inside the caller's transaction, returning nil
// without error when the name is unknown.
func (r *ChannelRegistry) findTx(tx *gorm.DB, name string) (*Channel, error) {
	var channel Channel
	err := tx.Where("name = ?", name).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// createTx inserts a new channel inside the caller's transaction. The caller
// decides when lazy creation is allowed to fire.
func (r *ChannelRegistry) createTx(tx *gorm.DB, name string) (*Channel, error) {
	channel := Channel{Name: name}
	if err := tx.Create(&channel).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

// List returns all known channels in name order.
func (r *ChannelRegistry) List() ([]Channel, error) {
	var channels []Channel
	if err := r.db.Order("name ASC").Find(&channels).Error; err != nil {
		return nil, classifyStoreError(err)
	}
	return channels, nil
}
