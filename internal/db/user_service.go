package db

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// GetUser retrieves a user by ID
func GetUser(conn *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	err := conn.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.NotFound, "user #%d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUser resolves a user by numeric id or username.
func FindUser(conn *gorm.DB, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return GetUser(conn, uint(id))
	}
	var user models.User
	err := conn.Where("username = ?", ref).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.NotFound, "user %q not found", ref)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUsers resolves each of refs with FindUser.
func FindUsers(conn *gorm.DB, refs []string) ([]models.User, error) {
	users := make([]models.User, 0, len(refs))
	for _, ref := range refs {
		u, err := FindUser(conn, ref)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// ListUsers returns every user ordered by id.
func ListUsers(conn *gorm.DB) ([]models.User, error) {
	var users []models.User
	err := conn.Order("id ASC").Find(&users).Error
	return users, err
}

// GetUsers returns the users that exist among ids, ordered by id.
func GetUsers(conn *gorm.DB, ids []uint) ([]models.User, error) {
	ids = SortedUniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := conn.Where("id IN ?", ids).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser inserts a user, defaulting the role to clerk.
func CreateUser(conn *gorm.DB, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleClerk
	}
	return conn.Create(user).Error
}

// SetPresence flips the online flag; going offline stamps last_seen.
func SetPresence(conn *gorm.DB, userID uint, online bool, at time.Time) error {
	updates := map[string]any{"is_online": online}
	if !online {
		updates["last_seen"] = at
	}
	return conn.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
}
