package fake

import (
	"strings"
	"sync"

	"github.com/OliverSchlueter/mail-sender/internal/users"
)

type DB struct {
	Items map[string]users.User
	mu    sync.Mutex
}

func NewDB() *DB {
	return &DB{
		Items: make(map[string]users.User),
		mu:    sync.Mutex{},
	}
}

func (db *DB) GetByName(name string) (*users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, exists := db.Items[name]
	if !exists {
		return nil, users.ErrUserNotFound
	}
	return &user, nil
}

func (db *DB) GetByEmail(email string) (*users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if user, ok := db.findByEmail(email); ok {
		return &user, nil
	}
	return nil, users.ErrUserNotFound
}

func (db *DB) DoesUserExistByEmail(email string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.findByEmail(email)
	return ok, nil
}

func (db *DB) Insert(user users.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.Items[user.Name]; exists {
		return users.ErrUserAlreadyExists
	}

	db.Items[user.Name] = user
	return nil
}

func (db *DB) findByEmail(email string) (users.User, bool) {
	for _, user := range db.Items {
		if strings.EqualFold(user.PrimaryEmail, email) {
			return user, true
		}
		for _, alias := range user.Emails {
			if strings.EqualFold(alias, email) {
				return user, true
			}
		}
	}
	return users.User{}, false
}
