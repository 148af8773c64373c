package users

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type DB interface {
	GetByName(name string) (*User, error)
	GetByEmail(email string) (*User, error)
	DoesUserExistByEmail(email string) (bool, error)
	Insert(user User) error
}

type Store struct {
	db   DB
	cost int
}

type Configuration struct {
	DB DB

	// HashCost is the bcrypt cost used for new passwords.
	HashCost int
}

func NewStore(config Configuration) *Store {
	if config.HashCost == 0 {
		config.HashCost = bcrypt.DefaultCost
	}

	return &Store{
		db:   config.DB,
		cost: config.HashCost,
	}
}

func (s *Store) GetByName(name string) (*User, error) {
	return s.db.GetByName(name)
}

func (s *Store) GetByEmail(email string) (*User, error) {
	return s.db.GetByEmail(email)
}

func (s *Store) DoesUserExistByEmail(email string) (bool, error) {
	return s.db.DoesUserExistByEmail(email)
}

// Create stores u with a fresh ID and a hashed password. None of the user's
// addresses may belong to another user.
func (s *Store) Create(u User) (*User, error) {
	for _, addr := range u.Addresses() {
		exists, err := s.db.DoesUserExistByEmail(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to check address %s: %w", addr, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: address %s is taken", ErrUserAlreadyExists, addr)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u.ID = GenerateID()
	u.Password = string(hash)

	if err := s.db.Insert(u); err != nil {
		return nil, err
	}

	return &u, nil
}

// Authenticate looks the user up by name, then by address, and checks the
// password. Unknown users and wrong passwords both yield
// ErrInvalidCredentials.
func (s *Store) Authenticate(login, password string) (*User, error) {
	u, err := s.db.GetByName(login)
	if errors.Is(err, ErrUserNotFound) {
		u, err = s.db.GetByEmail(login)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func GenerateID() string {
	return uuid.New().String()
}
