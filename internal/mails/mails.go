package mails

import (
	"time"

	"github.com/google/uuid"
)

type DB interface {
	GetByID(id string) (*Mail, error)
	GetByOwner(owner string) ([]Mail, error)
	Insert(mail Mail) error
}

type Store struct {
	db DB
}

type Configuration struct {
	DB DB
}

func NewStore(cfg Configuration) *Store {
	return &Store{
		db: cfg.DB,
	}
}

// Create stores m, assigning an ID and receive time when they are unset.
func (s *Store) Create(m Mail) (*Mail, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}

	if err := s.db.Insert(m); err != nil {
		return nil, err
	}

	return &m, nil
}

func (s *Store) GetByID(id string) (*Mail, error) {
	return s.db.GetByID(id)
}

// ListByOwner returns the owner's mails in the order they were received.
func (s *Store) ListByOwner(owner string) ([]Mail, error) {
	return s.db.GetByOwner(owner)
}
