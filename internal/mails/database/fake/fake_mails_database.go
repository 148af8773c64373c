package fake

import (
	"sync"

	"github.com/OliverSchlueter/mail-sender/internal/mails"
)

type DB struct {
	Mails []mails.Mail
	mu    sync.Mutex
}

func NewDB() *DB {
	return &DB{
		Mails: []mails.Mail{},
		mu:    sync.Mutex{},
	}
}

func (db *DB) GetByID(id string) (*mails.Mail, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, mail := range db.Mails {
		if mail.ID == id {
			return &mail, nil
		}
	}
	return nil, mails.ErrMailNotFound
}

func (db *DB) GetByOwner(owner string) ([]mails.Mail, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var owned []mails.Mail
	for _, mail := range db.Mails {
		if mail.Owner == owner {
			owned = append(owned, mail)
		}
	}
	return owned, nil
}

func (db *DB) Insert(mail mails.Mail) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Mails {
		if existing.ID == mail.ID {
			return mails.ErrMailAlreadyExists
		}
	}

	db.Mails = append(db.Mails, mail)
	return nil
}
