package mails_test

import (
	"errors"
	"testing"

	"github.com/OliverSchlueter/mail-sender/internal/mails"
	"github.com/OliverSchlueter/mail-sender/internal/mails/database/fake"
)

func TestCreateAndList(t *testing.T) {
	ms := mails.NewStore(mails.Configuration{DB: fake.NewDB()})

	first, err := ms.Create(mails.Mail{Owner: "u1", Subject: "first"})
	if err != nil {
		t.Fatalf("Failed to create mail: %v", err)
	}
	if first.ID == "" || first.ReceivedAt.IsZero() {
		t.Errorf("Expected ID and ReceivedAt to be set, got %+v", first)
	}

	if _, err := ms.Create(mails.Mail{Owner: "u2", Subject: "other"}); err != nil {
		t.Fatalf("Failed to create mail: %v", err)
	}
	if _, err := ms.Create(mails.Mail{Owner: "u1", Subject: "second"}); err != nil {
		t.Fatalf("Failed to create mail: %v", err)
	}

	owned, err := ms.ListByOwner("u1")
	if err != nil {
		t.Fatalf("Failed to list mails: %v", err)
	}
	if len(owned) != 2 || owned[0].Subject != "first" || owned[1].Subject != "second" {
		t.Errorf("Expected [first second], got %+v", owned)
	}

	got, err := ms.GetByID(first.ID)
	if err != nil {
		t.Fatalf("Failed to get mail: %v", err)
	}
	if got.Subject != "first" {
		t.Errorf("Expected subject first, got %s", got.Subject)
	}
}

func TestCreateDuplicateID(t *testing.T) {
	ms := mails.NewStore(mails.Configuration{DB: fake.NewDB()})

	if _, err := ms.Create(mails.Mail{ID: "m1"}); err != nil {
		t.Fatalf("Failed to create mail: %v", err)
	}
	if _, err := ms.Create(mails.Mail{ID: "m1"}); !errors.Is(err, mails.ErrMailAlreadyExists) {
		t.Errorf("Expected ErrMailAlreadyExists, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	ms := mails.NewStore(mails.Configuration{DB: fake.NewDB()})

	if _, err := ms.GetByID("missing"); !errors.Is(err, mails.ErrMailNotFound) {
		t.Errorf("Expected ErrMailNotFound, got %v", err)
	}
}

func TestParse(t *testing.T) {
	raw := "From: alice@localhost\r\n" +
		"To: bob@localhost\r\n" +
		"Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n" +
		"X-Trace: one\r\n" +
		"X-Trace: two\r\n" +
		"\r\n" +
		"Hello Bob.\r\n"

	m, err := mails.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Failed to parse mail: %v", err)
	}

	if m.Subject != "Grüße" {
		t.Errorf("Expected subject Grüße, got %q", m.Subject)
	}
	if m.Headers["From"] != "alice@localhost" {
		t.Errorf("Expected From header alice@localhost, got %q", m.Headers["From"])
	}
	if m.Headers["X-Trace"] != "one" {
		t.Errorf("Expected first X-Trace value, got %q", m.Headers["X-Trace"])
	}
	if m.Body != "Hello Bob.\r\n" {
		t.Errorf("Expected body %q, got %q", "Hello Bob.\r\n", m.Body)
	}
	if m.Size != len(raw) {
		t.Errorf("Expected size %d, got %d", len(raw), m.Size)
	}
}
