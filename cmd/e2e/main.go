package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-sender/internal/mail"
	"github.com/OliverSchlueter/mail-sender/internal/mails"
	mailsfake "github.com/OliverSchlueter/mail-sender/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-sender/internal/session"
	"github.com/OliverSchlueter/mail-sender/internal/smtp"
	"github.com/OliverSchlueter/mail-sender/internal/users"
	usersfake "github.com/OliverSchlueter/mail-sender/internal/users/database/fake"
)

const hostname = "localhost"

func main() {
	lokiService := sloki.NewService(sloki.Configuration{
		URL:          "http://localhost:3100/loki/api/v1/push",
		Service:      "mail-sender-e2e",
		ConsoleLevel: slog.LevelDebug,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   false,
	})
	slog.SetDefault(slog.New(lokiService))

	if err := run(); err != nil {
		slog.Error("End to end run failed", sloki.WrapError(err))
		os.Exit(1)
	}
}

func run() error {
	// users
	us := users.NewStore(users.Configuration{
		DB: usersfake.NewDB(),
	})

	// add test users
	for _, u := range []users.User{
		{Name: "oliver", Password: "oliver123", PrimaryEmail: "oliver@" + hostname},
		{Name: "peter", Password: "peter123", PrimaryEmail: "peter@" + hostname},
		{Name: "anna", Password: "anna123", PrimaryEmail: "anna@" + hostname},
	} {
		if _, err := us.Create(u); err != nil {
			return fmt.Errorf("could not create user %s: %w", u.Name, err)
		}
	}

	// mails
	ms := mails.NewStore(mails.Configuration{
		DB: mailsfake.NewDB(),
	})

	// certificate for STARTTLS
	dir, err := os.MkdirTemp("", "mail-sender-e2e")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	certFile, keyFile, pool, err := writeSelfSignedCert(dir)
	if err != nil {
		return err
	}

	// smtp relay
	srv, err := smtp.NewServer(smtp.Configuration{
		Hostname: hostname,
		CertFile: certFile,
		KeyFile:  keyFile,
		Users:    us,
		Mails:    ms,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			slog.Error("SMTP relay stopped", sloki.WrapError(err))
		}
	}()
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Warn("Could not close SMTP relay", sloki.WrapError(err))
		}
	}()
	slog.Info("Started SMTP relay", slog.String("addr", ln.Addr().String()))

	return runSession(us, ms, ln.Addr().(*net.TCPAddr).Port, &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
}

func runSession(us *users.Store, ms *mails.Store, port int, tlsConfig *tls.Config) error {
	s, err := session.New(context.Background(), session.Configuration{
		Sender:    "oliver@" + hostname,
		Password:  "oliver123",
		Host:      "127.0.0.1",
		Port:      port,
		TLSConfig: tlsConfig,
		Trace:     true,
	})
	if err != nil {
		return err
	}

	s.CreateMessage("peter@"+hostname, "Hello Peter", "anna@"+hostname)
	_ = s.Attach(
		mail.NewText("Hi Peter,\nthis mail was sent through the local relay.", mail.FormatPlain),
		mail.NewText("<p>Hi Peter,<br>this mail was sent through the local relay.</p>", mail.FormatHTML),
		&mail.FilePart{Data: []byte("e2e report"), Filename: "Übersicht.txt"},
	)
	_ = s.SendMail()

	s.CreateMessage("nobody@"+hostname, "Lost mail")
	_ = s.Attach(mail.NewText("Nobody will read this.", mail.FormatPlain))
	_ = s.SendMail()

	report := s.Finish()
	fmt.Println(report)

	for _, name := range []string{"peter", "anna"} {
		u, err := us.GetByName(name)
		if err != nil {
			slog.Error("Could not get user", slog.String("name", name), sloki.WrapError(err))
			continue
		}
		inbox, err := ms.ListByOwner(u.ID)
		if err != nil {
			slog.Error("Could not list mails", slog.String("name", name), sloki.WrapError(err))
			continue
		}
		for _, m := range inbox {
			fmt.Printf("%s <- %s: %q (%d bytes)\n", name, m.From, m.Subject, m.Size)
		}
	}

	return nil
}
