package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-sender/internal/config"
	"github.com/OliverSchlueter/mail-sender/internal/mail"
	"github.com/OliverSchlueter/mail-sender/internal/session"
)

type attachments []string

func (a *attachments) String() string {
	return strings.Join(*a, ",")
}

func (a *attachments) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	var attach attachments
	configPath := flag.String("config", "", "path to a YAML config file")
	to := flag.String("to", "", "primary recipient")
	cc := flag.String("cc", "", "comma separated cc recipients")
	subject := flag.String("subject", "", "subject line")
	text := flag.String("text", "", "plain text body")
	html := flag.String("html", "", "HTML body")
	debug := flag.Bool("debug", false, "print the mail instead of sending it")
	trace := flag.Bool("trace", false, "log the SMTP conversation")
	flag.Var(&attach, "attach", "file to attach as path[:name], repeatable")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.Logging.LokiURL,
		Service:      "mail-sender",
		ConsoleLevel: cfg.SlogLevel(),
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.Logging.LokiEnabled,
	})
	slog.SetDefault(slog.New(lokiService))

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", sloki.WrapError(err))
		os.Exit(1)
	}
	if *to == "" {
		slog.Error("Missing recipient, use -to")
		os.Exit(1)
	}

	sessionCfg := session.Configuration{
		Sender:    cfg.Relay.Sender,
		Password:  cfg.Relay.Password,
		Host:      cfg.Relay.Host,
		Port:      cfg.Relay.Port,
		NoTLS:     !cfg.Relay.TLS,
		Debug:     cfg.Debug,
		Timeout:   cfg.Relay.Timeout,
		HelloName: cfg.Relay.Helo,
		Trace:     *trace,
	}

	if cfg.DKIMEnabled() {
		signer, err := mail.LoadDKIMSigner(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			slog.Error("Could not load DKIM key", slog.String("path", cfg.DKIM.KeyFile), sloki.WrapError(err))
			os.Exit(1)
		}
		sessionCfg.DKIM = signer
	}

	parts := []mail.Part{}
	if *text != "" {
		parts = append(parts, mail.NewText(*text, mail.FormatPlain))
	}
	if *html != "" {
		parts = append(parts, mail.NewText(*html, mail.FormatHTML))
	}
	for _, a := range attach {
		path, name := splitAttachment(a)
		part, err := mail.NewAttachment(path, name)
		if err != nil {
			slog.Error("Could not read attachment", slog.String("path", path), sloki.WrapError(err))
			os.Exit(1)
		}
		parts = append(parts, part)
	}

	s, err := session.New(context.Background(), sessionCfg)
	if err != nil {
		os.Exit(1)
	}

	s.CreateMessage(*to, *subject, strings.Split(*cc, ",")...)
	if err := s.Attach(parts...); err != nil {
		slog.Error("Could not attach parts", sloki.WrapError(err))
	}
	if err := s.SendMail(); err != nil {
		slog.Error("Could not send mail", sloki.WrapError(err))
	}

	if report := s.Finish(); !report.OK() {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// splitAttachment splits "path[:name]". The name defaults to the base name of
// the path.
func splitAttachment(v string) (string, string) {
	path, name, ok := strings.Cut(v, ":")
	if !ok || name == "" {
		return v, filepath.Base(v)
	}
	return path, name
}
