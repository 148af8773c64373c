package smtp

type Command struct {
	Name      string
	Structure string
	Prefix    string
}

var (
	CmdEhlo = Command{
		Name:      "EHLO",
		Prefix:    "EHLO ",
		Structure: "EHLO %s",
	}

	CmdHelo = Command{
		Name:      "HELO",
		Prefix:    "HELO ",
		Structure: "HELO %s",
	}

	CmdStartTls = Command{
		Name:      "STARTTLS",
		Prefix:    "STARTTLS",
		Structure: "STARTTLS",
	}

	CmdMailFrom = Command{
		Name:      "MAIL FROM",
		Prefix:    "MAIL FROM:",
		Structure: "MAIL FROM:<%s>",
	}

	CmdRcptTo = Command{
		Name:      "RCPT TO",
		Prefix:    "RCPT TO:",
		Structure: "RCPT TO:<%s>",
	}

	CmdData = Command{
		Name:      "DATA",
		Prefix:    "DATA",
		Structure: "DATA",
	}

	CmdRset = Command{
		Name:      "RSET",
		Prefix:    "RSET",
		Structure: "RSET",
	}

	CmdNoop = Command{
		Name:      "NOOP",
		Prefix:    "NOOP",
		Structure: "NOOP",
	}

	CmdQuit = Command{
		Name:      "QUIT",
		Prefix:    "QUIT",
		Structure: "QUIT",
	}

	// extensions
	CmdAuth = Command{
		Name:      "AUTH",
		Prefix:    "AUTH ",
		Structure: "AUTH PLAIN LOGIN",
	}

	CmdAuthLogin = Command{
		Name:      "AUTH LOGIN",
		Prefix:    "AUTH LOGIN",
		Structure: "AUTH LOGIN",
	}

	CmdAuthPlain = Command{
		Name:      "AUTH PLAIN",
		Prefix:    "AUTH PLAIN",
		Structure: "AUTH PLAIN",
	}
)
