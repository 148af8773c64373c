package smtp

const (
	StatusServiceReady  = "220 %s SMTP service ready" // server hostname
	StatusReadyStarting = "220 Ready to start TLS"
	StatusConnClosed    = "221 %s closing connection" // server hostname
	StatusAuthSuccess   = "235 Authentication successful"
	StatusOK            = "250 OK"
	StatusGreeting      = "%s greets %s" // server hostname, client hostname

	StatusAuthContinue   = "334 "
	StatusAuthUsername   = "334 VXNlcm5hbWU6" // Base64 encoded "Username:"
	StatusAuthPassword   = "334 UGFzc3dvcmQ6" // Base64 encoded "Password:"
	StatusStartMailInput = "354 Start mail input; end with <CRLF>.<CRLF>"

	StatusLocalError        = "451 Requested action aborted: local error in processing"
	StatusTooManyRecipients = "452 Too many recipients"

	StatusBadCommand           = "500 Unrecognized command"
	StatusLineTooLong          = "500 Line too long" // line exceeds maximum length
	StatusSyntaxError          = "501 Syntax error in parameters or arguments"
	StatusInvalidBase64        = "501 Invalid base64 encoding"
	StatusAuthCancelled        = "501 Authentication cancelled"
	StatusNotImplemented       = "502 Command not implemented"           // command not supported by server
	StatusBadSequence          = "503 Bad sequence: '%s' required first" // required command
	StatusAlreadyAuthenticated = "503 Already authenticated"
	StatusTLSAlreadyActive     = "503 TLS already active"
	StatusUnknownMechanism     = "504 Unrecognized authentication type"
	StatusAuthRequired         = "530 Authentication required"
	StatusAuthenticationFailed = "535 Authentication failed" // invalid credentials
	StatusEncryptionRequired   = "538 Encryption required for requested authentication mechanism"
	StatusNoSuchUser           = "550 No such user here"
	StatusMessageTooLarge      = "552 Message exceeds fixed maximum message size"
	StatusSenderNotOwned       = "553 Sender address not owned by authenticated user"
)
