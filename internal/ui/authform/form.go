// Package authform prompts for IMAP connection details and the password.
package authform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/attachsync/internal/model"
)

// Values holds what the form collects.
type Values struct {
	Host     string
	Port     string
	Username string
	Password string
	Mailbox  string
	TLS      bool
}

// FromConfig pre-fills Values from the current IMAP settings.
func FromConfig(cfg model.IMAPConfig) Values {
	v := Values{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Mailbox:  cfg.Mailbox,
		TLS:      cfg.TLS,
	}
	if v.Port == "" {
		v.Port = "993"
	}
	if v.Mailbox == "" {
		v.Mailbox = "INBOX"
	}
	return v
}

// Apply copies the connection settings, but not the password, into cfg.
func (v Values) Apply(cfg *model.IMAPConfig) {
	cfg.Host = strings.TrimSpace(v.Host)
	cfg.Port = strings.TrimSpace(v.Port)
	cfg.Username = strings.TrimSpace(v.Username)
	cfg.Mailbox = strings.TrimSpace(v.Mailbox)
	cfg.TLS = v.TLS
}

// New builds the login form bound to v.
func New(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&v.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&v.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Email account username").
				Placeholder("user@example.com").
				Value(&v.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Email account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&v.Password).
				Validate(validateRequired("Password")),
			huh.NewInput().
				Title("Mailbox").
				Description("Mailbox to scan").
				Placeholder("INBOX").
				Value(&v.Mailbox).
				Validate(validateRequired("Mailbox")),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Connect with implicit TLS; otherwise STARTTLS is used").
				Affirmative("Yes").
				Negative("No").
				Value(&v.TLS),
		),
	)
}

// Run shows the form and returns the collected values. It returns
// huh.ErrUserAborted if the user cancels.
func Run(cfg model.IMAPConfig) (Values, error) {
	v := FromConfig(cfg)
	if err := New(&v).Run(); err != nil {
		return Values{}, err
	}
	return v, nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
