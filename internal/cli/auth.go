package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/credential"
	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/ui/authform"
)

func (a *App) newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the IMAP login",
	}
	cmd.AddCommand(
		a.newAuthLoginCommand(),
		a.newAuthStatusCommand(),
		a.newAuthLogoutCommand(),
	)
	return cmd
}

func (a *App) newAuthLoginCommand() *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify IMAP credentials and store the password in the system keyring",
		Long: `login asks for the IMAP connection details and password, checks them
against the server and, on success, saves the connection details to the
config file and the password to the system keyring.

Without a terminal, pass --password-stdin and configure the host and
username in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			imapCfg := a.cfg.IMAP
			var password string

			if passwordStdin || !a.isTTY() {
				if imapCfg.Host == "" || imapCfg.Username == "" {
					return errors.New("imap.host and imap.username must be set in the config to log in without a terminal")
				}
				pw, err := a.readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				password = pw
			} else {
				values, err := authform.Run(imapCfg)
				if err != nil {
					return err
				}
				values.Apply(&imapCfg)
				password = values.Password
			}

			src := a.openSource(imapCfg, func(string) (string, error) {
				return password, nil
			}, a.logger.Named("imap"))
			defer src.Close()
			if err := validate(cmd.Context(), src); err != nil {
				return err
			}

			if err := a.setPassword(imapCfg.Username, password); err != nil {
				return err
			}

			if imapCfg.Host != a.cfg.IMAP.Host || imapCfg.Username != a.cfg.IMAP.Username ||
				imapCfg.Port != a.cfg.IMAP.Port || imapCfg.Mailbox != a.cfg.IMAP.Mailbox ||
				imapCfg.TLS != a.cfg.IMAP.TLS {
				a.cfg.IMAP = imapCfg
				if err := model.SaveConfig(a.configPath, a.cfg); err != nil {
					return err
				}
			}

			a.logger.Info("logged in",
				zap.String("host", imapCfg.Host),
				zap.String("username", imapCfg.Username),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s on %s\n", imapCfg.Username, imapCfg.Host)
			return nil
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (a *App) newAuthStatusCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configured IMAP account and whether a password is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			imapCfg := a.cfg.IMAP

			if imapCfg.Host == "" || imapCfg.Username == "" {
				fmt.Fprintln(out, "not configured (run `attachsync auth login`)")
				return nil
			}
			fmt.Fprintf(out, "account:  %s on %s:%s\n", imapCfg.Username, imapCfg.Host, imapCfg.Port)
			fmt.Fprintf(out, "mailbox:  %s\n", imapCfg.Mailbox)

			_, err := a.getPassword(imapCfg.Username)
			switch {
			case errors.Is(err, credential.ErrNotFound):
				fmt.Fprintln(out, "password: not stored")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintln(out, "password: stored")

			if !check {
				return nil
			}

			src := a.openSource(imapCfg, a.getPassword, a.logger.Named("imap"))
			defer src.Close()
			if err := src.Authorize(cmd.Context()); err != nil {
				fmt.Fprintln(out, "connection: failed")
				return err
			}
			fmt.Fprintln(out, "connection: ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "also log in to verify the stored credentials")
	return cmd
}

func (a *App) newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored IMAP password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username := a.cfg.IMAP.Username
			if username == "" {
				return errors.New("imap.username is not configured")
			}

			err := a.deletePassword(username)
			if errors.Is(err, credential.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no password stored for %s\n", username)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed password for %s\n", username)
			return nil
		},
	}
}
