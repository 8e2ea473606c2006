package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/notify"
	"github.com/sakif/ebook-storefront/internal/repository"
	"github.com/sakif/ebook-storefront/internal/service"
)

// Test seams for the terminal.
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

func createAdminCmd() *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator, or promote an existing account",
		Long: `Create a verified administrator account. If the address already has an
account it is promoted and its password replaced.

The password is prompted for when stdin is a terminal and read from the
first line of stdin otherwise.

Examples:
  storefront-admin create-admin --email owner@example.com --name Owner
  echo "$ADMIN_PASSWORD" | storefront-admin create-admin --email owner@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := promptPassword(os.Stdin, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cfg, store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			tokens, err := auth.NewTokenService(cfg.JWT.Secret)
			if err != nil {
				return err
			}
			return createAdmin(cmd.Context(), store, tokens, newLogger(cfg), email, name, password, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "administrator email address")
	cmd.Flags().StringVar(&name, "name", "", "display name (default \"Admin\" for new accounts)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func createAdmin(
	ctx context.Context,
	store repository.Store,
	tokens *auth.TokenService,
	logger *slog.Logger,
	email, name, password string,
	out io.Writer,
) error {
	// Bootstrapping sends no mail; the log sender only satisfies the mailer.
	mailer := notify.NewMailer(notify.NewLogSender(logger), notify.MailerConfig{}, logger)
	accounts := service.NewAuthService(store.Users(), tokens, auth.NewPasswordService(), mailer, logger)

	u, err := accounts.BootstrapAdmin(ctx, email, name, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "admin %s (%s) ready\n", u.Email, u.ID)
	return nil
}

// promptPassword reads the password twice without echo on a terminal, or a
// single line from a pipe.
func promptPassword(in *os.File, w io.Writer) (string, error) {
	fd := int(in.Fd())
	if !isTerminal(fd) {
		return readLine(in)
	}

	fmt.Fprint(w, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
