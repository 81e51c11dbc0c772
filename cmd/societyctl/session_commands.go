package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tyemirov/societyclient/internal/society"
)

var errMissingCredentials = errors.New("societyctl.missing_credentials: username and password are required")

type whoAmIOutput struct {
	User      society.Profile `json:"user"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			username, password, err := readCredentials(command)
			if err != nil {
				return err
			}
			profile, err := runtime.session.Login(command.Context(), username, password)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), profile)
		}),
	}
	addCredentialFlags(command)
	return command
}

func newRegisterCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the session",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			username, password, err := readCredentials(command)
			if err != nil {
				return err
			}
			email, _ := command.Flags().GetString("email")
			profile, err := runtime.session.Register(command.Context(), username, password, strings.TrimSpace(email))
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), profile)
		}),
	}
	addCredentialFlags(command)
	command.Flags().String("email", "", "Account email")
	return command
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			if err := runtime.session.Logout(command.Context()); err != nil {
				fmt.Fprintf(command.ErrOrStderr(), "warn: %v\n", err)
			}
			_, err := fmt.Fprintln(command.OutOrStdout(), "signed out")
			return err
		}),
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			profile, err := runtime.requireSession(command.Context())
			if err != nil {
				return err
			}
			output := whoAmIOutput{User: profile}
			if claims, claimsErr := runtime.session.Claims(); claimsErr == nil && claims.ExpiresAt != nil {
				expiresAt := claims.ExpiresAt.Time.UTC()
				output.ExpiresAt = &expiresAt
			}
			return writeJSON(command.OutOrStdout(), output)
		}),
	}
}

func addCredentialFlags(command *cobra.Command) {
	command.Flags().String("username", "", "Account username")
	command.Flags().String("password", "", "Account password; read from the first line of stdin when omitted")
}

func readCredentials(command *cobra.Command) (string, string, error) {
	username, _ := command.Flags().GetString("username")
	password, _ := command.Flags().GetString("password")
	username = strings.TrimSpace(username)
	if password == "" {
		line, err := bufio.NewReader(command.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", "", fmt.Errorf("societyctl.read_password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if username == "" || password == "" {
		return "", "", errMissingCredentials
	}
	return username, password, nil
}
