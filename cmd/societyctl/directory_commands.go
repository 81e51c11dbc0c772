package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tyemirov/societyclient/internal/society"
	"github.com/tyemirov/societyclient/pkg/apiclient"
)

var (
	errMissingPayload = errors.New("societyctl.missing_payload: provide --data or --file")
	errInvalidQuery   = errors.New("societyctl.invalid_query: expected key=value")
	errInvalidData    = errors.New("societyctl.invalid_data: --data is not valid JSON")
)

type exportOutput struct {
	File        string `json:"file"`
	ContentType string `json:"contentType"`
	Bytes       int    `json:"bytes"`
}

func newMembersCommand() *cobra.Command {
	membersCmd := &cobra.Command{
		Use:   "members",
		Short: "Manage the members directory",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			page, _ := command.Flags().GetInt("page")
			size, _ := command.Flags().GetInt("size")
			search, _ := command.Flags().GetString("search")
			sortSpec, _ := command.Flags().GetString("sort")
			result, err := runtime.members.List(command.Context(), society.ListQuery{Page: page, Size: size, Search: search, Sort: sortSpec})
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), result)
		}),
	}
	addPageFlags(listCmd)
	listCmd.Flags().String("search", "", "Filter by name")
	listCmd.Flags().String("sort", "", "Sort as field or field,desc")

	getCmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show one member",
		Args:  cobra.ExactArgs(1),
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			memberID, err := parseIdentifier(arguments[0])
			if err != nil {
				return err
			}
			member, err := runtime.members.Get(command.Context(), memberID)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), member)
		}),
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a member from JSON",
		Args:  cobra.NoArgs,
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			var member society.Member
			if err := readPayload(command, &member); err != nil {
				return err
			}
			created, err := runtime.members.Create(command.Context(), member)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), created)
		}),
	}
	addPayloadFlags(createCmd)

	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Replace a member from JSON",
		Args:  cobra.ExactArgs(1),
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			memberID, err := parseIdentifier(arguments[0])
			if err != nil {
				return err
			}
			var member society.Member
			if err := readPayload(command, &member); err != nil {
				return err
			}
			updated, err := runtime.members.Update(command.Context(), memberID, member)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), updated)
		}),
	}
	addPayloadFlags(updateCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a member",
		Args:  cobra.ExactArgs(1),
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			memberID, err := parseIdentifier(arguments[0])
			if err != nil {
				return err
			}
			if err := runtime.members.Delete(command.Context(), memberID); err != nil {
				return err
			}
			_, err = fmt.Fprintf(command.OutOrStdout(), "deleted member %d\n", memberID)
			return err
		}),
	}

	photoCmd := &cobra.Command{
		Use:   "photo ID FILE",
		Short: "Upload a member photo",
		Args:  cobra.ExactArgs(2),
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			memberID, err := parseIdentifier(arguments[0])
			if err != nil {
				return err
			}
			photo, err := os.Open(arguments[1])
			if err != nil {
				return fmt.Errorf("societyctl.photo: %w", err)
			}
			defer photo.Close()
			updated, err := runtime.members.UploadPhoto(command.Context(), memberID, filepath.Base(arguments[1]), photo)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), updated)
		}),
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Download the members document",
		Args:  cobra.NoArgs,
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			outputDir, _ := command.Flags().GetString("output")
			search, _ := command.Flags().GetString("search")
			query := url.Values{}
			if strings.TrimSpace(search) != "" {
				query.Set("search", strings.TrimSpace(search))
			}
			file, err := runtime.members.Export(command.Context(), query)
			if err != nil {
				return err
			}
			target := filepath.Join(outputDir, file.Filename)
			if err := os.WriteFile(target, file.Data, 0o644); err != nil {
				return fmt.Errorf("societyctl.export: %w", err)
			}
			return writeJSON(command.OutOrStdout(), exportOutput{File: target, ContentType: file.ContentType, Bytes: len(file.Data)})
		}),
	}
	exportCmd.Flags().String("output", ".", "Directory to write the document into")
	exportCmd.Flags().String("search", "", "Filter by name")

	membersCmd.AddCommand(listCmd, getCmd, createCmd, updateCmd, deleteCmd, photoCmd, exportCmd)
	return membersCmd
}

func newLogsCommand() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Read the audit log",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			page, _ := command.Flags().GetInt("page")
			size, _ := command.Flags().GetInt("size")
			result, err := runtime.logs.List(command.Context(), page, size)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), result)
		}),
	}
	addPageFlags(listCmd)
	logsCmd.AddCommand(listCmd)
	return logsCmd
}

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			page, _ := command.Flags().GetInt("page")
			size, _ := command.Flags().GetInt("size")
			result, err := runtime.users.List(command.Context(), page, size)
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), result)
		}),
	}
	addPageFlags(listCmd)

	setRoleCmd := &cobra.Command{
		Use:   "set-role ID ROLE",
		Short: "Change an account's role and activate it",
		Args:  cobra.ExactArgs(2),
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			userID, err := parseIdentifier(arguments[0])
			if err != nil {
				return err
			}
			account, err := runtime.users.UpdateRole(command.Context(), userID, arguments[1])
			if err != nil {
				return err
			}
			return writeJSON(command.OutOrStdout(), account)
		}),
	}
	usersCmd.AddCommand(listCmd, setRoleCmd)
	return usersCmd
}

func newRequestCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authenticated request and print the response body",
		Args:  cobra.ExactArgs(2),
		RunE: authenticated(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
			method := strings.ToUpper(strings.TrimSpace(arguments[0]))
			options := apiclient.RequestOptions{}
			queryPairs, _ := command.Flags().GetStringArray("query")
			if len(queryPairs) > 0 {
				options.Query = url.Values{}
				for _, pair := range queryPairs {
					key, value, found := strings.Cut(pair, "=")
					if !found || strings.TrimSpace(key) == "" {
						return fmt.Errorf("%w: %q", errInvalidQuery, pair)
					}
					options.Query.Add(strings.TrimSpace(key), value)
				}
			}
			if data, _ := command.Flags().GetString("data"); data != "" {
				if !json.Valid([]byte(data)) {
					return errInvalidData
				}
				options.Body = json.RawMessage(data)
			}
			response, err := runtime.client.Do(command.Context(), method, arguments[1], options)
			if err != nil {
				return err
			}
			if response.StatusCode == http.StatusNoContent || len(response.Body) == 0 {
				_, err = fmt.Fprintf(command.OutOrStdout(), "%d\n", response.StatusCode)
				return err
			}
			_, err = command.OutOrStdout().Write(response.Body)
			return err
		}),
	}
	command.Flags().String("data", "", "JSON request body")
	command.Flags().StringArray("query", nil, "Query parameter as key=value; repeatable")
	return command
}

// authenticated restores the stored session before running.
func authenticated(run func(command *cobra.Command, runtime *clientRuntime, arguments []string) error) func(*cobra.Command, []string) error {
	return withRuntime(func(command *cobra.Command, runtime *clientRuntime, arguments []string) error {
		if _, err := runtime.requireSession(command.Context()); err != nil {
			return err
		}
		return run(command, runtime, arguments)
	})
}

func addPageFlags(command *cobra.Command) {
	command.Flags().Int("page", 0, "Zero-based page")
	command.Flags().Int("size", 20, "Page size")
}

func addPayloadFlags(command *cobra.Command) {
	command.Flags().String("data", "", "Member JSON")
	command.Flags().String("file", "", "Path to a member JSON file")
}

func readPayload(command *cobra.Command, target any) error {
	data, _ := command.Flags().GetString("data")
	path, _ := command.Flags().GetString("file")
	raw := []byte(data)
	if data == "" {
		if path == "" {
			return errMissingPayload
		}
		fileBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("societyctl.read_payload: %w", err)
		}
		raw = fileBytes
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("societyctl.read_payload: %w", err)
	}
	return nil
}

func parseIdentifier(raw string) (int64, error) {
	identifier, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || identifier <= 0 {
		return 0, fmt.Errorf("societyctl: %w: %q", society.ErrInvalidIdentifier, raw)
	}
	return identifier, nil
}
