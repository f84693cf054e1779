package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/switchboard/internal/app"
	"github.com/florianilch/switchboard/internal/store"
)

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "manage saved Codex accounts",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list saved accounts",
				Action: accountListAction,
			},
			{
				Name:      "import",
				Usage:     "save the Codex CLI's current login as a new account",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "notes", Usage: "free-form notes"},
				},
				Action: accountImportAction,
			},
			{
				Name:      "switch",
				Usage:     "make an account the active Codex login",
				ArgsUsage: "ID|NAME",
				Action:    accountSwitchAction,
			},
			{
				Name:      "delete",
				Usage:     "delete a saved account",
				ArgsUsage: "ID|NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "skip confirmation"},
				},
				Action: accountDeleteAction,
			},
			{
				Name:      "update",
				Usage:     "rename or annotate an account",
				ArgsUsage: "ID|NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "new account name"},
					&cli.StringFlag{Name: "notes", Usage: "new notes"},
				},
				Action: accountUpdateAction,
			},
			{
				Name:      "quota",
				Usage:     "fetch live usage for an account",
				ArgsUsage: "ID|NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "usage--base-url",
						Usage: "quota API base URL",
						Value: app.DefaultConfigUsageBaseURL,
					},
				},
				Action: accountQuotaAction,
			},
			{
				Name:      "sync",
				Usage:     "pull auth.json into an account's record",
				ArgsUsage: "ID|NAME",
				Action:    accountSyncAction,
			},
		},
	}
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "show or change application settings",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "background-refresh", Usage: "enable the background sync scheduler"},
			&cli.IntFlag{Name: "refresh-interval", Usage: "background sync interval in minutes"},
		},
		Action: settingsAction,
	}
}

func conflictCommand() *cli.Command {
	return &cli.Command{
		Name:   "conflict",
		Usage:  "check whether Codex rotated tokens the active account has not caught up with",
		Action: conflictAction,
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "export all accounts and settings",
		ArgsUsage: "[FILE]",
		Action:    exportAction,
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "replace all accounts and settings with an exported document",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "skip confirmation"},
		},
		Action: importAction,
	}
}

func accountListAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	accounts := application.Accounts()
	if len(accounts) == 0 {
		fmt.Println("No accounts saved. Use 'switchboard account import' to add one.")
		return nil
	}

	currentID := application.CurrentID()
	for _, account := range accounts {
		marker := " "
		if account.ID == currentID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %s", marker, account.ID, account.Name)
		if account.Notes != "" {
			line += "  (" + account.Notes + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func accountImportAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("account name is required")
	}

	application, err := setup(cmd)
	if err != nil {
		return err
	}

	account, err := application.ImportCurrent(name, cmd.String("notes"))
	if err != nil {
		return err
	}

	fmt.Printf("Saved current login as %q (%s)\n", account.Name, account.ID)
	return nil
}

func accountSwitchAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	account, err := resolveAccount(application, cmd.Args().First())
	if err != nil {
		return err
	}

	if err := application.Switch(ctx, account.ID); err != nil {
		return err
	}

	fmt.Printf("Switched to %q\n", account.Name)
	return nil
}

func accountDeleteAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	account, err := resolveAccount(application, cmd.Args().First())
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Delete account %q? This cannot be undone.", account.Name)
	if !cmd.Bool("yes") && !confirm(prompt) {
		return fmt.Errorf("aborted")
	}

	if err := application.Delete(account.ID); err != nil {
		return err
	}

	fmt.Printf("Deleted %q\n", account.Name)
	return nil
}

func accountUpdateAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	account, err := resolveAccount(application, cmd.Args().First())
	if err != nil {
		return err
	}

	var name, notes *string
	if cmd.IsSet("name") {
		v := cmd.String("name")
		name = &v
	}
	if cmd.IsSet("notes") {
		v := cmd.String("notes")
		notes = &v
	}
	if name == nil && notes == nil {
		return fmt.Errorf("nothing to update, pass --name or --notes")
	}

	updated, err := application.Update(account.ID, name, notes)
	if err != nil {
		return err
	}

	fmt.Printf("Updated %q\n", updated.Name)
	return nil
}

func accountQuotaAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	account, err := resolveAccount(application, cmd.Args().First())
	if err != nil {
		return err
	}

	quota, err := application.Quota(ctx, account.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Account:  %s\n", account.Name)
	fmt.Printf("Plan:     %s\n", quota.PlanType)
	fmt.Printf("5h:       %.0f%% left, %s\n", quota.FiveHourLeft, quota.FiveHourReset)
	fmt.Printf("Weekly:   %.0f%% left, %s\n", quota.WeeklyLeft, quota.WeeklyReset)
	if !quota.IsValidForCLI {
		fmt.Println("Warning:  this plan is not usable with the Codex CLI")
	}
	return nil
}

func accountSyncAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	account, err := resolveAccount(application, cmd.Args().First())
	if err != nil {
		return err
	}

	changed, err := application.Sync(account.ID)
	if err != nil {
		return err
	}

	if changed {
		fmt.Printf("Synced auth.json into %q\n", account.Name)
	} else {
		fmt.Printf("%q is already up to date\n", account.Name)
	}
	return nil
}

func settingsAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	settings := application.Settings()

	if cmd.IsSet("background-refresh") || cmd.IsSet("refresh-interval") {
		if cmd.IsSet("background-refresh") {
			settings.BackgroundRefresh = cmd.Bool("background-refresh")
		}
		if cmd.IsSet("refresh-interval") {
			settings.RefreshIntervalMinutes = int(cmd.Int("refresh-interval"))
		}
		if err := application.UpdateSettings(settings); err != nil {
			return err
		}
	}

	fmt.Printf("Background refresh:  %t\n", settings.BackgroundRefresh)
	fmt.Printf("Refresh interval:    %d minutes\n", settings.RefreshIntervalMinutes)
	return nil
}

func conflictAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	if name, conflict := application.CheckConflict(); conflict {
		fmt.Printf("Codex rotated tokens for %q, run 'switchboard account sync' to catch up\n", name)
		return nil
	}
	fmt.Println("No conflict detected")
	return nil
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	data, err := application.Export()
	if err != nil {
		return err
	}

	if path := cmd.Args().First(); path != "" {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported to %s\n", path)
		return nil
	}

	fmt.Println(string(data))
	return nil
}

func importAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("import file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}

	application, err := setup(cmd)
	if err != nil {
		return err
	}

	if !cmd.Bool("yes") && !confirm("This replaces all saved accounts and settings. Continue?") {
		return fmt.Errorf("aborted")
	}

	if err := application.Import(data); err != nil {
		return err
	}

	fmt.Println("Import complete")
	return nil
}

// resolveAccount finds an account by id, falling back to an exact name match
// when it is unambiguous.
func resolveAccount(application *app.App, ref string) (store.Account, error) {
	if ref == "" {
		return store.Account{}, fmt.Errorf("account id or name is required")
	}

	accounts := application.Accounts()

	for _, account := range accounts {
		if account.ID == ref {
			return account, nil
		}
	}

	var matches []store.Account
	for _, account := range accounts {
		if account.Name == ref {
			matches = append(matches, account)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return store.Account{}, fmt.Errorf("no account matches %q", ref)
	default:
		return store.Account{}, fmt.Errorf("name %q is ambiguous, use the account id", ref)
	}
}

// confirm prompts on the terminal for a yes/no answer. Non-interactive
// sessions always answer no, forcing an explicit --yes.
func confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
