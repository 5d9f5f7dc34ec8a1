package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/subscription"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := database.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s database is up to date\n", green("✓"), db.Type())
			return nil
		},
	}
}

func newResetUsageCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reset-usage",
		Short: "Start a new usage month for one user or every user",
		Long: `Zero the monthly AI request and upload counters.

Without --user every account is reset. This is what the monthly billing job
runs; running it twice has the same effect as running it once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := database.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.ResetUsage(cmd.Context(), userID)
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("user %s not found", userID)
			}
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset usage for %d account(s)\n", green("✓"), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Only reset this user id")
	return cmd
}

func newSweepCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep-stuck",
		Short: "Fail requests stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Sweep.StuckAfter
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}

			db, err := database.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			proc, err := newProcessor(cfg, db)
			if err != nil {
				return err
			}
			n, err := proc.Sweep(cmd.Context(), olderThan)
			if err != nil {
				return err
			}

			if n == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No stuck requests older than %s\n", olderThan)
				return nil
			}
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s failed %d stuck request(s)\n", yellow("!"), n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Processing age after which a request counts as stuck (default sweep.stuckAfter)")
	return cmd
}

func newSetPlanCmd(configPath *string) *cobra.Command {
	var userID, planName string

	cmd := &cobra.Command{
		Use:   "set-plan",
		Short: "Move a user to another subscription plan",
		Long: `Start a new subscription period on the given plan.

The plan's request and upload limits replace the old ones. Usage already
counted this month is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, ok := models.ParsePlan(planName)
			if !ok {
				return fmt.Errorf("unknown plan %q", planName)
			}
			return updateAccount(cmd, *configPath, userID, func(cfg *config.Config) (database.AccountUpdate, error) {
				catalog, err := subscription.NewCatalog(cfg.Plans)
				if err != nil {
					return database.AccountUpdate{}, err
				}
				sub := catalog.Subscribe(plan, time.Now().UTC())
				return database.AccountUpdate{Subscription: &sub}, nil
			}, fmt.Sprintf("moved %s to the %s plan", userID, plan))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&planName, "plan", "", "free, basic, premium or enterprise")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("plan")
	return cmd
}

func newSetRoleCmd(configPath *string) *cobra.Command {
	var userID, roleName string

	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Change a user's role",
		RunE: func(cmd *cobra.Command, args []string) error {
			role := models.Role(roleName)
			if !role.Valid() {
				return fmt.Errorf("unknown role %q", roleName)
			}
			return updateAccount(cmd, *configPath, userID, func(*config.Config) (database.AccountUpdate, error) {
				return database.AccountUpdate{Role: &role}, nil
			}, fmt.Sprintf("%s is now %s", userID, role))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&roleName, "role", "", "user, moderator or admin")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newSetActiveCmd(configPath *string) *cobra.Command {
	var (
		userID string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "set-active",
		Short: "Enable or disable a user account",
		Long: `Enable or disable an account. Disabled accounts keep their data but every
authenticated request is rejected with ACCOUNT_INACTIVE.`,
		Example: "  agency set-active --user 3f0c... --active=false",
		RunE: func(cmd *cobra.Command, args []string) error {
			state := "enabled"
			if !active {
				state = "disabled"
			}
			return updateAccount(cmd, *configPath, userID, func(*config.Config) (database.AccountUpdate, error) {
				return database.AccountUpdate{Active: &active}, nil
			}, fmt.Sprintf("%s %s", state, userID))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().BoolVar(&active, "active", true, "Whether the account may sign in")
	cmd.MarkFlagRequired("user")
	return cmd
}

// updateAccount opens the database, applies the update build returns and
// prints done on success.
func updateAccount(cmd *cobra.Command, configPath, userID string, build func(*config.Config) (database.AccountUpdate, error), done string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	update, err := build(cfg)
	if err != nil {
		return err
	}
	db, err := database.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.UpdateAccount(cmd.Context(), userID, update)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("✓"), done)
	return nil
}
