package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	settings *viper.Viper
	out      io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	settings := viper.New()
	settings.SetEnvPrefix("GEMA")
	settings.AutomaticEnv()
	settings.SetDefault("api_url", "http://localhost:8080")
	settings.SetDefault("output", "yaml")

	app := &cli{settings: settings, out: out}

	cmd := &cobra.Command{
		Use:           "gradectl",
		Short:         "Manage programming exercise grading",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	flags := cmd.PersistentFlags()
	flags.String("api", "", "Grading API base url (GEMA_API_URL)")
	flags.String("token", "", "Bearer token (GEMA_TOKEN)")
	flags.StringP("output", "o", "", "Output format: yaml or json")
	flags.Duration("timeout", 30*time.Second, "Request timeout")
	_ = settings.BindPFlag("api_url", flags.Lookup("api"))
	_ = settings.BindPFlag("token", flags.Lookup("token"))
	_ = settings.BindPFlag("output", flags.Lookup("output"))
	_ = settings.BindPFlag("timeout", flags.Lookup("timeout"))

	cmd.AddCommand(
		app.scheduleCmd(),
		app.recomputeCmd(),
		app.testCasesCmd(),
		app.policyCmd(),
		app.countCmd(),
		app.activityCmd(),
	)
	return cmd
}

func (a *cli) call(method, path string, body interface{}) error {
	c, err := newClient(a.settings.GetString("api_url"), a.settings.GetString("token"), a.settings.GetDuration("timeout"))
	if err != nil {
		return err
	}
	data, message, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	return render(a.out, a.settings.GetString("output"), message, data)
}

func parseID(arg, name string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, arg)
	}
	return id, nil
}

func (a *cli) scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule EXERCISE_ID",
		Short: "Re-plan the due date and release timers of an exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			return a.call(fiber.MethodPost, fmt.Sprintf("/programming-exercises/%d/schedule", id), nil)
		},
	}
}

func (a *cli) recomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute EXERCISE_ID",
		Short: "Recalculate the scores of all results of an exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			return a.call(fiber.MethodPost, fmt.Sprintf("/programming-exercises/%d/recompute", id), nil)
		},
	}
}

func (a *cli) testCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-cases EXERCISE_ID",
		Short: "List the test cases of an exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			return a.call(fiber.MethodGet, fmt.Sprintf("/programming-exercises/%d/test-cases", id), nil)
		},
	}

	var (
		weight     float64
		bonusMult  float64
		bonusPts   float64
		visibility string
	)
	update := &cobra.Command{
		Use:   "update EXERCISE_ID TEST_CASE_ID",
		Short: "Change the weight, bonus or visibility of a test case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			testID, err := parseID(args[1], "test case id")
			if err != nil {
				return err
			}
			change := map[string]interface{}{"id": testID}
			if cmd.Flags().Changed("weight") {
				change["weight"] = weight
			}
			if cmd.Flags().Changed("bonus-multiplier") {
				change["bonus_multiplier"] = bonusMult
			}
			if cmd.Flags().Changed("bonus-points") {
				change["bonus_points"] = bonusPts
			}
			if cmd.Flags().Changed("visibility") {
				change["visibility"] = visibility
			}
			return a.call(fiber.MethodPatch, fmt.Sprintf("/programming-exercises/%d/test-cases", id), []map[string]interface{}{change})
		},
	}
	update.Flags().Float64Var(&weight, "weight", 1, "Test weight")
	update.Flags().Float64Var(&bonusMult, "bonus-multiplier", 1, "Bonus multiplier")
	update.Flags().Float64Var(&bonusPts, "bonus-points", 0, "Bonus points")
	update.Flags().StringVar(&visibility, "visibility", "", "ALWAYS, AFTER_DUE_DATE or NEVER")
	cmd.AddCommand(update)
	return cmd
}

func (a *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and change the submission policy of an exercise",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get EXERCISE_ID",
		Short: "Show the submission policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			return a.call(fiber.MethodGet, policyPath(id), nil)
		},
	})

	var (
		policyType string
		limit      int
		penalty    float64
		inactive   bool
	)
	add := &cobra.Command{
		Use:   "add EXERCISE_ID",
		Short: "Attach a submission policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			active := !inactive
			body := map[string]interface{}{
				"type":             policyType,
				"submission_limit": limit,
				"active":           active,
			}
			if cmd.Flags().Changed("penalty") {
				body["exceeding_penalty"] = penalty
			}
			return a.call(fiber.MethodPost, policyPath(id), body)
		},
	}
	add.Flags().StringVar(&policyType, "type", "lock_repository", "lock_repository or submission_penalty")
	add.Flags().IntVar(&limit, "limit", 0, "Submission limit")
	add.Flags().Float64Var(&penalty, "penalty", 0, "Points deducted per exceeding submission")
	add.Flags().BoolVar(&inactive, "inactive", false, "Create the policy without enabling it")
	_ = add.MarkFlagRequired("limit")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle EXERCISE_ID true|false",
		Short: "Enable or disable the submission policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			activate, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid activate flag %q", args[1])
			}
			query := url.Values{"activate": {strconv.FormatBool(activate)}}
			return a.call(fiber.MethodPut, policyPath(id)+"?"+query.Encode(), nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove EXERCISE_ID",
		Short: "Detach the submission policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "exercise id")
			if err != nil {
				return err
			}
			return a.call(fiber.MethodDelete, policyPath(id), nil)
		},
	})

	return cmd
}

func policyPath(exerciseID uint64) string {
	return fmt.Sprintf("/programming-exercises/%d/submission-policy", exerciseID)
}

func (a *cli) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count PARTICIPATION_ID",
		Short: "Show how many submissions count against the policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "participation id")
			if err != nil {
				return err
			}
			return a.call(fiber.MethodGet, fmt.Sprintf("/participations/%d/submission-count", id), nil)
		},
	}
}

func (a *cli) activityCmd() *cobra.Command {
	var (
		action      string
		entity      string
		correlation string
		since       time.Duration
		page        int
		pageSize    int
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("page", strconv.Itoa(page))
			query.Set("page_size", strconv.Itoa(pageSize))
			if action != "" {
				query.Set("action", action)
			}
			if entity != "" {
				query.Set("entity_type", entity)
			}
			if correlation != "" {
				query.Set("correlation_id", correlation)
			}
			if since > 0 {
				query.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
			}
			return a.call(fiber.MethodGet, "/admin/activity-logs?"+query.Encode(), nil)
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Filter by action, e.g. policy.changed")
	cmd.Flags().StringVar(&entity, "entity-type", "", "Filter by entity type")
	cmd.Flags().StringVar(&correlation, "correlation", "", "Only entries of one request, build (repo@commit) or scheduled task")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 25, "Entries per page")
	return cmd
}
