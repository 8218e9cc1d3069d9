package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/v1nybarreto/genai-agent/internal/agent"
	"github.com/v1nybarreto/genai-agent/internal/config"
	"github.com/v1nybarreto/genai-agent/internal/guard"
	"github.com/v1nybarreto/genai-agent/internal/utils"
)

// overrides are the flags that take precedence over the environment
type overrides struct {
	envFile        string
	logLevel       string
	backend        string
	projectID      string
	location       string
	dataset        string
	table          string
	dimensionTable string
	maxBytesBilled int64
	timeout        time.Duration
}

func (o *overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = strings.ToLower(o.backend)
	}
	if flags.Changed("project") {
		cfg.ProjectID = o.projectID
	}
	if flags.Changed("location") {
		cfg.Location = o.location
	}
	if flags.Changed("dataset") {
		cfg.Dataset = o.dataset
	}
	if flags.Changed("table") {
		cfg.Table = o.table
	}
	if flags.Changed("dimension-table") {
		cfg.DimensionTable = o.dimensionTable
	}
	if flags.Changed("max-bytes-billed") {
		cfg.MaxBytesBilled = o.maxBytesBilled
	}
	if flags.Changed("timeout") {
		cfg.QueryTimeout = o.timeout
	}
}

// setup resolves configuration and wires the pipeline, exiting on failure
func (o *overrides) setup(ctx context.Context, cmd *cobra.Command) (*app, *logrus.Logger) {
	logger := utils.SetupLogging(o.logLevel)
	cfg := config.Load(o.envFile, logger)
	if o.logLevel == "" && cfg.LogLevel != "" {
		logger = utils.SetupLogging(cfg.LogLevel)
	}
	o.apply(cmd, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Failed to start: %v", err)
		os.Exit(1)
	}
	return a, logger
}

func main() {
	var (
		opts     overrides
		showSQL  bool
		dump     bool
		estimate bool
		only     string
		jsonOut  string
		noSQL    bool
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "genai-agent",
		Short: "Answer questions about Rio's 1746 service requests with cost-bounded warehouse queries",
		Long: `GenAI Agent

Turns a question about the 1746 service-request dataset into a read-only,
cost-checked warehouse query and answers it in one sentence. Every query is
vetted by a safety guard and a dry-run estimate before it is executed.`,
		SilenceUsage: true,
	}

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, logger := opts.setup(ctx, cmd)
			defer a.close()

			resp := a.agent.Ask(ctx, strings.Join(args, " "))
			if showSQL && resp.Query != nil {
				color.New(color.Faint).Printf("-- %s\n%s\n", resp.Query.Shape, resp.Query.Text)
			}
			if est := resp.EstimatedBytes(); est != nil {
				logger.Infof("Dry run estimate: %s", humanize.Bytes(uint64(*est)))
			}
			if dump {
				spew.Fdump(os.Stderr, resp)
			}

			fmt.Println(resp.Answer)
			if resp.Err != nil {
				a.close()
				os.Exit(1)
			}
		},
	}
	askCmd.Flags().BoolVar(&showSQL, "show-sql", false, "Print the generated query before the answer")
	askCmd.Flags().BoolVar(&dump, "dump", false, "Dump the full response to stderr")

	sqlCmd := &cobra.Command{
		Use:   "sql [question]",
		Short: "Print the query the agent would run for a question, without executing it",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, logger := opts.setup(ctx, cmd)
			defer a.close()

			spec, err := a.generator.Generate(ctx, strings.Join(args, " "))
			if err != nil {
				logger.Errorf("Failed to synthesize query: %v", err)
				a.close()
				os.Exit(1)
			}
			fmt.Printf("-- shape: %s\n%s\n", spec.Shape, spec.Text)

			if verdict := guard.Check(spec.Text); !verdict.Allowed {
				color.Red("-- rejected: %s", verdict.Reason)
				a.close()
				os.Exit(1)
			}
			if estimate {
				est, err := a.gateway.Estimator.Estimate(ctx, spec.Text)
				if err != nil {
					color.Red("-- %v", err)
					a.close()
					os.Exit(1)
				}
				fmt.Printf("-- estimated scan: %s (%s bytes)\n", humanize.Bytes(uint64(est.BytesScanned)), humanize.Comma(est.BytesScanned))
			}
		},
	}
	sqlCmd.Flags().BoolVar(&estimate, "estimate", false, "Also dry-run the query and print the byte estimate")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the discovered columns of the fact table",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, logger := opts.setup(ctx, cmd)
			defer a.close()

			s, err := a.catalog.GetSchema(ctx, a.cfg.Dataset, a.cfg.Table)
			if err != nil {
				logger.Errorf("Failed to discover schema: %v", err)
				a.close()
				os.Exit(1)
			}
			utils.PrintSchema(os.Stdout, s)
		},
	}

	acceptanceCmd := &cobra.Command{
		Use:   "acceptance",
		Short: "Run the reference questions and print a summary of each",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, logger := opts.setup(ctx, cmd)
			defer a.close()

			fmt.Printf("\n== Acceptance | backend=%s project=%s ==\n", a.cfg.Backend, a.cfg.ProjectID)
			indexes := agent.SelectQuestions(only, len(agent.AcceptanceQuestions))
			rows := a.agent.RunAcceptance(ctx, agent.AcceptanceQuestions, indexes)
			failures := utils.PrintAcceptanceSummary(os.Stdout, rows, !noSQL)

			if jsonOut != "" {
				if err := writeJSON(jsonOut, rows); err != nil {
					logger.Errorf("Failed to write %s: %v", jsonOut, err)
					failures++
				} else {
					logger.Infof("Summary saved to %s", jsonOut)
				}
			}
			if ctx.Err() != nil {
				logger.Warning("Interrupted")
				a.close()
				os.Exit(130)
			}
			if failures > 0 {
				a.close()
				os.Exit(1)
			}
		},
	}
	acceptanceCmd.Flags().StringVar(&only, "only", "", "Comma-separated question numbers (1..6), e.g. '1,3,5'")
	acceptanceCmd.Flags().StringVar(&jsonOut, "json", "", "Write the summary as JSON to this path")
	acceptanceCmd.Flags().BoolVar(&noSQL, "no-sql", false, "Do not print generated queries")

	// Define flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	pf.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&opts.backend, "backend", "b", config.BackendBigQuery, "Warehouse backend (bigquery, mysql)")
	pf.StringVar(&opts.projectID, "project", "", "Billing project for BigQuery jobs (default: PROJECT_ID or genai-rio)")
	pf.StringVar(&opts.location, "location", "", "BigQuery location (default: BQ_LOCATION or US)")
	pf.StringVar(&opts.dataset, "dataset", "", "Dataset of the fact table")
	pf.StringVar(&opts.table, "table", "", "Fact table name")
	pf.StringVar(&opts.dimensionTable, "dimension-table", "", "Fully qualified region dimension table")
	pf.Int64Var(&opts.maxBytesBilled, "max-bytes-billed", config.DefaultMaxBytesBilled, "Byte ceiling per query; 0 disables it")
	pf.DurationVarP(&opts.timeout, "timeout", "t", config.DefaultQueryTimeout, "Timeout for each warehouse call")

	rootCmd.AddCommand(askCmd, sqlCmd, schemaCmd, acceptanceCmd)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func writeJSON(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
