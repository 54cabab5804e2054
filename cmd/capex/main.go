package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"capexline/internal/app"
	"capexline/internal/config"
	"capexline/internal/db"
	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "capex",
	Short: "Capexline CLI",
	Long: `Capexline tracks capital expenditure projects through an annual planning cycle.
Core concepts:
- Workspace: a directory holding capex.yml and the SQLite database.
- Project: a budget line identified by its code, grouped under a macro-project key.
- Planning track: Identification -> Classification -> Support -> Validation -> PressureTest -> Consolidation. Each step has a guard; a refused step tells you why and what is missing.
- Classification: the strategic category of a macro key, which decides the evidence projects need in Support.
- Follow-up track: Plan -> Validation -> Release -> Tracking -> Adjustments, gated by a balanced monthly plan.
- Business cases: proposals that climb Draft -> TechnicalReview -> FinancialEvaluation -> SteeringCommittee -> Approved.
- Event log: every change is recorded; view it with 'capex log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CAPEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("cycle", "", "planning cycle id (overrides capex.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("cycle", rootCmd.PersistentFlags().Lookup("cycle"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(advanceCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(followUpCmd())
	rootCmd.AddCommand(totalsCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(paramsCmd())
	rootCmd.AddCommand(insightCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Production() {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	if raw := viper.GetString("log-level"); raw != "" {
		lvl, err := zap.ParseAtomicLevel(raw)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, *app.Context) error) error {
	workspace := viper.GetString("workspace")
	conn, cfg, err := app.Resolve(ctx, workspace, viper.GetString("cycle"))
	if err != nil {
		return err
	}
	defer conn.Close()
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	e, err := engine.New(conn, cfg, logger)
	if err != nil {
		return err
	}
	if err := e.Load(ctx); err != nil {
		return err
	}
	appCtx, err := app.Load(ctx, e.Repo, cfg, workspace)
	if err != nil {
		return err
	}
	return fn(ctx, e, appCtx)
}

// actor returns the signed-in user after checking perm against their role.
func actor(e *engine.Engine, appCtx *app.Context, perm string) (string, error) {
	s, err := appCtx.ActiveSession(e.Now())
	if err != nil {
		return "", err
	}
	p := auth.Principal{
		UserID:      s.UserID,
		Email:       s.Email,
		Role:        domain.Role(s.Role),
		Permissions: e.Config.Permissions(s.Role),
	}
	if err := p.Require(perm); err != nil {
		return "", err
	}
	return s.UserID, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}
