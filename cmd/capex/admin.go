package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"capexline/internal/app"
	"capexline/internal/config"
	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
	"capexline/internal/insight"
	"capexline/internal/money"
	"capexline/internal/repo"
	"capexline/internal/server"
)

const (
	permUsersManage    = "users.manage"
	permParametersEdit = "parameters.edit"
	permInsightRun     = "insight.run"
	permEventsRead     = "events.read"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration (capex.yml)",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var cycle string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default capex.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(cycle)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&cycle, "cycle-id", "FY"+time.Now().Format("06"), "planning cycle id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				return printJSON(e.Config)
			})
		},
	}
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = viper.GetString("password")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				authn := auth.NewService(e.Repo, e.Config)
				p, err := e.Login(ctx, appCtx, authn, email, password)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(appCtx.Session)
				}
				fmt.Printf("Signed in as %s (%s) until %s\n", p.Email, p.Role, appCtx.Session.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "password (or CAPEX_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				return e.Logout(ctx, appCtx)
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userUpdateCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var in engine.UserInput
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Long:  "The first user of a workspace can be created without signing in and must be an ADMIN.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Role = domain.Role(role)
			if in.Password == "" {
				in.Password = viper.GetString("password")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				existing, err := e.ListUsers(ctx)
				if err != nil {
					return err
				}
				actorID := "bootstrap"
				if len(existing) > 0 {
					if actorID, err = actor(e, appCtx, permUsersManage); err != nil {
						return err
					}
				} else if in.Role != domain.RoleAdmin {
					return fmt.Errorf("the first user must be an %s", domain.RoleAdmin)
				}
				u, err := e.CreateUser(ctx, in, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (or CAPEX_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", "RESP", "role (ADMIN, DIR, RESP, AUDIT)")
	cmd.Flags().StringVar(&in.Area, "area", "", "area")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				if _, err := actor(e, appCtx, permUsersManage); err != nil {
					return err
				}
				users, err := e.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Name", "Email", "Role", "Area", "Status")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.Area, u.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userUpdateCmd() *cobra.Command {
	var name, password, role, area, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.UserPatch{
				Name:     optionalString(cmd, "name", name),
				Password: optionalString(cmd, "password", password),
				Area:     optionalString(cmd, "area", area),
			}
			if cmd.Flags().Changed("role") {
				r := domain.Role(role)
				patch.Role = &r
			}
			if cmd.Flags().Changed("status") {
				s := domain.UserStatus(status)
				patch.Status = &s
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permUsersManage)
				if err != nil {
					return err
				}
				u, err := e.UpdateUser(ctx, args[0], patch, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.Flags().StringVar(&area, "area", "", "area")
	cmd.Flags().StringVar(&status, "status", "", "ACTIVE or INACTIVE")
	return cmd
}

func paramsCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "params",
		Short: "Theme, exchange rate and VAT",
	}
	p.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				out := map[string]string{
					"theme":              appCtx.Theme,
					"exchange_rate":      appCtx.ExchangeRate.String(),
					"vat_rate":           appCtx.VATRate.String(),
					"local_currency":     e.Config.Currency.Local,
					"reference_currency": e.Config.Currency.Reference,
					"database":           appCtx.Database.Path,
				}
				return printJSONOrTable(out)
			})
		},
	})
	p.AddCommand(paramsSetCmd())
	return p
}

func paramsSetCmd() *cobra.Command {
	var theme, rate, vat string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change parameters; a new exchange rate recomputes every reference amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.ParameterPatch
			if cmd.Flags().Changed("theme") {
				t, err := app.ParseTheme(theme)
				if err != nil {
					return err
				}
				patch.Theme = &t
			}
			if cmd.Flags().Changed("exchange-rate") {
				r, err := money.ParseRate(rate)
				if err != nil {
					return err
				}
				patch.ExchangeRate = &r
			}
			if cmd.Flags().Changed("vat") {
				v, err := money.Parse(vat)
				if err != nil {
					return fmt.Errorf("--vat: %w", err)
				}
				patch.VATRate = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permParametersEdit)
				if err != nil {
					return err
				}
				if err := e.UpdateParameters(ctx, appCtx, patch, actorID); err != nil {
					return err
				}
				fmt.Printf("theme=%s exchange_rate=%s vat_rate=%s\n", appCtx.Theme, appCtx.ExchangeRate, appCtx.VATRate)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&theme, "theme", "", "light or dark")
	cmd.Flags().StringVar(&rate, "exchange-rate", "", "local units per reference unit")
	cmd.Flags().StringVar(&vat, "vat", "", "VAT percentage")
	return cmd
}

func newAuditor(ctx context.Context, cfg *config.Config, logger *zap.Logger) insight.Auditor {
	svc := insight.Service{Timeout: cfg.InsightTimeout(), Logger: logger}
	key := viper.GetString("genai_api_key")
	if key == "" {
		return svc
	}
	gen, err := insight.NewGeminiGenerator(ctx, key, cfg.Insight.Model)
	if err != nil {
		logger.Warn("insight generator unavailable", zap.Error(err))
		return svc
	}
	svc.Gen = gen
	return svc
}

type auditFile struct {
	Budget   domain.Budget    `json:"budget"`
	Expenses []domain.Expense `json:"expenses"`
}

func insightCmd() *cobra.Command {
	in := &cobra.Command{
		Use:   "insight",
		Short: "AI budget audit",
	}
	var file string
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Ask the AI auditor for up to five insights (needs CAPEX_GENAI_API_KEY)",
		Long:  "Without --file the snapshot is built from the portfolio: total income is the sum of local amounts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				if _, err := actor(e, appCtx, permInsightRun); err != nil {
					return err
				}
				var snap auditFile
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					if err := json.Unmarshal(data, &snap); err != nil {
						return fmt.Errorf("parse %s: %w", file, err)
					}
				} else {
					snap = portfolioSnapshot(e)
				}
				insights := newAuditor(ctx, e.Config, e.Logger).Audit(ctx, snap.Budget, snap.Expenses)
				if viper.GetBool("json") {
					return printJSON(insights)
				}
				tw := newTable("Type", "Title", "Message")
				for _, i := range insights {
					tw.AppendRow(table.Row{i.Kind, i.Title, i.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	audit.Flags().StringVar(&file, "file", "", "JSON file with budget and expenses")
	in.AddCommand(audit)
	return in
}

func portfolioSnapshot(e *engine.Engine) auditFile {
	snap := auditFile{Budget: domain.Budget{Currency: e.Config.Currency.Local}}
	total := decimal.Zero
	for _, p := range e.ListProjects(engine.ProjectFilter{}) {
		total = total.Add(p.LocalAmount)
		snap.Expenses = append(snap.Expenses, domain.Expense{
			Date:        p.CreatedAt,
			Category:    string(p.Type),
			Amount:      p.LocalAmount,
			Description: p.Code + " " + p.Name,
		})
	}
	snap.Budget.TotalIncome = total
	return snap
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				if _, err := actor(e, appCtx, permEventsRead); err != nil {
					return err
				}
				f.CycleID = e.Config.Cycle.ID
				events, err := e.Repo.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("CAPEX_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				authn := auth.NewService(e.Repo, e.Config)
				handler, err := server.New(server.Config{
					Engine:   e,
					App:      appCtx,
					Auditor:  newAuditor(ctx, e.Config, e.Logger),
					BasePath: basePath,
					Logger:   e.Logger,
					Auth: server.AuthConfig{
						JWTSecret:     secret,
						Authenticator: authn,
						TokenTTL:      e.Config.TokenTTL(),
					},
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, e, e.Logger)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				e.Logger.Info("serving API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("cycle", e.Config.Cycle.ID))
				fmt.Printf("Serving Capexline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
