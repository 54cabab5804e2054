package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"capexline/internal/app"
	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/distribution"
	"capexline/internal/engine/validation"
	"capexline/internal/money"
	"capexline/internal/registry"
)

const (
	permPlanningEdit    = "planning.edit"
	permPlanningApprove = "planning.approve"
)

type projectFlags struct {
	name, macro, typ, amount, director, manager, metric, justification, investment, npv string
	target                                                                              int64
}

func (f *projectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "project name")
	cmd.Flags().StringVar(&f.macro, "macro", "", "macro-project key")
	cmd.Flags().StringVar(&f.typ, "type", "", "project type (Expansion, Modernization, Transformation, Compliance, Continuity)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in local currency")
	cmd.Flags().StringVar(&f.director, "director", "", "accountable director")
	cmd.Flags().StringVar(&f.manager, "manager", "", "project manager")
	cmd.Flags().StringVar(&f.metric, "metric", "", "physical-target metric")
	cmd.Flags().Int64Var(&f.target, "target", 0, "physical-target quantity")
	cmd.Flags().StringVar(&f.justification, "justification", "", "justification")
	cmd.Flags().StringVar(&f.investment, "investment", "", "investment used by validation")
	cmd.Flags().StringVar(&f.npv, "npv", "", "net present value used by validation")
}

func parseOptional(raw string, parse func(string) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return parse(raw)
}

func (f *projectFlags) record(code string) (domain.ProjectRecord, error) {
	rec := domain.ProjectRecord{
		Code:           code,
		Name:           f.name,
		MacroKey:       f.macro,
		Type:           domain.ProjectType(f.typ),
		Director:       f.director,
		Manager:        f.manager,
		Metric:         f.metric,
		TargetQuantity: f.target,
		Justification:  f.justification,
	}
	var err error
	if rec.LocalAmount, err = parseOptional(f.amount, money.Parse); err != nil {
		return rec, fmt.Errorf("--amount: %w", err)
	}
	if rec.Investment, err = parseOptional(f.investment, money.Parse); err != nil {
		return rec, fmt.Errorf("--investment: %w", err)
	}
	if rec.NPV, err = parseOptional(f.npv, money.ParseSigned); err != nil {
		return rec, fmt.Errorf("--npv: %w", err)
	}
	return rec, nil
}

func (f *projectFlags) patch(cmd *cobra.Command) (registry.Patch, error) {
	p := registry.Patch{
		Name:          optionalString(cmd, "name", f.name),
		MacroKey:      optionalString(cmd, "macro", f.macro),
		Director:      optionalString(cmd, "director", f.director),
		Manager:       optionalString(cmd, "manager", f.manager),
		Metric:        optionalString(cmd, "metric", f.metric),
		Justification: optionalString(cmd, "justification", f.justification),
	}
	if cmd.Flags().Changed("type") {
		t := domain.ProjectType(f.typ)
		p.Type = &t
	}
	if cmd.Flags().Changed("target") {
		p.TargetQuantity = &f.target
	}
	for _, d := range []struct {
		flag  string
		raw   string
		dst   **decimal.Decimal
		parse func(string) (decimal.Decimal, error)
	}{
		{"amount", f.amount, &p.LocalAmount, money.Parse},
		{"investment", f.investment, &p.Investment, money.Parse},
		{"npv", f.npv, &p.NPV, money.ParseSigned},
	} {
		if !cmd.Flags().Changed(d.flag) {
			continue
		}
		v, err := d.parse(d.raw)
		if err != nil {
			return p, fmt.Errorf("--%s: %w", d.flag, err)
		}
		*d.dst = &v
	}
	return p, nil
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage the project registry",
	}
	prj.AddCommand(projectAddCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectRemoveCmd())
	return prj
}

func projectAddCmd() *cobra.Command {
	var f projectFlags
	cmd := &cobra.Command{
		Use:   "add <code>",
		Short: "Register a project in Identification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := f.record(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				out, err := e.AddProject(ctx, rec, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func projectListCmd() *cobra.Command {
	var typ, macro, method, severity, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				items := e.ListProjects(engine.ProjectFilter{
					Type:        domain.ProjectType(typ),
					MacroKey:    macro,
					Methodology: method,
					Severity:    domain.Severity(severity),
					Search:      search,
				})
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Code", "Name", "Macro", "Type", "Local", "Reference", "Stage", "Follow-up", "Category", "Methodology", "Severity")
				for _, p := range items {
					tw.AppendRow(table.Row{p.Code, p.Name, p.MacroKey, p.Type, money.Format(p.LocalAmount), p.ReferenceAmount.StringFixed(2), p.Stage, p.FollowUp, p.Category, p.Methodology, p.Severity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "project type filter")
	cmd.Flags().StringVar(&macro, "macro", "", "macro key filter")
	cmd.Flags().StringVar(&method, "methodology", "", "review methodology or evidence type filter, e.g. RiskMatrix")
	cmd.Flags().StringVar(&severity, "severity", "", "latest evaluation severity filter")
	cmd.Flags().StringVar(&search, "q", "", "search code or name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show a project with evidence, decisions and plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				d, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var f projectFlags
	cmd := &cobra.Command{
		Use:   "update <code>",
		Short: "Update project fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := f.patch(cmd)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				out, err := e.UpdateProject(ctx, args[0], patch, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func projectRemoveCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "remove <code>",
		Short: "Remove a project (irreversible)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				if err := e.RemoveProject(ctx, args[0], confirm, actorID); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm removal")
	return cmd
}

func classifyCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "classify <macro-key> <category>",
		Short: "Classify a macro-project key",
		Long:  "Categories: Obligatory, Maintenance, EBITDA-Protection, EBITDA-Growth, Adjacent-Business. The category decides the evidence projects under the key need in Support.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := domain.Parse("category", args[1], domain.Category.Valid)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				c, err := e.Classify(ctx, args[0], category, owner, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "accountable owner")
	return cmd
}

func evidenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evidence <code> <type> <reference>",
		Short: "Attach supporting evidence (RegulatoryEvidence, RiskMatrix, BusinessCase)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := domain.Parse("evidence type", args[1], domain.EvidenceType.Valid)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				ev, err := e.AttachEvidence(ctx, args[0], typ, args[2], actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
}

func advanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <code>",
		Short: "Move a project to the next planning stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				rec, err := e.Advance(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("%s is now in %s\n", rec.Code, rec.Stage)
				return nil
			})
		},
	}
}

func printEvaluation(code string, r validation.Result) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	fmt.Printf("%s: ratio %s, severity %s\n", code, r.RatioDisplay(), r.Severity)
	tw := newTable("Rule", "Passed", "Informational")
	for _, rule := range r.Rules {
		tw.AppendRow(table.Row{rule.Name, rule.Passed, rule.Informational})
	}
	tw.Render()
	return nil
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <code>",
		Short: "Run the validation rules against a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				r, err := e.Evaluate(ctx, args[0])
				if err != nil {
					return err
				}
				return printEvaluation(args[0], r)
			})
		},
	}
}

// decideCmd evaluates again so the verdict is taken against the current model inputs.
func decideCmd() *cobra.Command {
	var (
		comments string
		modify   []string
	)
	cmd := &cobra.Command{
		Use:   "decide <code> <Approve|Modify|Reject>",
		Short: "Evaluate a project and record the director's verdict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict, err := domain.Parse("verdict", args[1], domain.Verdict.Valid)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningApprove)
				if err != nil {
					return err
				}
				r, err := e.Evaluate(ctx, args[0])
				if err != nil {
					return err
				}
				opts := make([]domain.ModifyOption, 0, len(modify))
				for _, raw := range modify {
					o, err := domain.Parse("modify option", raw, domain.ModifyOption.Valid)
					if err != nil {
						return err
					}
					opts = append(opts, o)
				}
				d, err := e.RecordDecision(ctx, args[0], verdict, comments, actorID, opts...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"evaluation": r, "decision": d})
				}
				if err := printEvaluation(args[0], r); err != nil {
					return err
				}
				fmt.Printf("Recorded %s\n", d.Verdict)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "decision comments")
	cmd.Flags().StringSliceVar(&modify, "modify", nil, "with Modify: reduce_scope, reduce_budget, reduce_units")
	return cmd
}

func reviewCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "review <code> <item>",
		Short: "Attest a PressureTest checklist item",
		Long:  "Items: support_files, value_at_risk, methodology, npv_assumptions, contracts. The items listed in planning.pressure_test_checklist must all be attested before Consolidation.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := domain.Parse("checklist item", args[1], domain.ReviewItem.Valid)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningApprove)
				if err != nil {
					return err
				}
				rv, err := e.AttestReview(ctx, args[0], item, note, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rv)
				}
				fmt.Printf("%s: %s attested\n", rv.ProjectCode, rv.Item)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reviewer note")
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Monthly distribution of a consolidated project",
	}
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planSetCmd())
	return plan
}

func printPlan(code string, plan domain.MonthlyPlan, st distribution.Status) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"code": code, "months": plan, "status": st})
	}
	tw := newTable("Month", "Amount")
	for i, m := range domain.Months {
		tw.AppendRow(table.Row{m, money.Format(plan[i])})
	}
	tw.AppendFooter(table.Row{"Total", money.Format(plan.Sum())})
	tw.Render()
	fmt.Printf("%s: %s (approved %s, delta %s)\n", code, st.State, money.Format(st.Approved), money.Format(st.Delta))
	return nil
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show the monthly plan and its balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				plan, st, err := e.GetPlan(ctx, args[0])
				if err != nil {
					return err
				}
				return printPlan(args[0], plan, st)
			})
		},
	}
}

func planSetCmd() *cobra.Command {
	var months string
	var even, approved bool
	cmd := &cobra.Command{
		Use:   "set <code>",
		Short: "Set the twelve monthly amounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				perm := permPlanningEdit
				if approved {
					perm = permPlanningApprove
				}
				actorID, err := actor(e, appCtx, perm)
				if err != nil {
					return err
				}
				var plan domain.MonthlyPlan
				if even {
					d, err := e.GetProject(ctx, args[0])
					if err != nil {
						return err
					}
					plan = distribution.Even(d.LocalAmount)
				} else {
					parts := strings.Split(months, ",")
					if len(parts) != len(plan) {
						return fmt.Errorf("--months needs 12 comma-separated amounts, got %d", len(parts))
					}
					for i, raw := range parts {
						v, err := money.Parse(strings.TrimSpace(raw))
						if err != nil {
							return fmt.Errorf("%s: %w", domain.Months[i], err)
						}
						plan[i] = v
					}
				}
				st, err := e.SetMonthlyPlan(ctx, args[0], plan, approved, actorID)
				if err != nil {
					return err
				}
				return printPlan(args[0], plan, st)
			})
		},
	}
	cmd.Flags().StringVar(&months, "months", "", "twelve comma-separated amounts, JAN to DEC")
	cmd.Flags().BoolVar(&even, "even", false, "spread the approved amount evenly")
	cmd.Flags().BoolVar(&approved, "director-approved", false, "accept deviations over the adjustment threshold")
	cmd.MarkFlagsMutuallyExclusive("months", "even")
	cmd.MarkFlagsOneRequired("months", "even")
	return cmd
}

func followUpCmd() *cobra.Command {
	fu := &cobra.Command{
		Use:   "followup",
		Short: "Follow-up track of consolidated projects",
	}
	fu.AddCommand(&cobra.Command{
		Use:   "advance <code>",
		Short: "Move a project to the next follow-up stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permPlanningEdit)
				if err != nil {
					return err
				}
				rec, err := e.AdvanceFollowUp(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("%s follow-up is now %s\n", rec.Code, rec.FollowUp)
				return nil
			})
		},
	})
	return fu
}

func totalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Local-currency totals per macro key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				totals := e.Totals()
				if viper.GetBool("json") {
					return printJSON(totals)
				}
				tw := newTable("Macro", "Projects", "Local", "Reference")
				grand := decimal.Zero
				for _, t := range totals {
					ref, err := money.ToReference(t.Local, appCtx.ExchangeRate)
					if err != nil {
						return err
					}
					grand = grand.Add(t.Local)
					tw.AppendRow(table.Row{t.MacroKey, t.Count, money.Format(t.Local), ref.StringFixed(2)})
				}
				tw.AppendFooter(table.Row{"Total", "", money.Format(grand), ""})
				tw.Render()
				return nil
			})
		},
	}
}
