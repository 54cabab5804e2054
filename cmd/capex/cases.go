package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"capexline/internal/app"
	"capexline/internal/domain"
	"capexline/internal/engine"
)

const (
	permCasesEdit    = "cases.edit"
	permCasesApprove = "cases.approve"
)

type caseFlags struct {
	c domain.BusinessCase
	impact, decision, probability string
}

func (f *caseFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.c.Name, "name", "", "case name")
	fs.StringVar(&f.c.Description, "description", "", "description")
	fs.StringVar(&f.c.Quarter, "quarter", "", "quarter, e.g. 2025-Q1")
	fs.StringVar(&f.c.Category, "category", "", "category")
	fs.StringVar(&f.impact, "impact", "", "impact (High, Medium, Low)")
	fs.StringVar(&f.decision, "decision", "", "technical decision (Act, Monitor, Discard)")
	fs.StringVar(&f.c.Leader, "leader", "", "accountable leader")
	fs.StringVar(&f.c.Categorization, "categorization", "", "categorization")
	fs.StringVar(&f.probability, "probability", "", "probability (High, Medium, Low)")
	fs.StringVar(&f.c.ContextTrigger, "context", "", "context or trigger")
	fs.StringVar(&f.c.Recommendation.Roadmap, "roadmap", "", "roadmap")
	fs.StringVar(&f.c.Recommendation.CriticalConsiderations, "critical-considerations", "", "critical considerations")
	fs.StringVar(&f.c.Recommendation.KPIs, "kpis", "", "KPIs")
	fs.StringVar(&f.c.Recommendation.Vendors, "vendors", "", "vendors")
	fs.StringVar(&f.c.Recommendation.TechnicalDetails, "technical-details", "", "technical details")
	fs.StringVar(&f.c.Impacts.Quantifiable, "quantifiable-impact", "", "quantifiable impact")
	fs.StringVar(&f.c.Impacts.Strategic, "strategic-impact", "", "strategic impact")
	fs.StringVar(&f.c.Support.Internal, "internal-support", "", "internal support")
	fs.StringVar(&f.c.Support.External, "external-support", "", "external support")
}

func (f *caseFlags) businessCase() domain.BusinessCase {
	c := f.c
	c.Impact = domain.Level(f.impact)
	c.Decision = domain.TechDecision(f.decision)
	c.Probability = domain.Level(f.probability)
	return c
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage business cases",
		Long:  "Business cases climb Draft -> TechnicalReview -> FinancialEvaluation -> SteeringCommittee -> Approved. Only complete cases leave Draft; a rejected case can be resubmitted.",
	}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseUpdateCmd())
	c.AddCommand(caseTransitionCmd("promote", "Advance a case one rung", permCasesApprove,
		func(ctx context.Context, e *engine.Engine, id, actorID string) (domain.BusinessCase, error) {
			return e.PromoteCase(ctx, id, actorID)
		}))
	c.AddCommand(caseRejectCmd())
	c.AddCommand(caseTransitionCmd("resubmit", "Re-open a rejected case in Draft", permCasesEdit,
		func(ctx context.Context, e *engine.Engine, id, actorID string) (domain.BusinessCase, error) {
			return e.ResubmitCase(ctx, id, actorID)
		}))
	c.AddCommand(caseDeleteCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var f caseFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case in Draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permCasesEdit)
				if err != nil {
					return err
				}
				out, err := e.CreateCase(ctx, f.businessCase(), actorID)
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

func caseListCmd() *cobra.Command {
	var quarter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				items, err := e.ListCases(ctx, quarter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Quarter", "Leader", "Stage")
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Quarter, c.Leader, c.Stage})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&quarter, "quarter", "", "quarter filter")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ *app.Context) error {
				c, err := e.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseUpdateCmd() *cobra.Command {
	var f caseFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the content of a case",
		Long:  "The flags replace the whole content: fields left out are cleared.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permCasesEdit)
				if err != nil {
					return err
				}
				out, err := e.UpdateCase(ctx, args[0], f.businessCase(), actorID)
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

func caseTransitionCmd(use, short, perm string, fn func(context.Context, *engine.Engine, string, string) (domain.BusinessCase, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, perm)
				if err != nil {
					return err
				}
				c, err := fn(ctx, e, args[0], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s is now %s\n", c.ID, c.Stage)
				return nil
			})
		},
	}
}

func caseRejectCmd() *cobra.Command {
	var reason string
	cmd := caseTransitionCmd("reject", "Reject a case", permCasesApprove,
		func(ctx context.Context, e *engine.Engine, id, actorID string) (domain.BusinessCase, error) {
			return e.RejectCase(ctx, id, reason, actorID)
		})
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a case (irreversible)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, appCtx *app.Context) error {
				actorID, err := actor(e, appCtx, permCasesEdit)
				if err != nil {
					return err
				}
				if err := e.DeleteCase(ctx, args[0], confirm, actorID); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")
	return cmd
}
