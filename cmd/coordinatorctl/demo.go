package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/engine"
	"github.com/aksrustagi/coordinator/protocol/listing"
	"github.com/aksrustagi/coordinator/protocol/purchase"
	"github.com/aksrustagi/coordinator/protocol/resolution"
	"github.com/aksrustagi/coordinator/protocol/waiver"
	"github.com/aksrustagi/coordinator/workflow"
)

var demoTimeout time.Duration

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run one listing, purchase, waiver batch and market resolution against sample collaborators",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
		defer cancel()

		sess, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(context.Background()) }()
		if err := sess.engine.Start(ctx); err != nil {
			return err
		}
		sess.sandbox.seed()
		return runDemo(ctx, cmd.OutOrStdout(), sess.engine)
	},
}

func init() {
	demoCmd.Flags().DurationVar(&demoTimeout, "timeout", time.Minute, "overall deadline")
	rootCmd.AddCommand(demoCmd)
}

// seed lists alice's shares, funds bob, fills a league's waiver wire and
// opens positions on a market.
func (s *sandbox) seed() {
	s.market.AddAsset("asset_1", true, 500)
	s.market.Grant("asset_1", "alice", 100)
	s.market.PutListing(collab.Listing{
		ID: "lst_1", AssetID: "asset_1", SellerID: "alice", Shares: 10, PricePerShare: 500,
	})
	s.bank.Deposit("bob", 10000)

	s.league.AddFreeAgents("lg_1", "p_10", "p_11")
	s.league.SetRoster("lg_1", "team_a", "p_1")
	s.league.SetRoster("lg_1", "team_b", "p_2")
	s.league.SetPriorityOrder("lg_1", "team_b", "team_a")
	now := time.Now().UTC()
	s.league.SubmitClaims("wk_1",
		collab.Claim{ID: "c1", LeagueID: "lg_1", TeamID: "team_a", AddPlayerID: "p_10", SubmittedAt: now},
		collab.Claim{ID: "c2", LeagueID: "lg_1", TeamID: "team_b", AddPlayerID: "p_10", SubmittedAt: now},
		collab.Claim{ID: "c3", LeagueID: "lg_1", TeamID: "team_a", AddPlayerID: "p_11", SubmittedAt: now},
	)

	s.feed.Set("cpi", 3.2)
	s.book.AddPosition(collab.Position{ID: "pos_1", MarketID: "m_cpi", OwnerID: "alice", Side: true, Quantity: 3})
	s.book.AddPosition(collab.Position{ID: "pos_2", MarketID: "m_cpi", OwnerID: "bob", Side: false, Quantity: 2})
}

type demoStep struct {
	workflow string
	query    string
	start    func(context.Context, *engine.Engine) (*workflow.Run, error)
}

func runDemo(ctx context.Context, w io.Writer, eng *engine.Engine) error {
	steps := []demoStep{
		{listing.WorkflowName, listing.QueryStatus, func(ctx context.Context, eng *engine.Engine) (*workflow.Run, error) {
			return engine.ExecuteWorkflow(ctx, eng, listing.WorkflowName, listing.Input{
				AssetID: "asset_1", SellerID: "alice", Shares: 5, PricePerShare: 510,
			})
		}},
		{purchase.WorkflowName, purchase.QueryStatus, func(ctx context.Context, eng *engine.Engine) (*workflow.Run, error) {
			return engine.ExecuteWorkflow(ctx, eng, purchase.WorkflowName, purchase.Input{
				ListingID: "lst_1", BuyerID: "bob", Shares: 4,
			})
		}},
		{waiver.WorkflowName, waiver.QueryState, func(ctx context.Context, eng *engine.Engine) (*workflow.Run, error) {
			return engine.ExecuteWorkflow(ctx, eng, waiver.WorkflowName, waiver.Input{
				LeagueID: "lg_1", BatchID: "wk_1", Policy: waiver.PolicyRolling,
			})
		}},
		{resolution.WorkflowName, resolution.QueryStatus, func(ctx context.Context, eng *engine.Engine) (*workflow.Run, error) {
			return engine.ExecuteWorkflow(ctx, eng, resolution.WorkflowName, resolution.Input{
				MarketID: "m_cpi", FeedID: "cpi", Operator: resolution.OpGTE, Target: 3.0,
			})
		}},
	}

	for _, step := range steps {
		run, err := step.start(ctx, eng)
		if err != nil {
			return fmt.Errorf("%s: %w", step.workflow, err)
		}
		fmt.Fprintf(w, "== %s %s: %s", step.workflow, run.ID, run.State)
		if run.FailureReason != "" {
			fmt.Fprintf(w, " (%s)", run.FailureReason)
		}
		if run.Error != "" {
			fmt.Fprintf(w, " (%s)", run.Error)
		}
		fmt.Fprintln(w)

		snap, err := eng.Query(ctx, run.ID, step.query)
		if err != nil {
			return fmt.Errorf("query %s: %w", step.workflow, err)
		}
		if err := printRaw(w, snap); err != nil {
			return err
		}
	}

	open, err := eng.Unresolved(ctx, compensation.ListOpts{})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "unresolved compensations: %d\n", len(open))
	return nil
}
