package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/repo"
	"battlelog/internal/timeline"
)

func logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show the session timeline",
		Long:  "Active events in order; consecutive reverts are folded into one line listing what they undid.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				entries, err := e.Timeline(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Event", "Kind", "Description", "Actor", "At"})
				for _, en := range entries {
					if en.Type == timeline.EntryEvent {
						ev := en.Event
						tw.AppendRow(table.Row{ev.Seq, ev.ID, ev.Kind, ev.Description, ev.ActorID, ev.CreatedAt})
						continue
					}
					tw.AppendRow(table.Row{en.Seq, "", "revert", revertGroupText(en), revertActors(en), en.Reverts[0].Action.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func revertGroupText(en timeline.Entry) string {
	var parts []string
	for _, r := range en.Reverts {
		for _, ev := range r.Events {
			parts = append(parts, fmt.Sprintf("#%d %s", ev.ID, ev.Description))
		}
	}
	return fmt.Sprintf("reverted %d: %s", en.RevertedCount(), strings.Join(parts, "; "))
}

func revertActors(en timeline.Entry) string {
	seen := map[string]bool{}
	var out []string
	for _, r := range en.Reverts {
		if !seen[r.Action.ActorID] {
			seen[r.Action.ActorID] = true
			out = append(out, r.Action.ActorID)
		}
	}
	return strings.Join(out, ",")
}

func eventsCmd() *cobra.Command {
	var f repo.EventFilter
	var kind, since, until string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events with filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Kind = domain.EventKind(kind)
			if f.Kind != "" && !f.Kind.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			var err error
			if f.Since, err = parseTimestamp("since", since); err != nil {
				return err
			}
			if f.Until, err = parseTimestamp("until", until); err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				items, err := e.ListEvents(ctx, s.ID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Event", "Kind", "Description", "Reverted", "Cascade"})
				for _, v := range items {
					reverted := ""
					if v.Reverted {
						reverted = "yes"
					}
					tw.AppendRow(table.Row{v.Seq, v.ID, v.Kind, v.Description, reverted, v.CascadeCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&since, "since", "", "earliest timestamp (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "latest timestamp (RFC3339)")
	cmd.Flags().Int64Var(&f.SinceSeq, "since-seq", 0, "first seq")
	cmd.Flags().Int64Var(&f.UntilSeq, "until-seq", 0, "last seq")
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "description substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max events")
	cmd.Flags().BoolVar(&f.IncludeReverted, "all", false, "include reverted events")
	return cmd
}

func parseTimestamp(flag, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return t, nil
}

func revertCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "revert <event-id>",
		Short: "Revert an event",
		Long:  "Reverting an event that later events build on requires --cascade; without it the later events are listed and nothing changes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				res, err := e.Revert(ctx, engine.RevertOptions{SessionID: s.ID, EventID: id, Cascade: cascade, ActorID: actorID()})
				var cre *domain.CascadeRequiredError
				if errors.As(err, &cre) && !viper.GetBool("json") {
					fmt.Printf("Event %d has %d later active event(s):\n", cre.TargetID, cre.Count())
					for _, it := range cre.Events {
						fmt.Printf("  #%d (seq %d) %s\n", it.EventID, it.Seq, it.Description)
					}
					fmt.Println("Re-run with --cascade to revert them all.")
					return err
				}
				if err != nil {
					return err
				}
				return printRevert(res)
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also revert every later active event")
	return cmd
}

func revertLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert-last",
		Short: "Revert the most recent active event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				res, err := e.RevertLast(ctx, s.ID, actorID())
				if err != nil {
					return err
				}
				return printRevert(res)
			})
		},
	}
}

func printRevert(res engine.RevertResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("Revert %s undid %d event(s):\n", res.Action.ID, len(res.Reverted))
	for _, ev := range res.Reverted {
		fmt.Printf("  #%d (seq %d) %s\n", ev.ID, ev.Seq, ev.Description)
	}
	sum := res.Summary
	fmt.Printf("now round %d %s, %s to act | CP %d/%d | VP %d/%d\n",
		sum.Round, sum.Phase, sum.TurnHolder,
		sum.CommandPoints[domain.RolePlayer], sum.CommandPoints[domain.RoleOpponent],
		sum.VictoryPoints[domain.RolePlayer], sum.VictoryPoints[domain.RoleOpponent])
	return nil
}

func revertsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reverts",
		Short: "List revert actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				items, err := e.ListRevertActions(ctx, s.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Action", "Target", "Cascade", "Events", "Actor", "At"})
				for _, a := range items {
					ids := make([]string, 0, len(a.EventIDs))
					for _, id := range a.EventIDs {
						ids = append(ids, strconv.FormatInt(id, 10))
					}
					tw.AppendRow(table.Row{a.Seq, a.ID, a.TargetEventID, a.Cascade, strings.Join(ids, ","), a.ActorID, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max actions")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay active events and compare with the stored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				report, err := e.Verify(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(report); err != nil {
						return err
					}
				} else if report.Consistent {
					fmt.Printf("Session %s is consistent (%d active events)\n", report.SessionID, report.ActiveEvents)
				}
				if !report.Consistent {
					return fmt.Errorf("session %s drifted from replay: %s", report.SessionID, strings.Join(report.Mismatches, ", "))
				}
				return nil
			})
		},
	}
}
