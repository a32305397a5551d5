package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"battlelog/internal/config"
	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/repo"
)

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Manage game sessions",
		Long:  "A session is one game. Starting one snapshots the workspace rules and roster; ending it keeps the record for replay, deleting it removes everything.",
	}
	s.AddCommand(sessionStartCmd())
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionEndCmd())
	s.AddCommand(sessionDeleteCmd())
	return s
}

func sessionStartCmd() *cobra.Command {
	var opts engine.StartSessionOptions
	var rosterPath, firstTurn string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			opts.FirstTurn = domain.Role(firstTurn)
			if rosterPath != "" {
				units, err := loadRoster(rosterPath)
				if err != nil {
					return err
				}
				opts.Units = units
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartSession(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Started session %s (%d units, %s goes first)\n", s.ID, len(s.State.Units), s.State.TurnHolder)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "session id (random if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&firstTurn, "first-turn", string(domain.RolePlayer), "role taking the first turn (player, opponent)")
	cmd.Flags().StringVar(&rosterPath, "roster", "", "YAML file with the unit list (defaults to the workspace roster)")
	return cmd
}

// loadRoster reads a YAML list of units, or a document with a roster key.
func loadRoster(path string) ([]domain.UnitSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var units []domain.UnitSpec
	if err := yaml.Unmarshal(data, &units); err != nil {
		var doc struct {
			Roster []domain.UnitSpec `yaml:"roster"`
		}
		if derr := yaml.Unmarshal(data, &doc); derr != nil {
			return nil, fmt.Errorf("parse roster %s: %w", path, err)
		}
		units = doc.Roster
	}
	if err := config.ValidateRoster(units); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return units, nil
}

func sessionListCmd() *cobra.Command {
	var f repo.SessionFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSessions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Round", "Phase", "Turn", "Started"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Status, s.State.Round, s.State.Phase, s.State.TurnHolder, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, ended)")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "max sessions")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current state of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printState(s)
				return nil
			})
		},
	}
}

func printState(s domain.Session) {
	st := s.State
	fmt.Printf("Session %s [%s]  round %d  phase %s  turn %s\n", s.ID, s.Status, st.Round, st.Phase, st.TurnHolder)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Role", "CP", "VP"})
	for _, r := range domain.Roles {
		tw.AppendRow(table.Row{r, st.CommandPoints[r], st.VictoryPoints[r]})
	}
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Objective", "Controller"})
	for _, id := range st.SortedObjectiveIDs() {
		ctrl := string(st.Objectives[id].Controller)
		if ctrl == "" {
			ctrl = "-"
		}
		tw.AppendRow(table.Row{id, ctrl})
	}
	tw.Render()

	if len(st.Units) == 0 {
		return
	}
	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Unit", "Role", "Models", "Health", "Status"})
	for _, u := range st.Units {
		health := make([]string, 0, len(u.Models))
		for _, m := range u.Models {
			health = append(health, fmt.Sprintf("%d/%d", m.Health, m.MaxHealth))
		}
		status := strings.Join(u.Status, ",")
		if u.Destroyed {
			status = "destroyed"
		}
		tw.AppendRow(table.Row{u.ID, u.Role, u.ModelCount, strings.Join(health, " "), status})
	}
	tw.Render()
}

func sessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End a session; its history stays available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				ended, err := e.EndSession(ctx, s.ID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(ended)
			})
		},
	}
}

func sessionDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a session and all of its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := viper.GetString("session")
			if id == "" {
				return fmt.Errorf("--session is required for delete")
			}
			if !yes {
				return fmt.Errorf("deleting %s removes its whole history; confirm with --yes", id)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSession(ctx, id, actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted session %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func applyCmd() *cobra.Command {
	var description string
	kinds := make([]string, 0, len(domain.EventKinds))
	for _, k := range domain.EventKinds {
		kinds = append(kinds, string(k))
	}
	cmd := &cobra.Command{
		Use:   "apply <kind> <payload-json>",
		Short: "Apply a mutation to the session",
		Long:  "Kinds: " + strings.Join(kinds, ", ") + `.
Example: bl apply resource_delta '{"role":"player","delta":-1,"reason":"stratagem"}'`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				res, err := e.ApplyMutation(ctx, engine.MutationOptions{
					SessionID:   s.ID,
					Kind:        domain.EventKind(args[0]),
					Payload:     json.RawMessage(args[1]),
					Description: description,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printMutation(res)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "description (generated from the payload if omitted)")
	return cmd
}

func phaseCmd() *cobra.Command {
	p := &cobra.Command{Use: "phase", Short: "Phase control"}
	p.AddCommand(&cobra.Command{
		Use:   "next",
		Short: "Advance to the next phase, turn or round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				res, err := e.AdvancePhase(ctx, s.ID, actorID())
				if err != nil {
					return err
				}
				return printMutation(res)
			})
		},
	})
	return p
}

func printMutation(res engine.MutationResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("#%d (seq %d) %s\n", res.Event.ID, res.Event.Seq, res.Event.Description)
	sum := res.Summary
	fmt.Printf("round %d %s, %s to act | CP %d/%d | VP %d/%d\n",
		sum.Round, sum.Phase, sum.TurnHolder,
		sum.CommandPoints[domain.RolePlayer], sum.CommandPoints[domain.RoleOpponent],
		sum.VictoryPoints[domain.RolePlayer], sum.VictoryPoints[domain.RoleOpponent])
	return nil
}
