package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"xynconsole/internal/domain"
	"xynconsole/internal/draft"
	"xynconsole/internal/submit"
	xynsdk "xynconsole/sdk/go"
)

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions", "s"},
		Short:   "Manage draft sessions",
	}
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionCreateCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionUpdateCmd())
	s.AddCommand(sessionDeleteCmd())
	s.AddCommand(sessionGenerateCmd())
	s.AddCommand(sessionReviseCmd())
	s.AddCommand(sessionSaveCmd())
	s.AddCommand(sessionSnapshotCmd())
	s.AddCommand(sessionResolveCmd())
	s.AddCommand(sessionDefaultsCmd())
	s.AddCommand(sessionSubmitCmd())
	s.AddCommand(sessionWatchCmd())
	s.AddCommand(sessionEventsCmd())
	return s
}

func sessionListCmd() *cobra.Command {
	var f domain.DraftSessionFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List draft sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				items, err := c.ListDraftSessions(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ID, short(s.Title, 40), s.Kind, s.Status, s.Namespace, s.ProjectKey, s.UpdatedAt})
				}
				return printJSONOrTable(items, table.Row{"ID", "Title", "Kind", "Status", "Namespace", "Project", "Updated"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter (blueprint|solution)")
	cmd.Flags().StringVar(&f.Namespace, "namespace", "", "namespace filter")
	cmd.Flags().StringVar(&f.ProjectKey, "project", "", "project key filter")
	cmd.Flags().StringVar(&f.Q, "q", "", "search title and prompt")
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var fields domain.DraftSessionFields
	var artifacts []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidKind(fields.Kind) {
				return draft.ErrInvalidKind
			}
			for _, a := range artifacts {
				fields.SourceArtifacts = append(fields.SourceArtifacts, domain.SourceArtifact{Type: "text", Content: a})
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				id, err := c.CreateDraftSession(ctx, fields)
				if err != nil {
					return err
				}
				return printResult(map[string]string{"session_id": id}, id)
			})
		},
	}
	cmd.Flags().StringVar(&fields.Title, "title", "", "title")
	cmd.Flags().StringVar(&fields.Kind, "kind", domain.KindBlueprint, "kind (blueprint|solution)")
	cmd.Flags().StringVar(&fields.Namespace, "namespace", "", "namespace")
	cmd.Flags().StringVar(&fields.ProjectKey, "project", "", "project key")
	cmd.Flags().StringVar(&fields.InitialPrompt, "prompt", "", "initial prompt")
	cmd.Flags().StringArrayVar(&artifacts, "artifact", nil, "text source artifact (repeatable)")
	cmd.Flags().StringSliceVar(&fields.SelectedContextPackIDs, "pack", nil, "context pack id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a draft session with its draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				s, err := c.GetDraftSession(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func sessionUpdateCmd() *cobra.Command {
	var title, kind, namespace, project, prompt string
	var packs, artifacts []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update session metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				edits := []struct {
					flag string
					set  func() error
				}{
					{"title", func() error { return m.SetTitle(title) }},
					{"kind", func() error { return m.SetKind(kind) }},
					{"namespace", func() error { return m.SetNamespace(namespace) }},
					{"project", func() error { return m.SetProjectKey(project) }},
					{"prompt", func() error { return m.SetPrompt(prompt) }},
					{"pack", func() error { return m.SetSelectedPacks(packs) }},
				}
				changed := false
				for _, e := range edits {
					if !cmd.Flags().Changed(e.flag) {
						continue
					}
					if err := e.set(); err != nil {
						return fmt.Errorf("--%s: %w", e.flag, err)
					}
					changed = true
				}
				for _, a := range artifacts {
					if err := m.AddSourceArtifact(domain.SourceArtifact{Type: "text", Content: a}); err != nil {
						return err
					}
					changed = true
				}
				if !changed {
					return fmt.Errorf("nothing to update")
				}
				if err := m.SaveMetadata(ctx); err != nil {
					return err
				}
				v := m.View()
				return printResult(v.Session, "updated "+v.Session.ID)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&kind, "kind", "", "kind (blueprint|solution)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace")
	cmd.Flags().StringVar(&project, "project", "", "project key")
	cmd.Flags().StringVar(&prompt, "prompt", "", "initial prompt (rejected once locked)")
	cmd.Flags().StringSliceVar(&packs, "pack", nil, "selected context pack ids (replaces selection)")
	cmd.Flags().StringArrayVar(&artifacts, "add-artifact", nil, "append a text source artifact")
	return cmd
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a draft session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				if err := c.DeleteDraftSession(ctx, args[0]); err != nil {
					return err
				}
				return printResult(map[string]string{"deleted": args[0]}, "deleted "+args[0])
			})
		},
	}
}

func sessionGenerateCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "generate <id>",
		Short: "Enqueue draft generation (locks the prompt)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				if err := m.Generate(ctx); err != nil {
					return err
				}
				return finish(ctx, m, wait, "generation queued")
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")
	return cmd
}

func sessionReviseCmd() *cobra.Command {
	var instruction string
	var wait bool
	cmd := &cobra.Command{
		Use:   "revise <id>",
		Short: "Enqueue a revision of the generated draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				if err := m.SetInstruction(instruction); err != nil {
					return err
				}
				if err := m.Revise(ctx); err != nil {
					return err
				}
				return finish(ctx, m, wait, "revision queued")
			})
		},
	}
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "revision instruction")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")
	_ = cmd.MarkFlagRequired("instruction")
	return cmd
}

func sessionSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Save an edited draft document (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(file)
			if err != nil {
				return err
			}
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				if err := m.Save(ctx, text); err != nil {
					return err
				}
				return finish(ctx, m, false, "draft saved")
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "draft JSON file, - for stdin")
	return cmd
}

func sessionSnapshotCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "snapshot <id>",
		Short: "Record a snapshot revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				if err := m.Snapshot(ctx, note); err != nil {
					return err
				}
				return finish(ctx, m, false, "snapshot recorded")
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "snapshot note")
	return cmd
}

func sessionResolveCmd() *cobra.Command {
	var packs []string
	var discard, applyRecommended bool
	cmd := &cobra.Command{
		Use:   "resolve-context <id>",
		Short: "Pin the selected context packs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				if cmd.Flags().Changed("pack") {
					if err := m.SetSelectedPacks(packs); err != nil {
						return err
					}
				}
				if applyRecommended {
					if _, err := m.RefreshDefaults(ctx); err != nil {
						return err
					}
					if err := m.ApplyRecommended(); err != nil {
						return err
					}
				}
				err := m.ResolveContext(ctx, discard)
				var discardErr *draft.DiscardHashError
				if errors.As(err, &discardErr) {
					return fmt.Errorf("%w (pass --discard)", err)
				}
				if err != nil {
					return err
				}
				return finish(ctx, m, false, "context resolved: "+m.View().Session.EffectiveContextHash)
			})
		},
	}
	cmd.Flags().StringSliceVar(&packs, "pack", nil, "context pack ids (replaces selection)")
	cmd.Flags().BoolVar(&discard, "discard", false, "replace an existing effective context hash")
	cmd.Flags().BoolVar(&applyRecommended, "apply-recommended", false, "add the recommended packs first")
	return cmd
}

func sessionDefaultsCmd() *cobra.Command {
	var generateCode bool
	cmd := &cobra.Command{
		Use:   "defaults <id>",
		Short: "Show recommended and required packs for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				m.SetGenerateCode(generateCode)
				d, err := m.RefreshDefaults(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(d, table.Row{"Recommended", "Required"}, []table.Row{{
					strings.Join(d.RecommendedContextPackIDs, ", "),
					strings.Join(d.RequiredPackNames, ", "),
				}})
			})
		},
	}
	cmd.Flags().BoolVar(&generateCode, "generate-code", false, "query for a code-generating submission")
	return cmd
}

func sessionSubmitCmd() *cobra.Command {
	var target submit.Target
	var applyRecommended bool
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a ready session as a blueprint or solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				s := m.View().Session
				if target.Namespace == "" {
					target.Namespace = s.Namespace
				}
				if target.Name == "" {
					target.Name = s.ProjectKey
				}
				m.SetGenerateCode(target.GenerateCode)
				if applyRecommended {
					if err := m.SetNamespace(target.Namespace); err != nil {
						return err
					}
					if err := m.SetProjectKey(target.Name); err != nil {
						return err
					}
					if _, err := m.RefreshDefaults(ctx); err != nil {
						return err
					}
					if err := m.ApplyRecommended(); err != nil {
						return err
					}
					if err := m.SaveMetadata(ctx); err != nil {
						return err
					}
				}
				res, err := m.Submit(ctx, target)
				var missing *submit.MissingPacksError
				if errors.As(err, &missing) {
					return fmt.Errorf("%w (try --apply-recommended)", err)
				}
				if err != nil {
					return err
				}
				return printResult(res, fmt.Sprintf("%s %s %s", res.Status, res.EntityType, res.EntityID))
			})
		},
	}
	cmd.Flags().StringVar(&target.Namespace, "namespace", "", "target namespace (default: session namespace)")
	cmd.Flags().StringVar(&target.Name, "name", "", "target name (default: session project key)")
	cmd.Flags().BoolVar(&target.GenerateCode, "generate-code", false, "request code generation (solutions only)")
	cmd.Flags().BoolVar(&applyRecommended, "apply-recommended", false, "select recommended packs before submitting")
	return cmd
}

func sessionWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a session until its job finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				return finish(ctx, m, true, "")
			})
		},
	}
}

func sessionEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the session audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				items, err := c.ListDraftSessionEvents(ctx, args[0], limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.ActorID, short(e.Payload, 60)})
				}
				return printJSONOrTable(items, table.Row{"ID", "Time", "Type", "Actor", "Payload"}, rows)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}

// finish prints the outcome of an action. With wait it blocks until the
// session leaves the queued and drafting states.
func finish(ctx context.Context, m *draft.Machine, wait bool, notice string) error {
	if notice != "" {
		fmt.Fprintln(os.Stderr, notice)
	}
	if wait {
		if err := waitIdle(ctx, m); err != nil {
			return err
		}
	}
	v := m.View()
	if v.Err != nil {
		return v.Err
	}
	s := v.Session
	return printResult(s, fmt.Sprintf("%s  %s  %s", s.ID, s.Status, s.Title))
}

func waitIdle(ctx context.Context, m *draft.Machine) error {
	var (
		mu     sync.Mutex
		last   string
		once   sync.Once
		doneCh = make(chan struct{})
	)
	check := func(v draft.View) {
		if !v.HasSession {
			once.Do(func() { close(doneCh) })
			return
		}
		mu.Lock()
		if v.Session.Status != last {
			last = v.Session.Status
			fmt.Fprintf(os.Stderr, "%s  %s\n", v.Session.UpdatedAt, last)
		}
		mu.Unlock()
		if !domain.IsInFlight(v.Session.Status) && !v.Polling {
			once.Do(func() { close(doneCh) })
		}
	}
	unsubscribe := m.OnChange(check)
	defer unsubscribe()
	check(m.View())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
	}
	if !m.View().HasSession {
		return draft.ErrSessionGone
	}
	return nil
}

func readInput(file string) (string, error) {
	var r io.Reader = os.Stdin
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
