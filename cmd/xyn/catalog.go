package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"xynconsole/internal/app"
	"xynconsole/internal/domain"
	"xynconsole/internal/draft"
	"xynconsole/internal/revisions"
	xynsdk "xynconsole/sdk/go"
)

func revisionsCmd() *cobra.Command {
	var q string
	var page int
	cmd := &cobra.Command{
		Use:   "revisions <session-id>",
		Short: "Page through a session's revision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMachine(cmd.Context(), args[0], func(ctx context.Context, m *draft.Machine) error {
				var p revisions.Page
				var err error
				if q != "" || cmd.Flags().Changed("q") {
					p, err = m.SearchRevisions(ctx, q)
				}
				if err == nil && (page > 1 || q == "") {
					p, err = m.RevisionPage(ctx, page)
				}
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(p.Revisions))
				for _, r := range p.Revisions {
					rows = append(rows, table.Row{r.RevisionNumber, r.Action, short(r.Instruction, 40), short(r.DiffSummary, 40), r.ValidationErrorsCount, r.CreatedAt})
				}
				if err := printJSONOrTable(p, table.Row{"#", "Action", "Instruction", "Diff", "Errors", "Created"}, rows); err != nil {
					return err
				}
				if !jsonOutput() {
					fmt.Printf("page %d of %d (%d revisions)\n", max(1, p.Page), p.PageCount(), p.Total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q, "q", "", "search instruction and diff summary")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func packsCmd() *cobra.Command {
	p := &cobra.Command{Use: "packs", Short: "Browse context packs"}
	p.AddCommand(packsListCmd())
	p.AddCommand(packsDefaultsCmd())
	return p
}

func packsListCmd() *cobra.Command {
	var f domain.ContextPackFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List context packs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				items, err := c.ListContextPacks(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Name, p.Purpose, p.Scope, p.Namespace, p.ProjectKey, p.Version})
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Purpose", "Scope", "Namespace", "Project", "Version"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.Scope, "scope", "", "scope filter (global|namespace|project)")
	cmd.Flags().StringVar(&f.Namespace, "namespace", "", "namespace filter")
	cmd.Flags().StringVar(&f.ProjectKey, "project", "", "project key filter")
	cmd.Flags().StringVar(&f.Purpose, "purpose", "", "purpose filter")
	return cmd
}

func packsDefaultsCmd() *cobra.Command {
	var q domain.ContextPackQuery
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Show recommended and required packs for a kind/namespace/project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				d, err := c.GetContextPackDefaults(ctx, q)
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
	cmd.Flags().StringVar(&q.DraftKind, "kind", domain.KindBlueprint, "draft kind")
	cmd.Flags().StringVar(&q.Namespace, "namespace", "", "namespace")
	cmd.Flags().StringVar(&q.ProjectKey, "project", "", "project key")
	cmd.Flags().BoolVar(&q.GenerateCode, "generate-code", false, "code-generating submission")
	return cmd
}

func voiceCmd() *cobra.Command {
	v := &cobra.Command{Use: "voice", Short: "Upload and transcribe voice notes"}
	v.AddCommand(voiceUploadCmd())
	v.AddCommand(voiceListCmd())
	v.AddCommand(voiceTranscribeCmd())
	v.AddCommand(voiceAttachCmd())
	return v
}

func voiceUploadCmd() *cobra.Command {
	var sessionID, lang string
	var transcribe bool
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an audio file to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				id, err := c.UploadVoiceNote(ctx, filepath.Base(args[0]), f, sessionID, lang)
				if err != nil {
					return err
				}
				if transcribe {
					if err := c.EnqueueVoiceNoteTranscription(ctx, id); err != nil {
						return err
					}
				}
				return printResult(map[string]string{"voice_note_id": id}, id)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&lang, "lang", "", "language code, e.g. en-US")
	cmd.Flags().BoolVar(&transcribe, "transcribe", false, "enqueue transcription after upload")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func voiceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's voice notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				items, err := c.ListDraftSessionVoiceNotes(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, n := range items {
					transcript := ""
					if n.TranscriptText != nil {
						transcript = short(*n.TranscriptText, 50)
					}
					rows = append(rows, table.Row{n.ID, n.Status, n.LanguageCode, transcript, n.CreatedAt})
				}
				return printJSONOrTable(items, table.Row{"ID", "Status", "Language", "Transcript", "Created"}, rows)
			})
		},
	}
}

func voiceTranscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <voice-note-id>",
		Short: "Enqueue transcription of a voice note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *xynsdk.Client) error {
				if err := c.EnqueueVoiceNoteTranscription(ctx, args[0]); err != nil {
					return err
				}
				return printResult(map[string]string{"queued": args[0]}, "transcription queued")
			})
		},
	}
}

func voiceAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <voice-note-id>",
		Short: "Append a transcript to its session's source artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			note, err := app.NewClient(cfg).GetVoiceNote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return withMachine(cmd.Context(), note.SessionID, func(ctx context.Context, m *draft.Machine) error {
				if err := m.AttachTranscript(note); err != nil {
					return err
				}
				if err := m.SaveMetadata(ctx); err != nil {
					return err
				}
				return finish(ctx, m, false, "transcript attached")
			})
		},
	}
}
