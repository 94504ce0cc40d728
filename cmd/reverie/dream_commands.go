package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"reverie/internal/api"
	"reverie/internal/config"
	"reverie/internal/fileutil"
	"reverie/internal/pipeline"
)

func newDreamCommand(ctx *commandContext) *cobra.Command {
	dreamCmd := &cobra.Command{
		Use:   "dream",
		Short: "Record and enrich dreams",
	}

	dreamCmd.AddCommand(newDreamCreateCommand(ctx))
	dreamCmd.AddCommand(newDreamListCommand(ctx))
	dreamCmd.AddCommand(newDreamShowCommand(ctx))
	dreamCmd.AddCommand(newDreamAddTextCommand(ctx))
	dreamCmd.AddCommand(newDreamAddAudioCommand(ctx))
	dreamCmd.AddCommand(newDreamRemoveSegmentCommand(ctx))
	dreamCmd.AddCommand(newDreamFinishCommand(ctx))
	dreamCmd.AddCommand(newDreamGenerateCommand(ctx))
	dreamCmd.AddCommand(newDreamRecoverCommand(ctx))
	dreamCmd.AddCommand(newDreamAnswerCommand(ctx))

	return dreamCmd
}

func newDreamCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateDreamRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft dream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				dream, err := client.CreateDream(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, dream)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created dream %s\n", dream.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&req.UserID, "user", "u", "", "Owner of the dream")
	cmd.Flags().StringVar(&req.ID, "id", "", "Dream id (generated when empty)")
	cmd.Flags().StringVarP(&req.Title, "title", "t", "", "Title (generated by the summary when empty)")
	cmd.Flags().StringVar(&req.AdditionalInfo, "info", "", "Context used by the analysis stages")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newDreamListCommand(ctx *commandContext) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's dreams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				dreams, err := client.ListDreams(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.DreamListResponse{Dreams: dreams})
				}
				stdout := cmd.OutOrStdout()
				if len(dreams) == 0 {
					fmt.Fprintln(stdout, "No dreams recorded")
					return nil
				}
				rows := make([][]string, 0, len(dreams))
				for _, d := range dreams {
					summary := ""
					if st, ok := d.Stage("summary"); ok {
						summary = st.Status
					}
					rows = append(rows, []string{d.ID, displayTitle(d), d.State, summary, d.CreatedAt})
				}
				fmt.Fprint(stdout, renderTable([]string{"ID", "Title", "State", "Summary", "Created"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the dreams")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newDreamShowCommand(ctx *commandContext) *cobra.Command {
	var copyTranscript bool

	cmd := &cobra.Command{
		Use:   "show <dream-id>",
		Short: "Show a dream with its segments and stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				dream, err := client.GetDream(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if copyTranscript {
					copyToClipboard(cmd, dream.Transcript)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, dream)
				}
				renderDream(cmd.OutOrStdout(), dream, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&copyTranscript, "copy", false, "Copy the transcript to the clipboard")
	return cmd
}

func newDreamAddTextCommand(ctx *commandContext) *cobra.Command {
	var order int

	cmd := &cobra.Command{
		Use:   "add-text <dream-id> <text>",
		Short: "Append a text segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return addSegment(cmd, ctx, args[0], order, api.AddSegmentRequest{Modality: "text", Text: args[1]})
		},
	}

	cmd.Flags().IntVar(&order, "order", -1, "Segment position (next free position when negative)")
	return cmd
}

func newDreamAddAudioCommand(ctx *commandContext) *cobra.Command {
	var order int
	var duration float64
	var importFile bool

	cmd := &cobra.Command{
		Use:   "add-audio <dream-id> <content-ref>",
		Short: "Append an audio segment stored under the audio directory",
		Long: "Append an audio segment. The content reference is relative to the audio directory;\n" +
			"with --import it is a local file that is copied there first.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[1]
			if importFile {
				imported, err := importRecording(ctx.configValue(), args[0], ref)
				if err != nil {
					return err
				}
				ref = imported
			}
			return addSegment(cmd, ctx, args[0], order, api.AddSegmentRequest{
				Modality:        "audio",
				ContentRef:      ref,
				DurationSeconds: duration,
			})
		},
	}

	cmd.Flags().IntVar(&order, "order", -1, "Segment position (next free position when negative)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Recording length in seconds (measured when zero)")
	cmd.Flags().BoolVar(&importFile, "import", false, "Copy a local file into the audio directory")
	return cmd
}

// importRecording copies a local recording to <audio_dir>/<dream>/<name> and
// returns the reference relative to the audio directory.
func importRecording(cfg *config.Config, dreamID, src string) (string, error) {
	if cfg == nil {
		return "", errors.New("configuration not loaded")
	}
	expanded, err := config.ExpandPath(src)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", src, err)
	}
	ref := filepath.Join(fileutil.SafeName(dreamID), fileutil.SafeName(filepath.Base(expanded)))
	if err := fileutil.CopyVerified(expanded, cfg.AudioPath(ref)); err != nil {
		return "", fmt.Errorf("import %s: %w", src, err)
	}
	return ref, nil
}

func addSegment(cmd *cobra.Command, ctx *commandContext, dreamID string, order int, req api.AddSegmentRequest) error {
	return ctx.withClient(func(client *api.Client) error {
		if order < 0 {
			dream, err := client.GetDream(cmd.Context(), dreamID)
			if err != nil {
				return err
			}
			order = nextOrder(dream)
		}
		req.Order = order
		seg, err := client.AddSegment(cmd.Context(), dreamID, req)
		if err != nil {
			return err
		}
		if ctx.jsonOutput() {
			return writeJSON(cmd, seg)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s segment %s at position %d (%s)\n", seg.Modality, seg.ID, seg.Order, seg.Status)
		return nil
	})
}

func nextOrder(dream api.Dream) int {
	next := 0
	for _, seg := range dream.Segments {
		next = max(next, seg.Order+1)
	}
	return next
}

func newDreamRemoveSegmentCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-segment <dream-id> <segment-id>",
		Short: "Remove a segment that is not being transcribed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteSegment(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed segment %s\n", args[1])
				return nil
			})
		},
	}
}

func newDreamFinishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <dream-id>",
		Short: "Finish recording and wait for the summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				dream, err := client.FinishDream(cmd.Context(), args[0])
				if err != nil {
					// A timeout still carries the latest view.
					if dream.ID != "" && !ctx.jsonOutput() {
						renderDream(cmd.ErrOrStderr(), dream, false)
					}
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, dream)
				}
				renderDream(cmd.OutOrStdout(), dream, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func newDreamGenerateCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "generate <dream-id> <stage>",
		Short: "Generate one stage (summary, analysis, expanded_analysis, questions, image, video)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				stage, err := client.GenerateStage(cmd.Context(), args[0], args[1], force)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stage)
				}
				renderStageArtifact(cmd.OutOrStdout(), stage, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Regenerate a completed stage")
	return cmd
}

func newDreamRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <dream-id>",
		Short: "Recover a dream whose transcription or summary got stuck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				report, err := client.RecoverDream(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				kind := statusOK
				if !report.Success {
					kind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine("Recovery", kind, report.Method+": "+report.Message, colorize))
				return nil
			})
		},
	}
}

func newDreamAnswerCommand(ctx *commandContext) *cobra.Command {
	var question, choice int
	var custom string

	cmd := &cobra.Command{
		Use:   "answer <dream-id>",
		Short: "Answer an interpretation question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := answerRequest(question, choice, custom)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				answer, err := client.RecordAnswer(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, answer)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded answer to question %d\n", answer.QuestionIndex+1)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&question, "question", "q", 0, "Question number, starting at 1")
	cmd.Flags().IntVar(&choice, "choice", 0, "Choice number, starting at 1")
	cmd.Flags().StringVar(&custom, "text", "", "Free-form answer instead of a choice")
	_ = cmd.MarkFlagRequired("question")
	cmd.MarkFlagsMutuallyExclusive("choice", "text")
	cmd.MarkFlagsOneRequired("choice", "text")
	return cmd
}

// answerRequest converts the 1-based numbers users type into API indexes.
func answerRequest(question, choice int, custom string) (api.AnswerRequest, error) {
	if question < 1 {
		return api.AnswerRequest{}, errors.New("--question starts at 1")
	}
	req := api.AnswerRequest{QuestionIndex: question - 1, CustomAnswer: strings.TrimSpace(custom)}
	if req.CustomAnswer == "" {
		if choice < 1 {
			return api.AnswerRequest{}, errors.New("--choice starts at 1")
		}
		idx := choice - 1
		req.ChoiceIndex = &idx
	}
	return req, nil
}

func copyToClipboard(cmd *cobra.Command, text string) {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "warn: nothing to copy")
		return
	}
	if err := clipboard.WriteAll(text); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warn: copy to clipboard failed: %v\n", err)
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Transcript copied to clipboard")
}

func displayTitle(d api.Dream) string {
	if title := strings.TrimSpace(d.Title); title != "" {
		return title
	}
	return "(untitled)"
}

func renderDream(w io.Writer, dream api.Dream, colorize bool) {
	printSection(w, displayTitle(dream), colorize)
	fmt.Fprintln(w, renderStatusLine("ID", statusInfo, dream.ID, colorize))
	fmt.Fprintln(w, renderStatusLine("User", statusInfo, dream.UserID, colorize))
	stateKind := statusWarn
	if dream.State == "completed" {
		stateKind = statusOK
	}
	fmt.Fprintln(w, renderStatusLine("State", stateKind, dream.State, colorize))
	if dream.CreatedAt != "" {
		fmt.Fprintln(w, renderStatusLine("Created", statusInfo, dream.CreatedAt, colorize))
	}
	if dream.ConsolidatedAt != "" {
		fmt.Fprintln(w, renderStatusLine("Consolidated", statusInfo, dream.ConsolidatedAt, colorize))
	}
	fmt.Fprintln(w)

	if len(dream.Segments) > 0 {
		rows := make([][]string, 0, len(dream.Segments))
		for _, seg := range dream.Segments {
			detail := seg.Transcript
			if seg.FailureReason != "" {
				detail = seg.FailureReason
			}
			rows = append(rows, []string{strconv.Itoa(seg.Order), seg.Modality, seg.Status, strconv.Itoa(seg.Attempts), detail})
		}
		fmt.Fprint(w, renderTable([]string{"#", "Modality", "Status", "Attempts", "Transcript"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft}))
		fmt.Fprintln(w)
	}

	if len(dream.Stages) > 0 {
		rows := make([][]string, 0, len(dream.Stages))
		for _, st := range dream.Stages {
			rows = append(rows, []string{st.Name, st.Status, strconv.Itoa(st.Attempts), st.GeneratedAt, st.ErrorMessage})
		}
		fmt.Fprint(w, renderTable([]string{"Stage", "Status", "Attempts", "Generated", "Error"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
		fmt.Fprintln(w)
	}

	if dream.Transcript != "" {
		printSection(w, "Transcript", colorize)
		fmt.Fprintln(w, dream.Transcript)
		fmt.Fprintln(w)
	}
	for _, st := range dream.Stages {
		if st.Status == "completed" && st.Artifact != "" {
			renderStageArtifact(w, st, colorize)
		}
	}
}

func renderStageArtifact(w io.Writer, st api.Stage, colorize bool) {
	printSection(w, stageTitle(st.Name), colorize)
	if st.Status != "completed" {
		fmt.Fprintln(w, renderStatusLine("Status", stageStatusKind(st.Status), st.Status, colorize))
		if st.ErrorMessage != "" {
			fmt.Fprintln(w, renderStatusLine("Error", statusError, st.ErrorMessage, colorize))
		}
		fmt.Fprintln(w)
		return
	}
	if st.Name == "questions" {
		questions, err := pipeline.ParseQuestions(st.Artifact)
		if err == nil {
			for i, q := range questions {
				fmt.Fprintf(w, "%d. %s\n", i+1, q.Question)
				for j, choice := range q.Choices {
					fmt.Fprintf(w, "   %d) %s\n", j+1, choice)
				}
			}
			fmt.Fprintln(w)
			return
		}
	}
	fmt.Fprintln(w, st.Artifact)
	fmt.Fprintln(w)
}

func stageTitle(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}
