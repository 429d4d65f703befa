// Package main provides the operator CLI for loqa-signs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-signs/internal/bus"
	"github.com/loqalabs/loqa-signs/internal/classifier"
	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/eventstore"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/protocol"
)

var version = "0.1.0-dev"

var (
	configPath string

	replayFrames    int
	replayBuffer    int
	replayHistory   int
	replayThreshold float64
	replayVerbose   bool

	sessionsLimit int

	controlReason  string
	controlTimeout time.Duration
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "loqa-signs",
		Short:         "Operate the loqa sign-language recognizer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (.yaml or .toml)")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newWordsCmd())
	rootCmd.AddCommand(newControlCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s (%s)\n", cfg.RuntimeName, cfg.Environment)
			fmt.Fprintf(out, "recognition: required_frames=%d buffer_limit=%d history_limit=%d threshold=%.2f\n",
				cfg.Recognition.RequiredFrames, cfg.Recognition.BufferLimit, cfg.Recognition.HistoryLimit, cfg.Recognition.ConfidenceThreshold)
			fmt.Fprintf(out, "classifier: mode=%s sources=%s\n", cfg.Classifier.Mode, strings.Join(cfg.Classifier.Sources, ","))
			fmt.Fprintf(out, "camera: mode=%s %dx%d flip=%t fps=%d\n", cfg.Camera.Mode, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.Flip, cfg.Camera.FPS)
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Run a recorded classifier script through the letter pipeline and print the words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := config.Default().Recognition
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				defaults = cfg.Recognition
			}
			settings := pipeline.Settings{
				RequiredFrames:      flagInt(cmd, "required-frames", replayFrames, defaults.RequiredFrames),
				BufferLimit:         flagInt(cmd, "buffer-limit", replayBuffer, defaults.BufferLimit),
				HistoryLimit:        flagInt(cmd, "history-limit", replayHistory, defaults.HistoryLimit),
				ConfidenceThreshold: defaults.ConfidenceThreshold,
			}
			if cmd.Flags().Changed("threshold") {
				settings.ConfidenceThreshold = replayThreshold
			}

			script, err := classifier.LoadScript(args[0])
			if err != nil {
				return err
			}
			session, err := pipeline.NewSession(settings)
			if err != nil {
				return err
			}
			result := replay(session, script)
			printReplay(cmd.OutOrStdout(), result, replayVerbose)
			return nil
		},
	}
	cmd.Flags().IntVar(&replayFrames, "required-frames", 0, "consecutive frames needed to lock a letter")
	cmd.Flags().IntVar(&replayBuffer, "buffer-limit", 0, "maximum letters kept in the buffer")
	cmd.Flags().IntVar(&replayHistory, "history-limit", 0, "maximum letters kept in history")
	cmd.Flags().Float64Var(&replayThreshold, "threshold", 0, "minimum confidence for a candidate (0-1)")
	cmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "print every locked letter")
	return cmd
}

func flagInt(cmd *cobra.Command, name string, value, fallback int) int {
	if cmd.Flags().Changed(name) {
		return value
	}
	return fallback
}

type replayResult struct {
	Locked  []string
	Words   []string
	Buffer  string
	History []string
	Frames  int
}

// replay feeds every frame of the script to the session, applying interpret and clear actions in
// order. Loop is ignored so playback always terminates.
func replay(session *pipeline.Session, script classifier.Script) replayResult {
	var res replayResult
	for _, step := range script.Steps {
		switch step.Action {
		case classifier.ActionInterpret:
			res.Words = append(res.Words, session.Interpret().Word)
			continue
		case classifier.ActionClear:
			session.Clear()
			continue
		}
		n := step.Repeat
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			report := session.HandlePredictions(step.Predictions)
			res.Frames++
			if report.Locked.Valid() {
				res.Locked = append(res.Locked, report.Locked.String())
			}
		}
	}
	snap := session.Snapshot()
	res.Buffer = snap.Word
	for _, l := range snap.History {
		res.History = append(res.History, l.String())
	}
	return res
}

func printReplay(out io.Writer, res replayResult, verbose bool) {
	if verbose {
		for i, l := range res.Locked {
			fmt.Fprintf(out, "letter %d: %s\n", i+1, l)
		}
	}
	for _, w := range res.Words {
		if w == "" {
			w = "(empty)"
		}
		fmt.Fprintf(out, "word: %s\n", w)
	}
	fmt.Fprintf(out, "frames: %d\n", res.Frames)
	fmt.Fprintf(out, "buffer: %s\n", res.Buffer)
	fmt.Fprintf(out, "history: %s\n", strings.Join(res.History, " "))
}

func openStore(ctx context.Context) (*eventstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return eventstore.Open(ctx, cfg.EventStore, quietLogger())
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent recognition sessions from the event store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			sessions, err := store.ListSessions(ctx, sessionsLimit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no sessions recorded")
				return nil
			}
			for _, s := range sessions {
				ended := "running"
				if !s.EndedAt.IsZero() {
					ended = s.EndedAt.Local().Format(time.DateTime) + " (" + s.EndReason + ")"
				}
				fmt.Fprintf(out, "%s  %s  %s  -> %s\n", s.ID, s.StartedAt.Local().Format(time.DateTime), s.Source, ended)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	return cmd
}

func newWordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "words <session-id>",
		Short: "Print the words interpreted during a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			words, err := store.Words(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list words: %w", err)
			}
			for _, w := range words {
				fmt.Fprintln(cmd.OutOrStdout(), w)
			}
			return nil
		},
	}
}

var controlSubjects = map[string]string{
	"start":     protocol.SubjectControlStart,
	"stop":      protocol.SubjectControlStop,
	"interpret": protocol.SubjectControlInterpret,
	"clear":     protocol.SubjectControlClear,
}

func newControlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "control <start|stop|interpret|clear>",
		Short:     "Send a control command to a running daemon over the bus",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "stop", "interpret", "clear"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
			defer cancel()
			client, err := bus.Connect(ctx, cfg.Bus, "loqa-signs-cli", quietLogger())
			if err != nil {
				return err
			}
			defer client.Close()

			body, err := json.Marshal(protocol.ControlRequest{Reason: controlReason})
			if err != nil {
				return err
			}
			msg, err := client.Conn().RequestWithContext(ctx, controlSubjects[args[0]], body)
			if err != nil {
				return fmt.Errorf("control %s: %w", args[0], err)
			}
			var reply protocol.ControlReply
			if err := json.Unmarshal(msg.Data, &reply); err != nil {
				return fmt.Errorf("decode reply: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok=%t state=%s session=%s\n", reply.Command, reply.OK, reply.State, reply.SessionID)
			if reply.Word != "" {
				fmt.Fprintf(out, "word: %s\n", reply.Word)
			}
			if !reply.OK {
				return fmt.Errorf("%s failed (%s): %s", reply.Command, reply.Code, reply.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&controlReason, "reason", "", "reason recorded with stop")
	cmd.Flags().DurationVar(&controlTimeout, "timeout", 10*time.Second, "time to wait for a reply")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
