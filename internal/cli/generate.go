package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"live-poll-service/internal/app"
	"live-poll-service/internal/config"
	"live-poll-service/internal/domain"
)

// NewGenerateCmd runs the draft generator once against a transcript file.
func NewGenerateCmd(configPath *string) *cobra.Command {
	var transcriptPath string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate poll drafts from a transcript and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), *configPath, transcriptPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&transcriptPath, "transcript", "-", "transcript file, - for stdin")
	return cmd
}

func runGenerate(ctx context.Context, configPath, transcriptPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, "text")

	var raw []byte
	if transcriptPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(transcriptPath)
	}
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	transcript := strings.TrimSpace(string(raw))
	if transcript == "" {
		return fmt.Errorf("transcript is empty")
	}

	gen := newGenerator(cfg, logger, nil)
	drafts, err := gen.Generate(ctx, transcript)
	if err != nil {
		return err
	}

	valid := make([]domain.PollDraft, 0, len(drafts))
	settings := settingsFromConfig(cfg)
	for _, d := range drafts {
		normalized, err := app.NormalizeDraft(d, settings)
		if err != nil {
			logger.Warn("discarding invalid draft", "question", d.Question, "error", err)
			continue
		}
		valid = append(valid, normalized)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(valid)
}
