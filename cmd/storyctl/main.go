package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chanderbawa/AI-Story-Agents/clients/go/story"
	"github.com/chanderbawa/AI-Story-Agents/internal/agent"
	"github.com/chanderbawa/AI-Story-Agents/internal/config"
	"github.com/chanderbawa/AI-Story-Agents/internal/models"
	"github.com/chanderbawa/AI-Story-Agents/internal/orchestrator"
)

var ErrMissingSubcommand = errors.New("must specify a subcommand")

var (
	serverURL string
	agentURL  string

	storyReq models.StoryRequest
	timeout  time.Duration

	sendSender string
	sendType   string
	sendCorrID string
)

var rootCmd = &cobra.Command{
	Use:          "storyctl",
	Short:        "Story agents client",
	SilenceUsage: true,
	RunE: func(*cobra.Command, []string) error {
		return ErrMissingSubcommand
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a story to the orchestrator and wait for it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout+30*time.Second)
		defer cancel()

		res, err := story.NewClient(serverURL).CreateStory(ctx, storyReq, timeout)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run the pipeline in process without a broker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()

		coord := orchestrator.NewCoordinator(
			agent.NewAuthor(models.ParticipantAuthor, logger),
			agent.NewIllustrator(models.ParticipantIllustrator, cfg.IllustrationsDir(), logger),
			agent.NewPublisher(models.ParticipantPublisher, cfg.PublicationsDir(), cfg.PublishFormats, logger),
			orchestrator.ClarityPolicy{MinLength: cfg.ClarityMinLength, Keywords: cfg.ClarityKeywords},
			logger,
		)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := coord.CreateStory(ctx, storyReq)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [correlation-id]",
	Short: "Show a task's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := story.NewClient(serverURL).TaskStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [correlation-id]",
	Short: "List a task's messages in publish order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := story.NewClient(serverURL).History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("%s  %-20s -> %-20s %-8s %s\n",
				m.Timestamp.Format(time.RFC3339), m.Sender, m.Receiver, m.Type, m.Payload.String("action"))
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check orchestrator health, or a worker's with --agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		target := serverURL
		if agentURL != "" {
			target = agentURL
		}
		health, err := story.NewClient(target).Health(cmd.Context())
		if health != nil {
			if perr := printJSON(health); perr != nil {
				return perr
			}
		}
		return err
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [json-payload]",
	Short: "Enqueue a raw message on a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentURL == "" {
			return errors.New("--agent or STORY_AGENT_URL is required")
		}
		var content models.Payload
		if err := json.Unmarshal([]byte(args[0]), &content); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		resp, err := story.NewClient(agentURL).Send(cmd.Context(), story.SendRequest{
			Sender:        sendSender,
			MessageType:   sendType,
			Content:       content,
			CorrelationID: sendCorrID,
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("STORY_URL", story.DefaultURL), "orchestrator URL")
	rootCmd.PersistentFlags().StringVar(&agentURL, "agent", os.Getenv("STORY_AGENT_URL"), "worker URL")

	for _, c := range []*cobra.Command{createCmd, localCmd} {
		c.Flags().StringVar(&storyReq.Plot, "plot", "", "story plot")
		c.Flags().StringSliceVar(&storyReq.Themes, "themes", nil, "comma separated themes")
		c.Flags().StringVar(&storyReq.Length, "length", "medium", "short, medium or long")
		c.Flags().StringVar(&storyReq.TargetAge, "age", "", "target reader age")
		c.Flags().StringVar(&storyReq.ArtStyle, "art-style", "", "illustration style")
		c.Flags().StringVar(&storyReq.Title, "title", "", "story title")
		c.Flags().DurationVar(&timeout, "timeout", orchestrator.DefaultTimeout, "overall deadline")
		c.MarkFlagRequired("plot")
	}

	sendCmd.Flags().StringVar(&sendSender, "sender", "storyctl", "sender name")
	sendCmd.Flags().StringVar(&sendType, "type", string(models.TypeRequest), "message type")
	sendCmd.Flags().StringVar(&sendCorrID, "correlation-id", "", "correlation id")

	rootCmd.AddCommand(createCmd, localCmd, statusCmd, historyCmd, healthCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "storyctl failed %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
