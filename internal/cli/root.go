// Package cli implements inboxctl, a terminal client of the WhatsApp inbox.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/logging"
	"whatsapp-inbox/internal/msgsync"
	"whatsapp-inbox/internal/whatsapp"
)

var (
	version = "dev"
	commit  = "unknown"
)

type globalFlags struct {
	configPath string
	endpoint   string
	token      string
	verbose    bool
}

// NewRootCommand builds the inboxctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Terminal client for the WhatsApp inbox",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "comma separated config files")
	root.PersistentFlags().StringVar(&gf.endpoint, "endpoint", "", "messages endpoint (overrides sync.endpoint)")
	root.PersistentFlags().StringVar(&gf.token, "token", "", "bearer token (overrides sync.token)")
	root.PersistentFlags().BoolVarP(&gf.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newWatchCmd(&gf),
		newSendCmd(&gf),
		newConversationsCmd(&gf),
	)
	return root
}

// Execute runs inboxctl against os.Args. It is called by main.main().
func Execute() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	log    *zap.Logger
	client *whatsapp.Client
}

func setup(gf *globalFlags) (*env, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, err
	}
	if gf.endpoint != "" {
		cfg.Sync.Endpoint = gf.endpoint
	}
	if gf.token != "" {
		cfg.Sync.Token = gf.token
	}

	level := "warn"
	if gf.verbose {
		level = "debug"
	}
	log, err := logging.New(cfg.Env, level)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:    cfg,
		log:    log,
		client: whatsapp.NewClient(cfg.Sync.Endpoint, cfg.Sync.Token, cfg.Sync.RequestTimeout()),
	}, nil
}

func (e *env) synchronizer(conversation string, notifier msgsync.Notifier) (*msgsync.Synchronizer, error) {
	return msgsync.New(msgsync.NewSession(conversation), e.client, notifier, e.log, msgsync.Options{
		PollInterval: e.cfg.Sync.PollInterval(),
		OfflineAfter: e.cfg.Sync.OfflineAfter,
		Sender:       e.client,
	})
}

func newWatchCmd(gf *globalFlags) *cobra.Command {
	var (
		conversation string
		reply        bool
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a conversation, printing new messages as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(gf)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			notifier := NewTerminalNotifier(cmd.OutOrStdout(), time.Local, quiet)
			s, err := e.synchronizer(conversation, notifier)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if reply {
				go readReplies(ctx, cmd.InOrStdin(), s, notifier)
			}

			err = s.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation key (phone number)")
	cmd.Flags().BoolVar(&reply, "reply", false, "send each line typed on stdin as a reply")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not ring the terminal bell")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func readReplies(ctx context.Context, in io.Reader, s *msgsync.Synchronizer, n *TerminalNotifier) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		p, err := s.Send(ctx, text)
		if p.ClientMsgID != "" {
			n.PrintPending(p)
		}
		if err != nil {
			n.PrintSendError(err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func newSendCmd(gf *globalFlags) *cobra.Command {
	var conversation, text string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an attendant reply to a conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(gf)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			s, err := e.synchronizer(conversation, nil)
			if err != nil {
				return err
			}
			p, err := s.Send(cmd.Context(), text)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent id=%d client_msg_id=%s\n", p.ServerID, p.ClientMsgID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation key (phone number)")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newConversationsCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List conversations with their latest activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(gf)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			convs, err := e.client.ListConversations(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONVERSATION\tLAST ID\tLAST MESSAGE\tTOTAL\tUNSENT")
			for _, c := range convs {
				last := "-"
				if !c.LastMessageAt.IsZero() {
					last = c.LastMessageAt.Local().Format("02/01/2006 15:04")
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\n", c.Key, c.LastMessageID, last, c.Total, c.Unsent)
			}
			return tw.Flush()
		},
	}
}
