package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	applog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/transport/rest"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wirechat",
		Short:         "Terminal client for the wirechat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	def := config.Default()
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	pf.String("host", def.Host, "server host[:port]")
	pf.String("scheme", def.Scheme, "websocket scheme (ws or wss)")
	pf.String("api-scheme", def.APIScheme, "REST scheme (http or https)")
	pf.String("ws-path", def.WSPath, "websocket path")
	pf.String("log-level", def.LogLevel, "log level (debug, info, warn, error, off)")

	root.AddCommand(
		newChatCmd(opts),
		newRoomsCmd(opts),
		newHistoryCmd(opts),
		newDevServerCmd(opts),
	)
	return root
}

// load resolves configuration for cmd and builds a logger on stderr.
func load(cmd *cobra.Command, opts *rootOptions) (config.Config, *zerolog.Logger, error) {
	boot := applog.NewWithWriter("warn", os.Stderr)
	cfg, path, err := config.Load(boot, opts.configPath, cmd.Flags())
	if err != nil {
		return cfg, nil, err
	}
	logger := applog.NewWithWriter(cfg.LogLevel, os.Stderr)
	logger.Debug().Str("config", path).Msg("config loaded")
	return cfg, logger, nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect and chat interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd, opts)
			if err != nil {
				return err
			}
			application, err := app.New(cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return application.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringP("username", "u", "", "username (a guest name is generated when empty)")
	f.Int64("room-id", 0, "room to enter on connect")
	f.Bool("reconnect", def.Reconnect, "reconnect after the connection drops")
	f.Duration("reconnect-delay", def.ReconnectDelay, "delay before a reconnect attempt")
	f.Int("max-reconnect-attempts", 0, "give up after this many attempts (0 = never)")
	f.String("reconnect-backoff", def.ReconnectBackoff, "constant or exponential")
	f.String("scope-policy", def.ScopePolicy, "buffer keeps messages of other rooms, drop discards them")
	f.Duration("typing-quiet-interval", def.TypingQuietInterval, "how long a typing signal lasts")
	f.Int("history-page-size", def.HistoryPageSize, "messages per /more page")
	f.Duration("ping-interval", 0, "websocket keep-alive ping interval (0 disables)")
	return cmd
}

func newRoomsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List rooms over the REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd, opts)
			if err != nil {
				return err
			}
			api, err := rest.New(cfg.APIBase(), nil, *logger)
			if err != nil {
				return err
			}
			rooms, err := api.ListRooms(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rooms {
				fmt.Fprintf(out, "%-4d %-24s %-10s %d members\n", int64(r.ID), r.Name, r.Kind, r.MemberCount)
			}
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		before string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history <room-id>",
		Short: "Print one page of a room's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %q", core.ErrInvalidRoom, args[0])
			}
			cfg, logger, err := load(cmd, opts)
			if err != nil {
				return err
			}
			api, err := rest.New(cfg.APIBase(), nil, *logger)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.HistoryPageSize
			}
			page, err := api.History(cmd.Context(), rest.HistoryQuery{Room: core.RoomID(id), Before: before, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := len(page) - 1; i >= 0; i-- {
				m := page[i]
				fmt.Fprintf(out, "%6d %s %s: %s\n", m.ID, m.CreatedAt.Local().Format(time.DateTime), m.From, m.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "cursor: message id or timestamp")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (defaults to history_page_size)")
	return cmd
}

func newDevServerCmd(opts *rootOptions) *cobra.Command {
	var rooms []string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory chat backend for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd, opts)
			if err != nil {
				return err
			}
			return app.NewDevServer(cfg.DevServerAddr, rooms, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().String("devserver-addr", config.Default().DevServerAddr, "listen address")
	cmd.Flags().StringSliceVar(&rooms, "room", []string{"general"}, "rooms to create at startup")
	return cmd
}
