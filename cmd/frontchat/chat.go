package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	frontchat "github.com/JOUDASHY/front-chat-next"
	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// ============================================================================
// Styles
// ============================================================================

var (
	selfStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
)

var (
	chatGroup   bool
	metricsAddr string
)

// ============================================================================
// Live session
// ============================================================================

// live is a running messenger plus its realtime connection.
type live struct {
	env       *cliEnv
	messenger *frontchat.Messenger
}

func startLive(ctx context.Context, reg prometheus.Registerer) (*live, error) {
	var opts []frontchat.ClientOption
	var metrics *frontchat.Metrics
	if reg != nil {
		metrics = frontchat.NewMetrics(reg)
		opts = append(opts, frontchat.WithMetrics(metrics))
	}
	env := mustSession(opts...)
	if err := env.cfg.Validate(); err != nil {
		env.close()
		return nil, err
	}

	rt := env.client.Realtime(env.cfg.RealtimeConfig())
	rt.OnStateChange(func(ev frontchat.ConnectionEvent) {
		if ev.Err != nil {
			logger.Warn().Err(ev.Err).Str("state", string(ev.State)).Msg("realtime")
			return
		}
		logger.Info().Str("state", string(ev.State)).Bool("resubscribed", ev.Resubscribed).Msg("realtime")
	})

	m, err := frontchat.NewMessenger(env.client, rt, frontchat.WithViewLogger(logger))
	if err != nil {
		env.close()
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		env.close()
		return nil, describeError(err)
	}
	return &live{env: env, messenger: m}, nil
}

func (l *live) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.messenger.Stop(ctx)
	l.env.close()
}

// ============================================================================
// chat
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat <user-id|group-id>",
	Short: "Chat live in a conversation",
	Long: "Open a conversation and chat interactively. Incoming messages appear as they arrive.\n" +
		"Type a line to send it, '/file <path>' to send a file, '/quit' to leave.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := frontchat.ParseID(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l, err := startLive(ctx, nil)
		if err != nil {
			return err
		}
		defer l.stop()

		self := l.messenger.Self()
		r := newRenderer(self)
		l.messenger.Window().OnChange(r.render)

		var conv *frontchat.Conversation
		if chatGroup {
			c, ok := l.messenger.Conversations().Find(target)
			if !ok {
				c = frontchat.Conversation{ID: target, Kind: frontchat.KindGroup}
			}
			conv = &c
			err = l.messenger.Select(ctx, c)
		} else {
			conv, err = l.messenger.StartConversation(ctx, target)
		}
		if err != nil {
			return describeError(err)
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("%s  (/quit to leave)", conv.Name)))
		r.render(l.messenger.Window().Snapshot())

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if err := handleInput(ctx, l.messenger, strings.TrimSpace(line)); err != nil {
					if errors.Is(err, errQuit) {
						return nil
					}
					fmt.Fprintln(os.Stderr, dimStyle.Render("! "+describeError(err).Error()))
				}
			}
		}
	},
}

var errQuit = errors.New("quit")

func handleInput(ctx context.Context, m *frontchat.Messenger, line string) error {
	switch {
	case line == "":
		return nil
	case line == "/quit" || line == "/q":
		return errQuit
	case strings.HasPrefix(line, "/file "):
		att, err := frontchat.AttachmentFromFile(strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
		if err != nil {
			return err
		}
		_, err = m.Send(ctx, frontchat.OutgoingMessage{Attachment: att})
		return err
	default:
		_, err := m.Send(ctx, frontchat.OutgoingMessage{Content: line})
		return err
	}
}

// renderer prints each message of the window once.
type renderer struct {
	self frontchat.ID

	mu      sync.Mutex
	printed map[frontchat.ID]bool
	online  bool
}

func newRenderer(self frontchat.ID) *renderer {
	return &renderer{self: self, printed: make(map[frontchat.ID]bool)}
}

func (r *renderer) render(s frontchat.WindowSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State == frontchat.WindowFailed && s.Err != nil {
		fmt.Fprintln(os.Stderr, dimStyle.Render("! "+describeError(s.Err).Error()))
	}
	if s.Peer != nil && s.PeerOnline != r.online {
		r.online = s.PeerOnline
		if s.PeerOnline {
			fmt.Println(onlineStyle.Render("● " + s.Peer.DisplayName() + " is online"))
		} else {
			fmt.Println(dimStyle.Render("○ " + s.Peer.DisplayName() + " went offline"))
		}
	}
	for _, m := range s.Messages {
		if m.ID != 0 && r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		name := peerStyle.Render(m.Sender)
		if m.SenderID == r.self {
			name = selfStyle.Render("you")
		}
		body := m.Content
		if m.Attachment != "" {
			body = strings.TrimSpace(body + " " + dimStyle.Render("["+m.Attachment+"]"))
		}
		fmt.Printf("%s %s %s\n", dimStyle.Render(m.Timestamp.Local().Format("15:04")), name, body)
	}
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the conversation list live",
	Long:  "Keep the conversation list open and reprint it on every change. With --metrics-addr, serve Prometheus metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var reg *prometheus.Registry
		if metricsAddr != "" {
			reg = prometheus.NewRegistry()
			srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("metrics server failed")
				}
			}()
			defer srv.Close()
			logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
		}

		var registerer prometheus.Registerer
		if reg != nil {
			registerer = reg
		}
		l, err := startLive(ctx, registerer)
		if err != nil {
			return err
		}
		defer l.stop()

		show := func(s frontchat.ListSnapshot) {
			fmt.Println(headerStyle.Render(fmt.Sprintf("Conversations (%s)  %s", s.State, time.Now().Format("15:04:05"))))
			if s.Err != nil {
				fmt.Println(dimStyle.Render("! " + describeError(s.Err).Error()))
			}
			for _, c := range s.Conversations {
				dot := dimStyle.Render("○")
				if c.PeerOnline {
					dot = onlineStyle.Render("●")
				}
				if c.IsGroup() {
					dot = dimStyle.Render("#")
				}
				fmt.Printf("  %s %-20s %-14s %s\n", dot, c.Name, since(c.LastActivity), c.LastMessage)
			}
		}
		l.messenger.Conversations().OnChange(func(s frontchat.ListSnapshot) {
			if s.State != frontchat.ListLoading {
				show(s)
			}
		})
		show(l.messenger.Conversations().Snapshot())

		<-ctx.Done()
		return nil
	},
}

func init() {
	chatCmd.Flags().BoolVarP(&chatGroup, "group", "g", false, "Target is a group id")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(watchCmd)
}
