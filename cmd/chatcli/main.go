// Command chatcli 是会话同步服务的命令行客户端：发送消息并跟随会话。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"estate-assist-go/internal/model"
	"estate-assist-go/pkg/chatclient"
	"estate-assist-go/pkg/log"

	"github.com/spf13/cobra"
)

const cliName = "chatcli"

type options struct {
	server   string
	token    string
	userID   string
	interval time.Duration
	wait     time.Duration
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           cliName,
		Short:         "房源助手会话客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("CHATCLI_SERVER", "http://localhost:8080"), "服务地址")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CHATCLI_TOKEN"), "身份令牌 (JWT)")
	rootCmd.PersistentFlags().DurationVar(&opts.interval, "interval", chatclient.DefaultPollInterval, "轮询间隔")

	sendCmd := &cobra.Command{
		Use:   "send <text>",
		Short: "发送一条消息",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, _ := cmd.Flags().GetString("conversation")
			watch, _ := cmd.Flags().GetBool("watch")
			return runSend(cmd.Context(), opts, strings.Join(args, " "), conversationID, watch)
		},
	}
	sendCmd.Flags().StringP("conversation", "c", "", "继续已有会话")
	sendCmd.Flags().BoolP("watch", "w", false, "发送后继续跟随会话")
	sendCmd.Flags().StringVar(&opts.userID, "user", "", "匿名请求携带的 userId")
	sendCmd.Flags().DurationVar(&opts.wait, "wait", 2*time.Minute, "等待回复的最长时间")

	watchCmd := &cobra.Command{
		Use:   "watch <conversationId>",
		Short: "跟随会话并打印新消息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, args[0])
		},
	}

	rootCmd.AddCommand(sendCmd, watchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) client() *chatclient.HTTPClient {
	return chatclient.NewHTTPClient(o.server, chatclient.WithToken(o.token))
}

// session 把同步器和通知输出组装在一起，生命周期跟随命令。
type session struct {
	notifier *chatclient.Notifier
	sync     *chatclient.Synchronizer
	subID    string
	printed  chan struct{}
}

func newSession(opts *options, client *chatclient.HTTPClient) *session {
	notifier := chatclient.NewNotifier(5 * time.Second)
	s := &session{notifier: notifier, printed: make(chan struct{})}
	s.sync = chatclient.NewSynchronizer(client,
		chatclient.WithInterval(opts.interval),
		chatclient.WithNotifier(notifier),
		chatclient.WithOnMerge(func(msgs []model.ChatMessage) {
			for _, m := range msgs {
				printMessage(m)
			}
		}),
	)

	var notices <-chan chatclient.Notice
	s.subID, notices = notifier.Subscribe()
	go func() {
		defer close(s.printed)
		for n := range notices {
			if !n.Dismissed {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Text)
			}
		}
	}()
	return s
}

func (s *session) close() {
	s.sync.Stop()
	s.notifier.Unsubscribe(s.subID)
	s.notifier.Close()
	<-s.printed
}

func runSend(ctx context.Context, opts *options, text, conversationID string, watch bool) error {
	// CLI 下只保留错误日志
	log.InitStderr("error")
	client := opts.client()

	req := chatclient.SubmitRequest{Content: text, ConversationID: conversationID}
	if opts.userID != "" {
		req.UserID = &opts.userID
	}
	res, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}
	turn := chatclient.NewTurn(res.ConversationID, res.MessageID)
	_ = turn.MarkDispatched()
	_ = turn.MarkAcknowledged(res.Pending)

	fmt.Printf("conversation: %s\n", res.ConversationID)
	fmt.Printf("[ack] %s\n", res.Text)

	s := newSession(opts, client)
	defer s.close()
	if !res.Pending {
		s.notifier.Publish(chatclient.LevelError, "The assistant is unavailable; your message was saved.")
		if !watch {
			return nil
		}
	}

	s.sync.SetConversation(res.ConversationID)
	s.sync.Track(turn)
	if err := s.sync.Start(ctx); err != nil {
		return err
	}

	if watch {
		<-ctx.Done()
		return nil
	}

	timer := time.NewTimer(opts.wait)
	defer timer.Stop()
	select {
	case <-turn.Done():
	case <-timer.C:
		s.sync.Stop()
		return errors.New("timed out waiting for the assistant reply")
	case <-ctx.Done():
	}
	return nil
}

func runWatch(ctx context.Context, opts *options, conversationID string) error {
	log.InitStderr("error")
	s := newSession(opts, opts.client())
	defer s.close()

	s.sync.SetConversation(conversationID)
	if err := s.sync.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func printMessage(m model.ChatMessage) {
	fmt.Printf("[%s %s] %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Content)
	for _, s := range m.Suggestions {
		fmt.Printf("    > %s\n", s)
	}
	if n := len(m.Properties); n > 0 {
		fmt.Printf("    (%d properties)\n", n)
	}
	if n := len(m.TransportationServices); n > 0 {
		fmt.Printf("    (%d transportation services)\n", n)
	}
}
