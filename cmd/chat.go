package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loom/internal/api"
	"loom/internal/cache"
	"loom/internal/coordinator"
	"loom/internal/state"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive workspace session",
	Long: `Start an interactive session against the configured backend.

Commands inside the session:
  /list           show the conversation directory
  /open <n>       switch to the n-th conversation
  /new            start a new conversation on the next message
  /title          ask the backend for a title
  /delete <n>     delete the n-th conversation
  /quit           exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	flags := chatCmd.Flags()
	flags.String("base-url", "", "backend base URL")
	flags.String("token", "", "bearer token (recommend using env: LOOM_API_TOKEN)")

	_ = viper.BindPFlag("api.base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("api.token", flags.Lookup("token"))
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	client := api.New(&cfg.API)
	rc := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
	var snap *cache.SnapshotStore
	if cfg.Cache.SnapshotPath != "" {
		snap = cache.NewSnapshotStore(cfg.Cache.SnapshotPath)
	}
	coord := coordinator.New(client, rc, snap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		coord.StopStreaming()
		cancel()
	}()

	// 订阅：流式增量即时打印，错误与通知也从这里出
	var printed int
	unsubscribe := coord.Store().Subscribe(func(w state.Workspace) {
		if w.Streaming && len(w.StreamingContent) > printed {
			fmt.Print(w.StreamingContent[printed:])
			printed = len(w.StreamingContent)
		}
		if !w.Streaming {
			printed = 0
		}
		if w.Err != "" {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", w.Err)
		}
		if w.Notice != "" {
			fmt.Fprintf(os.Stderr, "\nnotice: %s\n", w.Notice)
		}
	})
	defer unsubscribe()

	if err := coord.LoadDirectory(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "directory unavailable, continuing offline-ish")
	}

	fmt.Println("Connected. Type a message, or /help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, coord, line); quit {
				return nil
			}
			continue
		}

		if err := coord.Send(ctx, line); err == nil {
			fmt.Println()
		}
	}
}

// runCommand 处理会话内命令，返回是否退出
func runCommand(ctx context.Context, coord *coordinator.Coordinator, line string) bool {
	fields := strings.Fields(line)
	w := coord.Store().Read()

	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/list":
		for i, conv := range w.Conversations {
			marker := " "
			if conv.ID == w.ActiveConversationID {
				marker = "*"
			}
			title := conv.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s %2d. %s\n", marker, i+1, title)
		}

	case "/open":
		if idx, ok := argIndex(fields, len(w.Conversations)); ok {
			if err := coord.Select(ctx, w.Conversations[idx].ID); err == nil {
				opened := coord.Store().Read()
				for _, msg := range opened.Messages {
					fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
				}
			}
		}

	case "/new":
		coord.Reset()
		fmt.Println("next message starts a new conversation")

	case "/title":
		_ = coord.GenerateTitle(ctx)

	case "/delete":
		if idx, ok := argIndex(fields, len(w.Conversations)); ok {
			_ = coord.Delete(ctx, w.Conversations[idx].ID)
		}

	case "/help":
		fmt.Println("/list /open <n> /new /title /delete <n> /quit")

	default:
		fmt.Println("unknown command, try /help")
	}
	return false
}

// argIndex 解析 1 起始的序号参数
func argIndex(fields []string, n int) (int, bool) {
	if len(fields) < 2 {
		fmt.Println("missing argument")
		return 0, false
	}
	idx, err := strconv.Atoi(fields[1])
	if err != nil || idx < 1 || idx > n {
		fmt.Println("invalid index")
		return 0, false
	}
	return idx - 1, true
}
