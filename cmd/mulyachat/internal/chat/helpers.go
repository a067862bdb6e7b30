package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mulyachat/mulyachat/cmd/mulyachat/internal"
	"github.com/mulyachat/mulyachat/pkg/api"
	"github.com/mulyachat/mulyachat/pkg/bus"
	"github.com/mulyachat/mulyachat/pkg/directory/sqlitestore"
	"github.com/mulyachat/mulyachat/pkg/logger"
	"github.com/mulyachat/mulyachat/pkg/session"
	"github.com/mulyachat/mulyachat/pkg/wire"
)

func chatCmd(userID string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	apiClient, err := api.NewClient(cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}

	store, err := sqlitestore.Open(cfg.Directory.Path)
	if err != nil {
		return fmt.Errorf("error opening conversation directory: %w", err)
	}
	defer store.Close()

	events := bus.NewEventBus()
	defer events.Close()

	sess := session.New(cfg, apiClient, events, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Login(ctx, userID); err != nil {
		return err
	}
	defer sess.Logout()

	rl, err := readline.NewEx(&readline.Config{
		Prompt: "general> ",
		Listener: readline.FuncListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
			if key != 0 && key != readline.CharEnter {
				sess.NotifyTyping()
			}
			return nil, 0, false
		}),
	})
	if err != nil {
		return fmt.Errorf("error initializing input: %w", err)
	}
	defer rl.Close()

	go renderEvents(ctx, events, rl, userID)

	fmt.Println("Connected. /dm <user id> to open a direct conversation, /general to go back, /quit to exit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			// Ctrl+C or EOF.
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			sess.NotifyStopTyping()
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, sess, rl, line); quit {
				return nil
			}
			continue
		}
		if err := sess.SendText(line); err != nil {
			fmt.Println("send failed:", err)
		}
	}
}

func runCommand(ctx context.Context, sess *session.Session, rl *readline.Instance, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return true
	case "/general":
		sess.SelectConversation(session.Broadcast())
		rl.SetPrompt("general> ")
	case "/dm":
		if len(fields) < 2 {
			fmt.Println("usage: /dm <user id>")
			return false
		}
		peer, ok := findUser(sess, fields[1])
		if !ok {
			fmt.Println("unknown user:", fields[1])
			return false
		}
		sess.StartConversation(peer)
		rl.SetPrompt(peer.Name + "> ")
	case "/users":
		users := sess.Users()
		sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
		for _, u := range users {
			fmt.Printf("  %s  %s\n", u.ID, u.Name)
		}
	case "/online":
		fmt.Println("online:", strings.Join(sess.Online(), ", "))
	case "/file":
		if len(fields) < 2 {
			fmt.Println("usage: /file <path>")
			return false
		}
		sendFile(ctx, sess, fields[1])
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return false
}

func findUser(sess *session.Session, idOrName string) (wire.User, bool) {
	for _, u := range sess.Users() {
		if u.ID == idOrName || u.Name == idOrName {
			return u, true
		}
	}
	return wire.User{}, false
}

func sendFile(ctx context.Context, sess *session.Session, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("open failed:", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fmt.Println("stat failed:", err)
		return
	}
	name := filepath.Base(path)
	if err := sess.SendFile(ctx, name, "", info.Size(), f); err != nil {
		fmt.Println("file send failed:", err)
	}
}

// renderEvents consumes session events and prints them above the prompt.
func renderEvents(ctx context.Context, events *bus.EventBus, rl *readline.Instance, userID string) {
	shown := 0
	for {
		ev, ok := events.Consume(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case bus.EventMessagesChanged:
			if len(ev.Messages) < shown {
				shown = 0
			}
			for _, msg := range ev.Messages[shown:] {
				printMessage(rl, msg, userID)
			}
			shown = len(ev.Messages)
		case bus.EventTypingSetChanged:
			if len(ev.Typing) > 0 {
				names := make([]string, 0, len(ev.Typing))
				for _, name := range ev.Typing {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Fprintln(rl.Stdout(), "… "+strings.Join(names, ", ")+" typing")
			}
		case bus.EventUnreadChanged:
			for peer, n := range ev.Unread {
				fmt.Fprintf(rl.Stdout(), "• %d unread from %s\n", n, peer)
			}
		case bus.EventConnectionChanged:
			fmt.Fprintln(rl.Stdout(), "connection:", ev.Status)
		}
	}
}

func printMessage(rl *readline.Instance, msg wire.Message, userID string) {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	if msg.SenderID == userID {
		sender = "me"
	}
	stamp := msg.SentAt.Local().Format("15:04")
	fmt.Fprintf(rl.Stdout(), "[%s] %s: %s\n", stamp, sender, msg.Content)
}
