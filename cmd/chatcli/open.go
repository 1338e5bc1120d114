package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"chatcore/internal/client"
	"chatcore/internal/domain/entity"
)

var openGroup bool

const openHelp = `Type a message and press Enter to send it.
  /older          load earlier messages
  /retry <id>     resend a failed message
  /read           mark the conversation as read
  /quit           leave`

// transcript prints each entry of a view once, in arrival order.
type transcript struct {
	engine *client.Engine
	view   *client.View
	prefs  client.Prefs
	selfID string

	mutex   sync.Mutex
	printed map[string]bool
	names   map[string]string
	typing  string
}

func newTranscript(engine *client.Engine) *transcript {
	state := engine.Session().State()
	return &transcript{
		engine:  engine,
		prefs:   state.Prefs,
		selfID:  state.UserID,
		printed: make(map[string]bool),
		names:   map[string]string{state.UserID: state.Username},
	}
}

func (t *transcript) name(userID string) string {
	if name, ok := t.names[userID]; ok {
		return name
	}
	ctx, cancel := requestContext()
	defer cancel()
	name := userID
	if profile, err := t.engine.API().GetUser(ctx, userID); err == nil {
		name = profile.Username
	}
	t.names[userID] = name
	return name
}

func (t *transcript) line(entry client.Entry) string {
	msg := entry.Message
	stamp := msg.Timestamp.Local().Format("15:04")
	style := color.White
	if t.prefs.DarkMode {
		style = color.LightWhite
	}
	if msg.SenderID == t.selfID {
		style = color.Blue
		if t.prefs.DarkMode {
			style = color.Cyan
		}
	}
	text := fmt.Sprintf("[%s] %s: %s", stamp, t.name(msg.SenderID), msg.Content)

	switch entry.Status {
	case client.StatusPending:
		return color.Gray.Sprint(text + " (sending)")
	case client.StatusFailed:
		return color.Red.Sprintf("%s (failed: %s, /retry %s)", text, entry.Error, entry.TempID)
	}
	if msg.SenderID == t.selfID && msg.DeliveryState == entity.DeliveryRead {
		text += " ✓✓"
	}
	return style.Sprint(text)
}

// flush prints entries that have not been shown yet.
func (t *transcript) flush() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.view == nil {
		return
	}

	for _, entry := range t.view.Entries() {
		key := entry.Key()
		if entry.Status == client.StatusFailed {
			key = "failed:" + entry.TempID
		}
		if t.printed[key] {
			continue
		}
		t.printed[key] = true
		// Confirmed own messages were already shown while pending.
		if entry.Status == client.StatusConfirmed && entry.TempID != "" && t.printed[entry.TempID] {
			continue
		}

		fmt.Println(t.line(entry))
		if entry.Status == client.StatusConfirmed && entry.Message.SenderID != t.selfID && t.prefs.Notifications {
			fmt.Print("\a")
		}
	}

	typing := strings.Join(t.typingNames(), ", ")
	if typing != t.typing {
		t.typing = typing
		if typing != "" {
			color.Gray.Printf("%s typing...\n", typing)
		}
	}
}

func (t *transcript) typingNames() []string {
	var names []string
	for _, userID := range t.view.TypingUsers(time.Now()) {
		names = append(names, t.name(userID))
	}
	return names
}

// older loads one earlier page and prints it above a marker.
func (t *transcript) older(ctx context.Context) error {
	before := t.view.Entries()
	added, err := t.view.LoadOlder(ctx)
	if err != nil {
		return err
	}
	if added == 0 {
		fmt.Println("No earlier messages.")
		return nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	color.Gray.Println("--- earlier ---")
	for _, entry := range t.view.Entries() {
		if len(before) > 0 && entry.Key() == before[0].Key() {
			break
		}
		fmt.Println(t.line(entry))
		t.printed[entry.Key()] = true
	}
	color.Gray.Println("---")
	return nil
}

func (t *transcript) markRead(ctx context.Context) error {
	entries := t.view.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Status == client.StatusConfirmed && entry.Message.SenderID != t.selfID {
			return t.engine.MarkRead(ctx, t.view.ID, entry.Message.ID)
		}
	}
	return nil
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Chat live in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		updates := make(chan struct{}, 1)
		var t *transcript
		engine, err := requireLogin(client.Options{
			OnUpdate: func(string) {
				select {
				case updates <- struct{}{}:
				default:
				}
			},
			OnPresence: func(p client.Presence) {
				if t == nil || p.UserID == t.selfID {
					return
				}
				t.mutex.Lock()
				defer t.mutex.Unlock()
				state := color.Gray.Sprint("offline")
				if p.Online {
					state = color.Green.Sprint("online")
				}
				fmt.Printf("%s is %s\n", t.name(p.UserID), state)
			},
			OnError: func(code, message string) {
				color.Yellow.Printf("server: %s: %s\n", code, message)
			},
			OnStateChange: func(state client.ConnState) {
				if state != client.StateConnected {
					color.Gray.Printf("(%s)\n", state)
				}
			},
			OnLogout: func(reason error) {
				if reason != nil {
					color.Red.Println(describeError(reason))
				}
				stop()
			},
		})
		if err != nil {
			return err
		}
		t = newTranscript(engine)

		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Stop()

		kind := entity.KindChat
		if openGroup {
			kind = entity.KindGroup
		}
		openCtx, cancel := requestContext()
		view, err := engine.OpenView(openCtx, kind, args[0])
		cancel()
		if err != nil {
			return err
		}
		t.mutex.Lock()
		t.view = view
		t.mutex.Unlock()

		color.Gray.Println(openHelp)
		t.flush()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-updates:
					t.flush()
				}
			}
		}()

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleInput(ctx, engine, t, strings.TrimSpace(line)); quit {
					return nil
				}
			}
		}
	},
}

// handleInput runs one line of user input and reports whether to quit.
func handleInput(ctx context.Context, engine *client.Engine, t *transcript, line string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var err error
	fields := strings.Fields(line)
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case line == "/help":
		color.Gray.Println(openHelp)
	case line == "/older":
		err = t.older(reqCtx)
	case line == "/read":
		err = t.markRead(reqCtx)
	case fields[0] == "/retry":
		if len(fields) != 2 {
			fmt.Println("usage: /retry <id>")
			return false
		}
		_, err = engine.Retry(reqCtx, t.view.ID, fields[1])
	case strings.HasPrefix(line, "/"):
		fmt.Printf("Unknown command %s. Type /help.\n", fields[0])
	default:
		_, err = engine.SendMessage(reqCtx, t.view.ID, line)
	}

	t.flush()
	if err != nil {
		color.Red.Println(describeError(err))
	}
	return false
}

func init() {
	openCmd.Flags().BoolVar(&openGroup, "group", false, "The ID is a group")
	rootCmd.AddCommand(openCmd)
}
