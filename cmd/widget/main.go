package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"assist-chat/projection"
	"assist-chat/widget"
)

type Config struct {
	ServerWSURL   string        `env:"SERVER_WS_URL,default=ws://localhost:8080/ws"`
	ServerHTTPURL string        `env:"SERVER_HTTP_URL,default=http://localhost:8080"`
	IdentityFile  string        `env:"IDENTITY_FILE"`
	TypingWindow  time.Duration `env:"TYPING_WINDOW,default=2s"`
	LogLevel      string        `env:"LOG_LEVEL,default=WARN"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Widget terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if config.IdentityFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		config.IdentityFile = filepath.Join(home, ".assist-chat", "identity.json")
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	identity, err := widget.NewIdentityStore(config.IdentityFile)
	if err != nil {
		return err
	}
	channel := widget.NewSocketChannel(log, config.ServerWSURL)
	history := widget.NewHTTPHistoryLoader(config.ServerHTTPURL, 10*time.Second)
	sync := widget.NewSynchronizer(log, channel, history, identity, config.TypingWindow)
	defer sync.Shutdown()

	if err := sync.Open(); err != nil {
		return err
	}
	color.Cyan.Println("Support chat. Type a message, /close, /open or /quit.")

	go renderLoop(log, sync)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/close":
			sync.Close()
			color.Gray.Println("Widget closed. /open resumes the conversation.")
		case "/open":
			if err := sync.Open(); err != nil {
				color.Red.Printf("Cannot reopen: %v\n", err)
			}
		default:
			sync.InputChanged()
			if err := sync.Send(line); err != nil {
				color.Red.Printf("Not sent: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

// renderLoop prints transcript growth and state transitions as snapshots
// arrive.
func renderLoop(log *slog.Logger, sync *widget.Synchronizer) {
	var lastState widget.State
	var lastBanner string
	rendered := 0

	for snapshot := range sync.Updates() {
		if snapshot.State != lastState {
			lastState = snapshot.State
			color.Gray.Printf("[%s]\n", snapshot.State)
		}
		if snapshot.Banner != "" && snapshot.Banner != lastBanner {
			color.Red.Printf("! %s\n", snapshot.Banner)
		}
		lastBanner = snapshot.Banner

		timeline := projection.Build(snapshot)
		total := len(snapshot.Messages)
		if total < rendered {
			// The conversation was invalidated and restarted.
			rendered = 0
			color.Gray.Println("--- conversation reset ---")
		}
		printNew(timeline, rendered)
		rendered = total

		if snapshot.PeerTyping {
			color.Gray.Println("support is typing...")
		}
		log.Debug("Snapshot rendered", "state", snapshot.State.String(), "messages", total)
	}
}

func printNew(timeline projection.Timeline, rendered int) {
	seen := 0
	for _, day := range timeline.Days {
		for _, m := range day.Messages {
			seen++
			if seen <= rendered {
				continue
			}
			suffix := ""
			if m.Pending {
				suffix = " (sending...)"
			}
			if m.Sender == "visitor" {
				color.Green.Printf("you: %s%s\n", m.Text, suffix)
			} else {
				color.Yellow.Printf("support: %s\n", m.Text)
			}
		}
	}
}
