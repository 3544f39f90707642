package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"

	"assist-chat/auth"
	"assist-chat/infrastructure/httpapi"
	"assist-chat/infrastructure/ws"
	"assist-chat/observability"
	"assist-chat/repositories"
	"assist-chat/runtime"
	"assist-chat/runtime/workers"
	"assist-chat/search"
	"assist-chat/services"
	"assist-chat/widget"
)

// BaseChatSuite boots a complete in-process server (badger, bluge, fanout
// pipeline, websocket gateway, REST endpoints) for every test, and builds
// real widgets against it.
type BaseChatSuite struct {
	suite.Suite
	Config Config

	log     *slog.Logger
	server  *httptest.Server
	chat    *services.ChatService
	issuer  *auth.TokenIssuer
	index   *search.MessageIndex
	db      *badger.DB
	stopSup context.CancelFunc
	supDone chan struct{}
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseChatSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.log = logs.GetLoggerFromLevel(slog.LevelWarn)
}

func (s *BaseChatSuite) SetupTest() {
	req := s.Require()

	db, err := badger.Open(badger.DefaultOptions(s.T().TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	s.db = db

	index, err := search.Open(filepath.Join(s.T().TempDir(), "bluge"), s.log)
	req.NoError(err)
	s.index = index

	moderator, err := runtime.PrepareModeration(s.log, '*')
	req.NoError(err)

	registry := runtime.NewRegistry()
	manager := runtime.NewSessionManager(s.log,
		repositories.NewConversationRepository(db, s.log),
		repositories.NewMessageRepository(db, s.log, nil),
		registry, moderator, 64)
	s.chat = services.NewChatService(manager)

	monitor := observability.NewMonitor(s.log)
	ctx, cancel := context.WithCancel(context.Background())
	s.stopSup = cancel
	s.supDone = make(chan struct{})
	sup := workers.NewSupervisor(s.log)
	sup.Add(runtime.PrepareFanout(s.log, manager, registry, monitor, s.Config.SinkTimeout, index))
	go func() {
		defer close(s.supDone)
		sup.Run(ctx)
	}()

	passwordHash, err := auth.HashPassword(s.Config.AdminSecret)
	req.NoError(err)
	s.issuer = auth.NewTokenIssuer("e2e-secret", time.Hour)
	gateway := ws.NewGateway(s.log, s.chat, s.issuer, monitor, 1024, 1024)
	api := httpapi.NewServer(s.log, s.chat, index, s.issuer, s.Config.AdminEmail, passwordHash)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", gateway.HandleWS)
	api.Register(mux)
	s.server = httptest.NewServer(mux)
}

func (s *BaseChatSuite) TearDownTest() {
	s.server.Close()
	s.stopSup()
	<-s.supDone
	s.Require().NoError(s.index.Close())
	s.Require().NoError(s.db.Close())
}

// NewWidget builds a real widget wired to the in-process server. identityDir
// decides whether two widgets share the same visitor.
func (s *BaseChatSuite) NewWidget(identityDir string) *widget.Synchronizer {
	identity, err := widget.NewIdentityStore(filepath.Join(identityDir, "identity.json"))
	s.Require().NoError(err)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	channel := widget.NewSocketChannel(s.log, wsURL)
	history := widget.NewHTTPHistoryLoader(s.server.URL, 5*time.Second)
	return widget.NewSynchronizer(s.log, channel, history, identity, s.Config.TypingWindow)
}

// WaitFor polls the widget until cond holds on a snapshot.
func (s *BaseChatSuite) WaitFor(w *widget.Synchronizer, cond func(widget.Snapshot) bool) {
	s.Require().Eventually(func() bool {
		return cond(w.Snapshot())
	}, 5*time.Second, 10*time.Millisecond)
}

// Step prints a colorized scenario header in the logs.
func (s *BaseChatSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}
