package runtime

import (
	"embed"
	"log/slog"
	"time"

	"assist-chat/contract"
	"assist-chat/moderation"
	"assist-chat/observability"
	"assist-chat/runtime/workers"
)

//go:embed censored/*
var censoredFolder embed.FS

// PrepareModeration loads the embedded dictionaries and builds the
// Aho-Corasick automaton. Heavy I/O and CPU work happens here, before any
// worker starts.
func PrepareModeration(log *slog.Logger, charReplacement rune) (*moderation.Moderator, error) {
	data, err := NewCensoredLoader(censoredFolder).LoadAll("censored")
	if err != nil {
		return nil, err
	}
	log.Info("Censored dictionaries loaded", "languages", data.Languages, "words", len(data.Words))
	return moderation.NewModerator(data.Words, charReplacement, log)
}

// PrepareFanout wires the session manager pipeline onto a fanout worker.
func PrepareFanout(log *slog.Logger, manager *SessionManager, registry contract.IRegistry,
	monitor *observability.Monitor, sinkTimeout time.Duration,
	permanentSinks ...contract.EventSink) contract.Worker {
	return workers.NewFanoutWorker(log, manager.Events(), registry, monitor, sinkTimeout, permanentSinks...)
}
