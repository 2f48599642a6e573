package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"kgchat/backend/internal/agent"
	"kgchat/backend/internal/kg"
	"kgchat/backend/internal/state"
	"kgchat/backend/internal/store"
	"kgchat/backend/pkg/config"
	apperrors "kgchat/backend/pkg/errors"
	"kgchat/backend/pkg/logger"
)

// demoTranscript is used when no -file is given
const demoTranscript = `user: Alice is organizing the Berlin meetup with Bob.
assistant: Sounds fun. Is Bob presenting at the Berlin meetup?
user: Yes, Bob will talk about Graph Databases and Carol will cover Neo4j.
assistant: Got it. Carol covers Neo4j while Bob takes Graph Databases.`

func main() {
	sessionID := flag.String("session", "demo", "Session ID to seed")
	file := flag.String("file", "", "Transcript file with one \"user:\" or \"assistant:\" line per message")
	force := flag.Bool("force", false, "Replace the session even if it already exists")
	title := flag.String("title", "", "Session title (default derived from the first message)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting session seeding...", zap.String("store", cfg.StoreBackend))

	ctx := context.Background()
	s, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open session store", zap.Error(err))
	}
	defer s.Close()

	// Check if the session already exists
	existing, err := s.Load(ctx, *sessionID)
	switch {
	case err == nil && !*force:
		log.Info("Session already exists, skipping (use -force to replace)",
			zap.String("session_id", *sessionID),
			zap.Int("messages", len(existing.Messages)),
		)
		return
	case err != nil && !apperrors.IsErrorType(err, apperrors.ErrorTypeSession):
		log.Fatal("Failed to check existing session", zap.Error(err))
	}

	var src io.Reader = strings.NewReader(demoTranscript)
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatal("Failed to open transcript", zap.Error(err))
		}
		defer f.Close()
		src = f
	}

	messages, err := parseTranscript(src, time.Now())
	if err != nil {
		log.Fatal("Failed to parse transcript", zap.Error(err))
	}

	st := state.NewChatState(*sessionID, cfg.ModelID)
	st.Messages = messages
	first := ""
	if len(messages) > 0 {
		first = messages[0].Content
	}
	st.Title = agent.SessionTitle(*title, first, time.Now())

	// One checkpoint per user turn and the reply that follows it, as a live chat would produce
	engine := kg.NewEngine(
		kg.WithExtractor(kg.NewExtractor(cfg.Extractor)),
		kg.WithCliqueWarning(cfg.CliqueWarnPairs),
	)
	for i := 0; i < len(messages); i++ {
		if messages[i].Role != state.RoleUser {
			continue
		}
		text := messages[i].Content
		ts := messages[i].Timestamp
		if i+1 < len(messages) && messages[i+1].Role == state.RoleAssistant {
			text += " " + messages[i+1].Content
			ts = messages[i+1].Timestamp
		}
		st.KG, _ = engine.IngestAt(text, *sessionID, ts, st.KG)
	}

	if err := s.Save(ctx, st); err != nil {
		log.Fatal("Failed to save session", zap.Error(err))
	}

	log.Info("Seeding completed",
		zap.String("session_id", *sessionID),
		zap.Int("messages", len(st.Messages)),
		zap.Int("entities", len(st.KG.Entities)),
		zap.Int("relations", len(st.KG.Relations)),
	)
}

// parseTranscript reads "role: content" lines, spacing timestamps one second apart ending at now
func parseTranscript(r io.Reader, now time.Time) ([]state.Message, error) {
	type line struct{ role, content string }
	var lines []line

	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		role, content, ok := strings.Cut(text, ":")
		role = strings.ToLower(strings.TrimSpace(role))
		if !ok || (role != state.RoleUser && role != state.RoleAssistant) {
			return nil, fmt.Errorf("line %d: expected \"user:\" or \"assistant:\" prefix", n)
		}
		lines = append(lines, line{role: role, content: strings.TrimSpace(content)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	start := now.Add(-time.Duration(len(lines)) * time.Second)
	messages := make([]state.Message, 0, len(lines))
	for i, l := range lines {
		messages = append(messages, state.NewMessage(l.role, l.content, start.Add(time.Duration(i+1)*time.Second)))
	}
	return messages, nil
}
