package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"interviewd/internal/engine"
	"interviewd/internal/handler"
	"interviewd/internal/model"
	"interviewd/internal/store"
	"interviewd/internal/stream"
	"interviewd/internal/ws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "interviewd",
		Short: "Automated spoken-interview engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the interview server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "interviewd.db", "SQLite database path")
	f.StringSliceP("questions", "q", []string{"questions/sample_en.json"}, "Paths to questions JSON files (repeatable)")
	f.String("uploads-dir", "uploads", "Directory for recorded audio resources")
	f.Duration("idle-timeout", stream.DefaultIdleTimeout, "Close audio streams after this much inactivity")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export completed interview reports as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "interviewd.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("INTERVIEWD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("interviewd")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/interviewd")
	v.AddConfigPath("/etc/interviewd")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := loadQuestions(db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	uploadsDir := v.GetString("uploads-dir")
	registry, err := stream.NewRegistry(filepath.Join(uploadsDir, "audio"), v.GetDuration("idle-timeout"))
	if err != nil {
		return fmt.Errorf("create stream registry: %w", err)
	}

	eng := engine.New(db)
	h := handler.New(eng, registry, db)
	wsServer := ws.NewServer(eng, registry)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)
	r.Get("/ws", wsServer.Handle)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadsDir))))

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"uploads_dir", uploadsDir,
		"idle_timeout", v.GetDuration("idle-timeout"),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.New(db)
	sessions, err := db.ListSessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	type sessionExport struct {
		Candidate model.Candidate `json:"candidate"`
		Category  model.Category  `json:"category"`
		StartedAt time.Time       `json:"started_at"`
		Report    *model.Report   `json:"report"`
	}
	var exports []sessionExport
	for _, sess := range sessions {
		if !sess.Completed {
			continue
		}
		report, err := eng.Report(sess.ID)
		if err != nil {
			return fmt.Errorf("build report for session %d: %w", sess.ID, err)
		}
		exports = append(exports, sessionExport{
			Candidate: sess.Candidate,
			Category:  sess.Category,
			StartedAt: sess.CreatedAt,
			Report:    report,
		})
	}

	data, err := json.MarshalIndent(exports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadQuestions imports question files, skipping files whose content
// hash is already recorded so restarts do not duplicate the bank.
func loadQuestions(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to avoid breaking existing sessions",
				"path", path)
			continue
		}

		var questions []model.QuestionImport
		if err := json.Unmarshal(data, &questions); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, qi := range questions {
			q := model.Question{
				Text:       qi.Text,
				Category:   qi.Category,
				Expected:   qi.Expected,
				Difficulty: qi.Difficulty,
				TimeLimit:  qi.TimeLimit,
			}
			if q.Difficulty == "" {
				q.Difficulty = model.DifficultyMedium
			}
			if q.TimeLimit == 0 {
				q.TimeLimit = 60
			}
			if _, err := db.InsertQuestion(q); err != nil {
				return fmt.Errorf("insert question from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(questions))
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
