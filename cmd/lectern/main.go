// Package main is the lectern CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/lectern/internal/cli"
	"github.com/hyperjump/lectern/internal/config"
	"github.com/hyperjump/lectern/internal/models"
	"github.com/hyperjump/lectern/internal/rag"
	"github.com/hyperjump/lectern/internal/server"
	"github.com/hyperjump/lectern/internal/watcher"
	"github.com/hyperjump/lectern/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/lectern/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, and a missing default file yields the built-in defaults.
// Returns the config and the path it belongs to (used when saving watched directories).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			config.ApplyEnv(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	server.Version = version
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "courses":
		runCourses()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("lectern version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// openSystem loads config and builds the RAG system for one-shot commands.
func openSystem(configPath string) (*rag.System, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewQuietLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	sys, err := rag.New(context.Background(), cfg, rag.WithLogger(logger))
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return sys, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys, err := rag.New(ctx, cfg, rag.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer sys.Close()

	courses, chunks, err := sys.LoadDocuments(ctx)
	if err != nil {
		logger.Error("initial document load failed", zap.Error(err))
	} else {
		logger.Info("documents loaded", zap.Int("courses", courses), zap.Int("chunks", chunks))
	}

	var srvOpts []server.Option
	if cfg.Docs.Watch {
		w := watcher.NewWatcher(sys, cfg.Docs.Directories, cfg.Docs.Extensions, cfg.Docs.RecursiveOrDefault(),
			watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		srvOpts = append(srvOpts, server.WithWatchService(w, resolvedConfigPath))
	}

	srv := server.NewServer(sys, cfg, logger, srvOpts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clearExisting := fs.Bool("clear", false, "remove all stored courses before ingesting")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	sys, logger := openSystem(*configPath)
	defer logger.Sync()
	defer sys.Close()
	ctx := context.Background()

	if fs.NArg() == 0 {
		if *clearExisting {
			sys.Config().Docs.ClearOnStartup = true
		}
		courses, chunks, err := sys.LoadDocuments(ctx)
		if err != nil {
			fatalf("Ingest failed: %v", err)
		}
		fmt.Printf("Ingested %d course(s), %d chunk(s) from configured directories\n", courses, chunks)
		return
	}

	if *clearExisting {
		if err := sys.Clear(ctx); err != nil {
			fatalf("Clear failed: %v", err)
		}
	}
	for _, path := range fs.Args() {
		abs, err := filepath.Abs(path)
		if err != nil {
			fatalf("Invalid path %s: %v", path, err)
		}
		courses, chunks, err := sys.IngestPath(ctx, abs)
		if err != nil {
			fatalf("Ingest of %s failed: %v", abs, err)
		}
		fmt.Printf("Ingested %d course(s), %d chunk(s) from %s\n", courses, chunks, abs)
	}
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front, since flag parsing stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word questions work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open storage directly)")
	sessionID := fs.String("session", "", "session ID to continue a conversation")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuery(fs.Args())
	if question == "" {
		fmt.Println("Usage: lectern query [flags] <question>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	req := models.QueryRequest{Query: question, SessionID: *sessionID}

	var resp models.QueryResponse
	if *serverURL != "" {
		if err := apiRequest(http.MethodPost, *serverURL+"/api/query", req, http.StatusOK, &resp); err != nil {
			fatalf("Query failed: %v", err)
		}
	} else {
		sys, logger := openSystem(*configPath)
		defer logger.Sync()
		defer sys.Close()
		out, err := sys.Query(context.Background(), req.Query, req.SessionID)
		if err != nil {
			fatalf("Query failed: %v", err)
		}
		resp = *out
	}
	if err := cli.WriteAnswer(os.Stdout, &resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runCourses() {
	fs := flag.NewFlagSet("courses", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)
	name := buildQuery(fs.Args())

	if *serverURL != "" {
		if name != "" {
			var course models.Course
			if err := apiRequest(http.MethodGet, *serverURL+"/api/courses/"+url.PathEscape(name), nil, http.StatusOK, &course); err != nil {
				fatalf("Course lookup failed: %v", err)
			}
			writeOrDie(cli.WriteCourse(os.Stdout, &course, format))
			return
		}
		var catalog models.CourseCatalog
		if err := apiRequest(http.MethodGet, *serverURL+"/api/courses", nil, http.StatusOK, &catalog); err != nil {
			fatalf("Listing courses failed: %v", err)
		}
		writeOrDie(cli.WriteCourses(os.Stdout, &catalog, format))
		return
	}

	sys, logger := openSystem(*configPath)
	defer logger.Sync()
	defer sys.Close()
	ctx := context.Background()
	if name != "" {
		course, err := sys.Course(ctx, name)
		if err != nil {
			course, err = sys.Outline(ctx, name)
		}
		if err != nil {
			fatalf("Course lookup failed: %v", err)
		}
		writeOrDie(cli.WriteCourse(os.Stdout, course, format))
		return
	}
	catalog, err := sys.Courses(ctx)
	if err != nil {
		fatalf("Listing courses failed: %v", err)
	}
	writeOrDie(cli.WriteCourses(os.Stdout, catalog, format))
}

func writeOrDie(err error) {
	if err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open storage directly)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: lectern delete [flags] <course-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	if *serverURL != "" {
		if err := apiRequest(http.MethodDelete, *serverURL+"/api/courses/"+url.PathEscape(id), nil, http.StatusOK, nil); err != nil {
			fatalf("Deletion failed: %v", err)
		}
	} else {
		sys, logger := openSystem(*configPath)
		defer logger.Sync()
		defer sys.Close()
		if err := sys.DeleteCourse(context.Background(), id); err != nil {
			fatalf("Deletion failed: %v", err)
		}
	}
	fmt.Printf("Course deleted: %s\n", id)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var report cli.StatusReport
	if *serverURL != "" {
		if err := apiRequest(http.MethodGet, *serverURL+"/api/status", nil, http.StatusOK, &report); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		sys, logger := openSystem(*configPath)
		defer logger.Sync()
		defer sys.Close()
		st, err := sys.Status(context.Background())
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		report = cli.StatusReport{Version: version, Status: st}
	}
	writeOrDie(cli.WriteStatus(os.Stdout, &report, format))
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: lectern watch <add|remove|list> [path]")
		fmt.Println("  lectern watch add <path>     Add directory to watch")
		fmt.Println("  lectern watch remove <path>  Remove directory from watch")
		fmt.Println("  lectern watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	endpoint := *serverURL + "/api/watch/directories"

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: lectern watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body := map[string]interface{}{"path": path, "sync": true}
		if err := apiRequest(http.MethodPost, endpoint, body, http.StatusCreated, nil); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: lectern watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := apiRequest(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil, http.StatusOK, nil); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := apiRequest(http.MethodGet, endpoint, nil, http.StatusOK, &out); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

var apiClient = &http.Client{Timeout: 150 * time.Second}

// apiRequest sends body as JSON and decodes the response into out when out is non-nil.
// A status other than want is returned as an error carrying the server's message.
func apiRequest(method, endpoint string, body interface{}, want int, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, endpoint, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`lectern - Course materials question answering

Usage:
  lectern server [flags]             Start the HTTP server
  lectern ingest [flags] [path...]   Ingest course documents (default: configured directories)
  lectern query [flags] <question>   Ask a question about the courses
  lectern courses [flags] [course]   List courses, or show one course outline
  lectern delete [flags] <id>        Delete a course
  lectern status [flags]             Show storage/index status
  lectern watch <add|remove|list>    Manage watched directories of a running server
  lectern version                    Show version
  lectern help                       Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/lectern/config.yaml,
                     or ./config.yaml when present)
  --server string    Server URL for query/courses/delete/status. Empty opens storage directly.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --clear            Remove all stored courses first

Query Flags:
  --session string   Continue an existing session

Watch Flags:
  --server string    Server URL (default: http://localhost:8000)

Examples:
  lectern server
  lectern ingest ./docs
  lectern query what does lesson 2 of the MCP course cover
  lectern query --server http://localhost:8000 --output json "What is RAG?"
  lectern courses
  lectern courses "Advanced Retrieval"
  lectern status --output json
  lectern watch add /path/to/docs`)
}
