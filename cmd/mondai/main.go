// Package main is the mondai CLI entry point.
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
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/chunkstore"
	"github.com/hyperjump/mondai/internal/cli"
	"github.com/hyperjump/mondai/internal/config"
	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/internal/pipeline"
	"github.com/hyperjump/mondai/internal/server"
	"github.com/hyperjump/mondai/internal/storage"
	"github.com/hyperjump/mondai/internal/watcher"
	"github.com/hyperjump/mondai/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mondai/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists. A missing default file yields the built-in
// defaults. Secrets are then read from the environment, after an optional .env.
// Returns the config and the path that was actually loaded (for saving).
func loadConfig(path string) (*config.Config, string, error) {
	_ = godotenv.Load()

	resolved := path
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				resolved = fallback
			}
		}
	}

	var cfg *config.Config
	if _, err := os.Stat(resolved); errors.Is(err, os.ErrNotExist) && resolved == defaultConfigPath {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(resolved)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg, os.Getenv)
	return cfg, resolved, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "generate":
		runGenerate()
	case "validate":
		runValidate()
	case "ingest":
		runIngest()
	case "files":
		runFiles()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("mondai version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and initializes all components. It exits
// the process on failure.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	opts := []server.Option{server.WithMetrics(components.Metrics)}
	var inbox *watcher.Inbox
	if components.Indexer.HasVectorStore() {
		inbox = watcher.New(components.Indexer, cfg.Watch.Collection, cfg.Watch.Directories,
			watcher.WithExtensions(cfg.Watch.Extensions),
			watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
			watcher.WithLogger(logger),
			watcher.WithMetrics(components.Metrics))
		opts = append(opts, server.WithInbox(inbox, resolvedConfigPath))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if inbox != nil {
		if err := inbox.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go inbox.Sync()
	}

	srv := server.NewServer(components.Pipeline, components.Indexer, cfg, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	if inbox != nil {
		inbox.Stop()
	}
}

// difficultyFlags holds --easy/--medium/--hard; -1 means not given.
type difficultyFlags struct {
	easy, medium, hard *int
}

func addDifficultyFlags(fs *flag.FlagSet) difficultyFlags {
	return difficultyFlags{
		easy:   fs.Int("easy", -1, "number of easy questions (enables a difficulty mix)"),
		medium: fs.Int("medium", -1, "number of medium questions (enables a difficulty mix)"),
		hard:   fs.Int("hard", -1, "number of hard questions (enables a difficulty mix)"),
	}
}

// counts returns nil unless one of the flags was given. Flags left out keep the
// configured counts.
func (d difficultyFlags) counts(defaults generation.DifficultyCounts) *generation.DifficultyCounts {
	if *d.easy < 0 && *d.medium < 0 && *d.hard < 0 {
		return nil
	}
	c := defaults
	if *d.easy >= 0 {
		c.Easy = *d.easy
	}
	if *d.medium >= 0 {
		c.Medium = *d.medium
	}
	if *d.hard >= 0 {
		c.Hard = *d.hard
	}
	return &c
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument.
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

func printGenerateUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: mondai generate [flags] <file>\n")
	fmt.Fprintf(fs.Output(), "       mondai generate [flags] --collection <name> --saved <filename>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Modes:
  rag        retrieve context for random seed sentences (default)
  per_page   one generator call per page
  per_chunk  one generator call per chunk

Examples:
  mondai generate --n 10 lecture.pdf
  mondai generate --mode per_page --questions-per-unit 2 --validate notes.docx
  mondai generate --easy 3 --medium 5 --hard 2 --out mcqs.json lecture.pdf
  mondai generate --collection course --saved lecture.pdf --n 5
`)
}

func runGenerate() {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	n := fs.Int("n", -1, "number of questions (default from config)")
	mode := fs.String("mode", "", "generation mode: rag, per_page or per_chunk (default from config)")
	perUnit := fs.Int("questions-per-unit", 0, "questions per page or chunk in per-unit modes")
	topK := fs.Int("top-k", 0, "chunks retrieved per question in rag mode")
	maxChars := fs.Int("max-chars", 0, "chunk size in characters (default from config)")
	validate := fs.Bool("validate", false, "validate and score the generated questions")
	collection := fs.String("collection", "", "save the file to this collection, or read --saved from it")
	saved := fs.String("saved", "", "generate from a file already stored in --collection")
	out := fs.String("out", "", "also write the questions as JSON to this file")
	outputFormat := fs.String("output", "text", "output format: text or json")
	difficulty := addDifficultyFlags(fs)
	fs.Usage = func() { printGenerateUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if (*saved == "") == (fs.NArg() < 1) {
		printGenerateUsage(fs)
		os.Exit(1)
	}
	if *saved != "" && *collection == "" {
		fmt.Fprintln(os.Stderr, "--saved needs --collection")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	if !components.Pipeline.CanGenerate() {
		fmt.Fprintln(os.Stderr, "Question generator not configured: set OPENAI_API_KEY (or MONDAI_LLM_API_KEY)")
		os.Exit(1)
	}

	modeName := *mode
	if modeName == "" {
		modeName = cfg.Generation.Mode
	}
	genMode, err := generation.ParseMode(modeName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	req := pipeline.GenerateRequest{
		Request: generation.Request{
			N:                cfg.Generation.N,
			Mode:             genMode,
			QuestionsPerUnit: cfg.Generation.QuestionsPerUnit,
			TopK:             cfg.Generation.TopK,
		},
		Difficulty: difficulty.counts(cfg.Generation.Difficulty),
		Validate:   *validate || cfg.Generation.Validate,
		Collection: *collection,
	}
	if *n >= 0 {
		req.N = *n
	}
	if *perUnit > 0 {
		req.QuestionsPerUnit = *perUnit
	}
	if *topK > 0 {
		req.TopK = *topK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx := components.Indexer.WithMaxChars(*maxChars)
	var source string
	if *saved != "" {
		source = *saved
	} else {
		source = fs.Arg(0)
	}
	req.Source = filepath.Base(source)

	store, err := loadSource(ctx, idx, *collection, source, *saved != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", source, err)
		os.Exit(1)
	}

	res, err := components.Pipeline.Generate(ctx, store, req)
	if err != nil && res == nil {
		fmt.Fprintf(os.Stderr, "Generation failed: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generation interrupted, keeping %d question(s): %v\n", len(res.MCQs), err)
	}
	if *out != "" {
		if werr := writeMCQFile(*out, res.MCQs); werr != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, werr)
			os.Exit(1)
		}
	}
	if werr := cli.WriteResult(os.Stdout, res, format); werr != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", werr)
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}
}

// loadSource returns the chunk store for a local file, saving it to collection
// when one is given, or for a file already stored in collection.
func loadSource(ctx context.Context, idx *indexer.Indexer, collection, source string, stored bool) (*chunkstore.Store, error) {
	if stored {
		return idx.LoadFile(ctx, collection, source)
	}
	store, err := idx.BuildStore(source)
	if err != nil {
		return nil, err
	}
	if collection != "" {
		if _, err := idx.SaveStore(ctx, collection, store, true); err != nil {
			return nil, fmt.Errorf("save to %s: %w", collection, err)
		}
	}
	return store, nil
}

func writeMCQFile(path string, mcqs models.MCQSet) error {
	var buf bytes.Buffer
	if err := cli.WriteJSON(&buf, mcqs); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func runValidate() {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	maxChars := fs.Int("max-chars", 0, "chunk size in characters (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mondai validate [flags] <mcqs.json> <source-file>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read questions: %v\n", err)
		os.Exit(1)
	}
	mcqs, err := models.DecodeMCQSet(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid questions file: %v\n", err)
		os.Exit(1)
	}

	_, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	store, err := components.Indexer.WithMaxChars(*maxChars).BuildStore(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", fs.Arg(1), err)
		os.Exit(1)
	}
	res, err := components.Pipeline.Validate(context.Background(), store, mcqs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	collection := fs.String("collection", "", "target collection (default from config)")
	overwrite := fs.Bool("overwrite", true, "replace chunks of files already in the collection")
	maxChars := fs.Int("max-chars", 0, "chunk size in characters (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mondai ingest [flags] <file-or-directory>...\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	if !components.Indexer.HasVectorStore() {
		fmt.Fprintln(os.Stderr, indexer.ErrNoVectorStore)
		os.Exit(1)
	}
	coll := *collection
	if coll == "" {
		coll = cfg.VectorStore.Collection
	}

	ctx := context.Background()
	idx := components.Indexer.WithMaxChars(*maxChars)
	var results []indexer.SaveResult
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			results = append(results, indexer.SaveResult{Filename: path, Error: err.Error()})
			continue
		}
		if info.IsDir() {
			rs, err := idx.SaveDirectory(ctx, coll, path, cfg.Watch.Extensions, *overwrite)
			if err != nil {
				results = append(results, indexer.SaveResult{Filename: path, Error: err.Error()})
			}
			results = append(results, rs...)
			continue
		}
		res, err := idx.SaveFile(ctx, coll, path, "", *overwrite)
		if err != nil {
			res.Filename = filepath.Base(path)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	failed, err := cli.WriteSaveResults(os.Stdout, results, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runFiles() {
	fs := flag.NewFlagSet("files", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	collection := fs.String("collection", "", "collection (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mondai files [flags] [list | delete <filename>]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sub := "list"
	if fs.NArg() > 0 {
		sub = fs.Arg(0)
	}

	cfg, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	coll := *collection
	if coll == "" {
		coll = cfg.VectorStore.Collection
	}
	ctx := context.Background()

	switch sub {
	case "list":
		files, err := components.Indexer.ListFiles(ctx, coll)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteFiles(os.Stdout, coll, files, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "delete":
		if fs.NArg() < 2 {
			fs.Usage()
			os.Exit(1)
		}
		if err := components.Indexer.DeleteFile(ctx, coll, fs.Arg(1)); err != nil {
			fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %s from %s\n", fs.Arg(1), coll)
	default:
		fmt.Fprintf(os.Stderr, "Unknown files subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: mondai watch <add|remove|list> [path]")
		fmt.Println("  mondai watch add <path>     Add directory to the inbox")
		fmt.Println("  mondai watch remove <path>  Remove directory from the inbox")
		fmt.Println("  mondai watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	noSync := fs.Bool("no-sync", false, "do not ingest files already in an added directory")
	_ = fs.Parse(argsReorder(os.Args[3:]))

	var err error
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: mondai watch add <path>")
			os.Exit(1)
		}
		var path string
		if path, err = filepath.Abs(fs.Arg(0)); err == nil {
			err = watchAdd(http.DefaultClient, *serverURL, path, !*noSync)
		}
		if err == nil {
			fmt.Printf("Added: %s\n", path)
		}
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: mondai watch remove <path>")
			os.Exit(1)
		}
		var path string
		if path, err = filepath.Abs(fs.Arg(0)); err == nil {
			err = watchRemove(http.DefaultClient, *serverURL, path)
		}
		if err == nil {
			fmt.Printf("Removed: %s\n", path)
		}
	case "list":
		var dirs []string
		dirs, err = watchList(http.DefaultClient, *serverURL)
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

func watchAdd(client *http.Client, serverURL, path string, sync bool) error {
	body, _ := json.Marshal(map[string]any{"path": path, "sync": sync})
	resp, err := client.Post(serverURL+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return expectStatus(resp, http.StatusCreated)
}

func watchRemove(client *http.Client, serverURL, path string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return expectStatus(resp, http.StatusOK)
}

func watchList(client *http.Client, serverURL string) ([]string, error) {
	resp, err := client.Get(serverURL + "/api/v1/watch/directories")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Directories, nil
}

func expectStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read local config and storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status map[string]any
	if *serverURL != "" {
		status, err = statusViaHTTP(http.DefaultClient, *serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, resolved, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		status = localStatus(cfg, resolved)
	}

	if format == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, status)
		return
	}
	writeStatusText(os.Stdout, status, "")
}

// localStatus summarizes the configuration without starting any component.
func localStatus(cfg *config.Config, configPath string) map[string]any {
	status := map[string]any{
		"config_path": configPath,
		"embedding": map[string]any{
			"provider":   cfg.Embedding.Provider,
			"dimensions": cfg.Embedding.Dimensions,
			"index_type": cfg.Embedding.IndexType,
		},
		"vector_store": map[string]any{
			"backend":    cfg.VectorStore.Backend,
			"collection": cfg.VectorStore.Collection,
		},
		"llm": map[string]any{
			"model":      cfg.LLM.Model,
			"base_url":   cfg.LLM.BaseURL,
			"configured": cfg.LLM.APIKey != "",
		},
		"watch": map[string]any{
			"directories": cfg.Watch.Directories,
			"collection":  cfg.Watch.Collection,
		},
	}
	paths := storage.DatabaseFiles(cfg.Storage.DatabasePath)
	if diskBytes, err := storage.DiskUsageBytes(append(paths, cfg.Storage.RunLogPath)...); err == nil {
		status["disk_usage_bytes"] = diskBytes
	}
	return status
}

func statusViaHTTP(client *http.Client, serverURL string) (map[string]any, error) {
	resp, err := client.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var s map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
}

// writeStatusText prints nested status maps as indented key: value lines, sorted by key.
func writeStatusText(w io.Writer, status map[string]any, indent string) {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := status[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			writeStatusText(w, v, indent+"  ")
		default:
			fmt.Fprintf(w, "%s%-20s %v\n", indent, k+":", v)
		}
	}
}

func printUsage() {
	fmt.Println(`mondai - Multiple-choice question generation and validation

Usage:
  mondai server [flags]                     Start the HTTP server
  mondai generate [flags] <file>            Generate questions from a document
  mondai validate [flags] <mcqs> <file>     Validate questions against a document
  mondai ingest [flags] <path>...           Save documents to a vector store collection
  mondai files [flags] [list|delete <name>] List or delete stored files
  mondai status [flags]                     Show configuration and storage status
  mondai watch <add|remove|list>            Manage inbox directories of a running server
  mondai version                            Show version
  mondai help                               Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/mondai/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging

Generate Flags:
  --n int                     Number of questions (default from config)
  --mode string               rag, per_page or per_chunk
  --questions-per-unit int    Questions per page or chunk
  --top-k int                 Chunks retrieved per question in rag mode
  --easy/--medium/--hard int  Difficulty mix; counts left out keep their configured value
  --validate                  Validate and score the generated questions
  --collection string         Save the document to a collection (or read --saved from it)
  --saved string              Generate from a stored file
  --out string                Write the questions as JSON to a file
  --output string             text or json

Secrets are read from the environment (or a .env file):
  OPENAI_API_KEY, MONDAI_LLM_BASE_URL, QDRANT_API_KEY

Examples:
  mondai server
  mondai generate --n 10 --validate lecture.pdf
  mondai generate --easy 2 --hard 1 --output json notes.md
  mondai validate mcqs.json lecture.pdf
  mondai ingest --collection course ./slides
  mondai files --collection course
  mondai files --collection course delete lecture.pdf
  mondai status --server ""
  mondai watch add /path/to/inbox`)
}
