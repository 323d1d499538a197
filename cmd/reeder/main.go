package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/glabrego/reeder-query/internal/app"
	"github.com/glabrego/reeder-query/internal/config"
	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/query"
	"github.com/glabrego/reeder-query/internal/storage"
	"github.com/glabrego/reeder-query/internal/tui"
)

const janitorInterval = time.Minute

type filterFlags struct {
	State   string   `name:"state" enum:"all,unread,read" default:"all" help:"Read state: all, unread or read."`
	Folders []string `name:"folder" help:"Folder ids to scope to."`
	Tags    []string `name:"tag" help:"Tag ids to scope to."`
	Search  string   `name:"search" help:"Full-text search term."`
}

func (f filterFlags) spec() query.FilterSpec {
	spec := query.FilterSpec{FolderIDs: trimAll(f.Folders), TagIDs: trimAll(f.Tags), Search: f.Search}
	switch f.State {
	case "unread":
		spec.ReadState = query.UnreadOnly
	case "read":
		spec.ReadState = query.ReadOnly
	}
	return spec
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type cli struct {
	config.Config `embed:""`

	TUI    tuiCmd    `cmd:"" default:"withargs" help:"Browse articles interactively."`
	List   listCmd   `cmd:"" help:"Print articles for a filter."`
	Mark   markCmd   `cmd:"" help:"Mark an article read or unread."`
	Move   moveCmd   `cmd:"" help:"Move an article to another folder."`
	Cached cachedCmd `cmd:"" help:"Print articles from the local cache without network access."`
	Prune  pruneCmd  `cmd:"" help:"Delete persisted listings older than a cutoff."`
}

type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	repo    *storage.Repository
	service *app.Service
}

type tuiCmd struct {
	filterFlags `embed:""`
}

func (c *tuiCmd) Run(rt *runtime) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	warmCtx, warmCancel := context.WithTimeout(ctx, 5*time.Second)
	if _, err := rt.service.Warm(warmCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not warm listings (%v), starting cold\n", err)
	}
	warmCancel()

	go rt.service.RunJanitor(ctx, janitorInterval)

	model, err := tui.NewModel(rt.service, c.spec())
	if err != nil {
		return err
	}

	program := tea.NewProgram(model, tea.WithAltScreen())
	final, runErr := program.Run()
	if m, ok := final.(tui.Model); ok {
		m.Close()
	} else {
		model.Close()
	}

	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()
	if err := rt.service.Persist(persistCtx); err != nil {
		rt.logger.Warn("persist listings on exit failed", "error", err)
	}
	if runErr != nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}

type listCmd struct {
	filterFlags `embed:""`
	Pages int `name:"pages" default:"1" help:"Number of pages to load."`
}

func (c *listCmd) Run(rt *runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := rt.service.List(ctx, c.spec(), c.Pages)
	if err != nil && len(snap.Items) == 0 {
		return err
	}
	printArticles(snap.Items)

	total := fmt.Sprintf("%d", snap.Total)
	if snap.Total == feedapi.UnknownTotal {
		total = "?"
	}
	fmt.Printf("\n%d of %s shown", len(snap.Items), total)
	if snap.HasMore {
		fmt.Print(", more available")
	}
	fmt.Println()
	if err != nil {
		return fmt.Errorf("listing incomplete: %w", err)
	}

	if err := rt.service.Persist(ctx); err != nil {
		rt.logger.Warn("persist listings failed", "error", err)
	}
	return nil
}

type markCmd struct {
	ArticleID string `arg:"" name:"article-id" help:"Article to update."`
	Unread    bool   `name:"unread" help:"Mark unread instead of read."`
}

func (c *markCmd) Run(rt *runtime) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := rt.service.SetRead(ctx, c.ArticleID, !c.Unread)
	if err != nil {
		return err
	}
	state := "read"
	if c.Unread {
		state = "unread"
	}
	fmt.Printf("%s marked %s, %d cached listings invalidated\n", c.ArticleID, state, len(result.Keys))
	return nil
}

type moveCmd struct {
	ArticleID string `arg:"" name:"article-id" help:"Article to move."`
	FolderID  string `arg:"" name:"folder-id" help:"Destination folder."`
}

func (c *moveCmd) Run(rt *runtime) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := rt.service.MoveToFolder(ctx, c.ArticleID, c.FolderID)
	if err != nil {
		return err
	}
	fmt.Printf("%s moved to %s, %d cached listings invalidated\n", c.ArticleID, c.FolderID, len(result.Keys))
	return nil
}

type cachedCmd struct {
	Limit int `name:"limit" default:"50" help:"Maximum articles to print."`
}

func (c *cachedCmd) Run(rt *runtime) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	articles, err := rt.service.ListCached(ctx, c.Limit)
	if err != nil {
		return err
	}
	printArticles(articles)
	return nil
}

type pruneCmd struct {
	OlderThan time.Duration `name:"older-than" default:"168h" help:"Age after which persisted listings are deleted."`
}

func (c *pruneCmd) Run(rt *runtime) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := rt.repo.PruneListings(ctx, time.Now().Add(-c.OlderThan))
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d listings\n", n)
	return nil
}

func printArticles(articles []feedapi.Article) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, a := range articles {
		marker := "•"
		if a.IsRead {
			marker = " "
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			marker, a.ID, a.PublishedAt.UTC().Format(time.DateOnly), a.FeedTitle, strings.TrimSpace(a.Title))
	}
	w.Flush()
}

func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: cfg.Level()}))
	return logger, func() { f.Close() }, nil
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		append(config.Options(config.DefaultPath()),
			kong.Name("reeder"),
			kong.Description("Browse and triage articles from the terminal."),
			kong.UsageOnError(),
		)...,
	)

	cfg := c.Config
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	repo, err := storage.NewRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}
	defer repo.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = repo.Init(initCtx)
	initCancel()
	if err != nil {
		log.Fatalf("storage schema error: %v. Verify REEDER_DB_PATH is writable: %s", err, cfg.DBPath)
	}

	client := feedapi.NewClient(cfg.APIBaseURL, cfg.Token, nil)
	service := app.NewService(client, repo,
		app.WithLogger(logger),
		app.WithPageSize(cfg.PageSize),
		app.WithCache(cfg.CacheTTL, cfg.CacheMaxEntries),
	)

	rt := &runtime{cfg: cfg, logger: logger, repo: repo, service: service}
	if err := kctx.Run(rt); err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		closeLog()
		repo.Close()
		log.Fatalf("%s: %v", kctx.Command(), err)
	}
}
