package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/background"
	"github.com/lotas/tabgrouper/internal/bridge"
	"github.com/lotas/tabgrouper/internal/cdp"
	"github.com/lotas/tabgrouper/internal/client"
	"github.com/lotas/tabgrouper/internal/config"
	"github.com/lotas/tabgrouper/internal/content"
	"github.com/lotas/tabgrouper/internal/export"
	"github.com/lotas/tabgrouper/internal/firefox"
	"github.com/lotas/tabgrouper/internal/groups"
	"github.com/lotas/tabgrouper/internal/menu"
	"github.com/lotas/tabgrouper/internal/opener"
	"github.com/lotas/tabgrouper/internal/pagemeta"
	"github.com/lotas/tabgrouper/internal/server"
	"github.com/lotas/tabgrouper/internal/storage"
	"github.com/lotas/tabgrouper/internal/tui"
	"github.com/lotas/tabgrouper/internal/types"
)

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := applog.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer applog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, args)
	case "popup":
		err = runPopup(ctx, cfg, args)
	case "content":
		err = runContent(ctx, cfg)
	case "list":
		err = runList(ctx, cfg)
	case "create":
		err = runCreate(ctx, cfg, args)
	case "add":
		err = runAdd(ctx, cfg, args)
	case "remove":
		err = runRemove(ctx, cfg, args)
	case "delete":
		err = runDelete(ctx, cfg, args)
	case "open":
		err = runOpen(ctx, cfg, args)
	case "menu":
		err = runMenu(ctx, cfg)
	case "export":
		err = runExport(ctx, cfg, args)
	case "import":
		err = runImport(ctx, cfg, args)
	case "profiles":
		err = runProfiles()
	case "help", "--help", "-h":
		printHelp()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n\n", cmd)
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		applog.Error("main."+cmd, err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		applog.Close()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`tabgrouper: named groups of browser tabs

Usage:
  tabgrouper [serve]                         Run the background coordinator (default)
    --port <n>             Bridge port (default: 19192)
    --cdp <url>            Drive Chrome over DevTools instead of the extension

  tabgrouper popup                           Manage groups in a terminal UI
    --url <url>            Current tab URL (enables "add current tab")
    --title <text>         Current tab title
    --cdp <url>            Open tabs over DevTools instead of through the coordinator

  tabgrouper content                         Answer name prompts and show notifications

  tabgrouper list                            List groups and their tabs
  tabgrouper create <name>                   Create an empty group
  tabgrouper add <group> <url> [--title t]   Add a tab (title looked up when omitted)
  tabgrouper remove <group> <n>              Remove the n-th tab shown by list
  tabgrouper delete <group> [--yes]          Delete a group
  tabgrouper open <group> [--cdp url]        Open every tab of a group
  tabgrouper menu                            Print the context menu tree
  tabgrouper export [--json] [--out file]    Export groups as Markdown or JSON
  tabgrouper import [--profile name]         Import Firefox tab groups
    --ungrouped <name>     Group for tabs outside any Firefox group ("" skips them)
  tabgrouper profiles                        List Firefox profiles

Environment:
  TABGROUPER_PORT           Bridge port (default: 19192)
  TABGROUPER_DB             Database path (default: ~/.local/share/tabgrouper/tabgrouper.db)
  TABGROUPER_LOG_DIR        Log directory (default: ~/.local/share/tabgrouper)
  TABGROUPER_LOG_LEVEL      debug, info, warn or error (default: info)
  TABGROUPER_POLL_INTERVAL  How often other processes' writes are picked up (default: 1s)
  TABGROUPER_CALL_TIMEOUT   Timeout for calls into the browser (default: 10s)
  TABGROUPER_CDP_URL        Default for --cdp
  TABGROUPER_PROFILE        Default Firefox profile (overridden by --profile)
`)
}

// openRepo opens the store and loads the current groups from it.
func openRepo(ctx context.Context, cfg *config.Config) (*storage.SQLite, *groups.Repository, error) {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	repo := groups.New(store)
	if err := repo.Refresh(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, repo, nil
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

// declined turns a declined mutation into an error carrying its reason.
func declined(res groups.Result, err error) error {
	if err != nil {
		return err
	}
	if res != groups.Applied {
		return errors.New(res.Reason())
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.Port, "Bridge port")
	cdpURL := fs.String("cdp", cfg.CDPURL, "Chrome DevTools endpoint")
	fs.Parse(args)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	go store.Watch(ctx, cfg.PollInterval)

	srv := server.New(*port, cfg.CallTimeout)
	ext := bridge.NewExtension(srv)

	var (
		b opener.Browser  = ext
		d opener.Detector = ext
	)
	if *cdpURL != "" {
		cb, err := cdp.Connect(ctx, *cdpURL)
		if err != nil {
			return err
		}
		defer cb.Close()
		b, d = cb, cb
	}

	coord := background.New(background.Config{
		Repo:     repo,
		Store:    store,
		Opener:   opener.New(b, d),
		Menus:    ext,
		Notifier: bridge.NewNotifier(srv),
		Prompter: bridge.NewPrompter(srv),
		OnChange: bridge.OnChange(srv),
	})

	errc := make(chan error, 3)
	go func() { errc <- srv.ListenAndServe(ctx) }()
	go func() { errc <- bridge.Serve(ctx, srv, coord) }()
	go func() { errc <- coord.Run(ctx) }()

	fmt.Fprintf(os.Stderr, "Listening on ws://127.0.0.1:%d/ws\n", *port)
	err = <-errc
	cancel()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runPopup(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("popup", flag.ExitOnError)
	url := fs.String("url", "", "Current tab URL")
	title := fs.String("title", "", "Current tab title")
	cdpURL := fs.String("cdp", cfg.CDPURL, "Chrome DevTools endpoint")
	fs.Parse(args)

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go store.Watch(ctx, cfg.PollInterval)

	tcfg := tui.Config{Repo: repo, Changes: changes}
	if *url != "" {
		tcfg.Current = &types.TabRef{URL: *url, Title: *title}
	}

	if *cdpURL != "" {
		cb, err := cdp.Connect(ctx, *cdpURL)
		if err != nil {
			return err
		}
		defer cb.Close()
		tcfg.Browser = tui.DirectBrowser{Opener: opener.New(cb, cb)}
	} else if c, err := client.Dial(ctx, cfg.URL(string(server.SurfaceClient))); err != nil {
		applog.Warn("popup.no_coordinator", "error", err.Error())
	} else {
		defer c.Close()
		tcfg.Browser = tui.CoordinatorBrowser{Client: c}
	}

	return tui.Run(ctx, tcfg)
}

func runContent(ctx context.Context, cfg *config.Config) error {
	c, err := client.Dial(ctx, cfg.URL(string(server.SurfaceContent)))
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintln(os.Stderr, "Connected to the coordinator. Waiting for prompts...")
	err = c.Serve(ctx, content.New(os.Stdin, os.Stdout))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runList(ctx context.Context, cfg *config.Config) error {
	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	gs := repo.Groups()
	if len(gs) == 0 {
		fmt.Println("No groups yet.")
		return nil
	}
	for _, g := range gs {
		fmt.Printf("%s (%d tabs)\n", g.Name, len(g.Tabs))
		for i, t := range g.Tabs {
			title := t.Title
			if title == "" {
				title = t.URL
			}
			fmt.Printf("  %d. %s <%s>\n", i+1, title, t.URL)
		}
	}
	return nil
}

func runCreate(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: tabgrouper create <name>")
	}
	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	name := groups.NormalizeName(args[0])
	if err := declined(repo.CreateGroup(ctx, name)); err != nil {
		return err
	}
	fmt.Printf("Group %q created successfully\n", name)
	return nil
}

func runAdd(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "Tab title (looked up when omitted)")
	fs.Parse(reorderArgs(args))
	if fs.NArg() != 2 {
		return errors.New("usage: tabgrouper add <group> <url> [--title text]")
	}
	name, url := fs.Arg(0), fs.Arg(1)

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, ok := repo.Group(name); !ok {
		return errors.New(groups.NotFound.Reason())
	}
	if *title == "" {
		lookup, cancel := context.WithTimeout(ctx, 15*time.Second)
		*title = pagemeta.New().TitleOrURL(lookup, url)
		cancel()
	}

	tab := types.TabRef{URL: url, Title: *title}
	if err := declined(repo.AddTab(ctx, name, tab)); err != nil {
		return err
	}
	fmt.Printf("Tab added to %q\n", name)
	return nil
}

func runRemove(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: tabgrouper remove <group> <n>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid tab number %q", args[1])
	}

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := declined(repo.RemoveTab(ctx, args[0], n-1)); err != nil {
		return err
	}
	fmt.Println("Tab removed from group")
	return nil
}

func runDelete(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(args))
	if fs.NArg() != 1 {
		return errors.New("usage: tabgrouper delete <group> [--yes]")
	}
	name := fs.Arg(0)

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, ok := repo.Group(name); !ok {
		return errors.New(groups.NotFound.Reason())
	}
	if !*yes {
		fmt.Printf("Are you sure you want to delete the group %q? [y/N] ", name)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := declined(repo.DeleteGroup(ctx, name)); err != nil {
		return err
	}
	fmt.Printf("Group %q deleted\n", name)
	return nil
}

func runOpen(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	cdpURL := fs.String("cdp", cfg.CDPURL, "Chrome DevTools endpoint")
	fs.Parse(reorderArgs(args))
	if fs.NArg() != 1 {
		return errors.New("usage: tabgrouper open <group> [--cdp url]")
	}

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	g, ok := repo.Group(fs.Arg(0))
	if !ok {
		return errors.New(groups.NotFound.Reason())
	}

	var b tui.Browser
	if *cdpURL != "" {
		cb, err := cdp.Connect(ctx, *cdpURL)
		if err != nil {
			return err
		}
		defer cb.Close()
		b = tui.DirectBrowser{Opener: opener.New(cb, cb)}
	} else {
		c, err := client.Dial(ctx, cfg.URL(string(server.SurfaceClient)))
		if err != nil {
			return fmt.Errorf("coordinator not running: %w", err)
		}
		defer c.Close()
		b = tui.CoordinatorBrowser{Client: c}
	}

	msg, sev := b.OpenAll(ctx, g)
	if sev == types.SeverityError {
		return errors.New(msg)
	}
	fmt.Println(msg)
	return nil
}

func runMenu(ctx context.Context, cfg *config.Config) error {
	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Print(menu.Render(menu.Build(repo.Groups())))
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(args)

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var output string
	if *jsonFlag {
		output, err = export.JSON(repo.Snapshot(), time.Now())
		if err != nil {
			return fmt.Errorf("generate JSON: %w", err)
		}
	} else {
		output = export.Markdown(repo.Snapshot(), time.Now())
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		return nil
	}
	fmt.Print(output)
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	profileName := fs.String("profile", cfg.Profile, "Firefox profile name")
	ungrouped := fs.String("ungrouped", firefox.DefaultUngroupedName, "Group for ungrouped tabs")
	fs.Parse(args)

	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		return fmt.Errorf("discover profiles: %w", err)
	}
	profile, err := firefox.Pick(profiles, *profileName)
	if err != nil {
		return err
	}
	session, err := firefox.ReadSessionFile(profile.Path)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	store, repo, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := firefox.Import(ctx, repo, session, *ungrouped)
	if err != nil {
		return err
	}
	fmt.Printf("Imported from %s: %d groups created, %d tabs added, %d skipped\n",
		profile.Name, res.Created, res.Added, res.Skipped)
	return nil
}

func runProfiles() error {
	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		return fmt.Errorf("discover profiles: %w", err)
	}
	if len(profiles) == 0 {
		return errors.New("no Firefox profiles found")
	}

	for _, p := range profiles {
		suffix := ""
		if p.IsDefault {
			suffix = " [default]"
		}
		fmt.Printf("%s (%s)%s\n", p.Name, p.Path, suffix)
	}
	return nil
}
