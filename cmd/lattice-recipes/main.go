// Command lattice-recipes loads plugin and recipe definitions from a
// project's .lattice directory, then explains, runs or resumes a recipe.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-recipes/internal/config"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/eventstream"
	"github.com/kingrea/lattice-recipes/internal/logging"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/recipe"
	"github.com/kingrea/lattice-recipes/internal/sessionstore"
	"github.com/kingrea/lattice-recipes/internal/workflow/engine"
	"github.com/kingrea/lattice-recipes/plugins"
)

func main() {
	recipeName := flag.String("recipe", "", "recipe name to build (e.g. review)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	inputFile := flag.String("input", "", "path to YAML/JSON file with run input")
	resumeToken := flag.String("resume", "", "resume the paused run stored under this token")
	explainOnly := flag.Bool("explain", false, "print the compiled plan without running it")
	strict := flag.Bool("strict", false, "escalate warnings to errors")
	logToFile := flag.Bool("log-file", false, "write logs to .lattice/logs instead of stderr")
	followRun := flag.Bool("follow", false, "print trace events while the run executes")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "run input value (key=value, repeatable)")
	flag.Parse()

	if strings.TrimSpace(*recipeName) == "" {
		die("--recipe is required")
	}

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitLatticeDir(absoluteProject); err != nil {
		die("init .lattice: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	logOpts := logging.Options{Level: cfg.Project.Log.Level, Format: cfg.Project.Log.Format}
	if *logToFile {
		logOpts.Dir = cfg.LogsDir()
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		die("init logging: %v", err)
	}
	defer logger.Close()

	registry := plugin.NewRegistry()
	recipes := recipe.NewRegistry()
	loader := plugins.NewLoader()
	if err := loader.RegisterPlugins(registry, cfg); err != nil {
		die("load plugins: %v", err)
	}
	if err := loader.RegisterRecipes(recipes, cfg); err != nil {
		die("load recipes: %v", err)
	}
	patches, err := cfg.RetryPatches()
	if err != nil {
		die("load retry policy: %v", err)
	}
	mode := cfg.DiagnosticsMode()
	if *strict {
		mode = diag.ModeStrict
	}
	input, err := buildInput(*inputFile, sets)
	if err != nil {
		die("load input: %v", err)
	}

	store := sessionstore.NewFile(cfg.SessionsDir())
	stream := logStream(logger.Logger)
	var follow *follower
	if *followRun {
		follow = newFollower(os.Stdout, logger.Logger)
		defer follow.Close()
		stream = follow.Stream(stream)
	}
	handle := engine.New(*recipeName,
		engine.WithRecipes(recipes),
		engine.WithPluginRegistry(registry, cfg.PluginConfig()),
		engine.WithLogger(logger.Logger),
		engine.WithDiagnosticsMode(mode),
		engine.WithResume(pause.MergeInput{}, store),
		engine.WithEventStream(stream),
	).Defaults(engine.Overrides{Retry: patches})

	rt, err := handle.Build()
	if err != nil {
		var buildErr *engine.BuildError
		if errors.As(err, &buildErr) {
			fmt.Println(renderDiagnostics(buildErr.Diagnostics))
		}
		die("build recipe %s: %v", *recipeName, err)
	}
	if *explainOnly {
		fmt.Println(renderExplanation(rt.Explain()))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	var out engine.Outcome
	if token := strings.TrimSpace(*resumeToken); token != "" {
		out = rt.Resume(ctx, token, input, engine.Overrides{})
	} else {
		out = rt.Run(ctx, input, engine.Overrides{})
	}
	if follow != nil {
		follow.Close()
	}
	if out.Paused() {
		if err := out.Persist(ctx, store); err != nil {
			die("persist snapshot: %v", err)
		}
	}
	fmt.Println(renderOutcome(out))
	if out.Failed() {
		os.Exit(1)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// logStream mirrors trace events into the debug log while the run executes.
func logStream(logger *slog.Logger) eventstream.Stream {
	return eventstream.StreamFunc(func(_ context.Context, event eventstream.Event) eventstream.Result {
		logger.Debug("trace", "event", event.Name, "run", event.Run, "data", event.Data)
		return eventstream.ResultSuccess
	})
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("input key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

func buildInput(inputFile string, overrides keyValueFlag) (map[string]any, error) {
	input := map[string]any{}
	if path := strings.TrimSpace(inputFile); path != "" {
		fileInput, err := readInputFile(path)
		if err != nil {
			return nil, err
		}
		for key, value := range fileInput {
			input[key] = value
		}
	}
	for key, value := range overrides {
		input[key] = value
	}
	return input, nil
}

func readInputFile(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open input file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("input file %s is empty", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse input file %s: %w", path, err)
	}
	return raw, nil
}
