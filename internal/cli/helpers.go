package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/git"
	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/hosts"
	"github.com/imkarma/drover/internal/logging"
	"github.com/imkarma/drover/internal/orchestrator"
	"github.com/imkarma/drover/internal/store"
	"github.com/imkarma/drover/internal/transition"
	"github.com/imkarma/drover/internal/worker"
)

const droverDirName = ".drover"

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
)

// droverPath returns the path to a file inside the project dir.
func droverPath(parts ...string) string {
	elems := append([]string{projectDir}, parts...)
	return filepath.Join(elems...)
}

// mustConfig loads the project config, returning an error if drover is not initialized.
func mustConfig() (*config.Config, error) {
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("drover not initialized. Run: drover init")
	}
	cfg, err := config.Load(droverPath("config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// mustStore loads the config and returns it with the task store it names.
func mustStore() (*config.Config, *store.Store, error) {
	cfg, err := mustConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, store.New(cfg.Store), nil
}

// loadSnapshot loads the task store and prints any skipped entries.
func loadSnapshot(s *store.Store) (*store.Snapshot, error) {
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}
	for _, w := range snap.Warnings() {
		printStatus("⚠", "skipped "+w.String(), color.FgYellow)
	}
	return snap, nil
}

func openLogger() (*logging.Logger, error) {
	return logging.New(projectDir, flagVerbose)
}

// openHistory opens the run ledger. A ledger that cannot be opened is
// reported and the command carries on without it.
func openHistory() *history.Ledger {
	l, err := history.New(droverPath("history.db"))
	if err != nil {
		printStatus("⚠", "run history unavailable: "+err.Error(), color.FgYellow)
		return nil
	}
	return l
}

// loadHosts resolves the configured hosts against this machine.
func loadHosts(cfg *config.Config) ([]hosts.Host, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	specs := make([]hosts.Spec, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		specs = append(specs, hosts.Spec{ID: h.ID, Hostname: h.Hostname, ProjectPath: h.ProjectPath, Capacity: h.Capacity})
	}
	hs, err := hosts.Load(specs, cfg.Defaults.HostCapacity, workDir, nil)
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}
	return hs, nil
}

func newClassifier(cfg *config.Config) *classify.Classifier {
	return classify.New(cfg.Classifier.BackgroundIDPrefixes)
}

// session holds everything a pipeline command opens. close releases it.
type session struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	logger *logging.Logger
	ledger *history.Ledger
}

func (r *session) close() {
	if r.ledger != nil {
		r.ledger.Close()
	}
	r.logger.Close()
}

// newSession wires an orchestrator from the project config.
func newSession() (*session, error) {
	cfg, s, err := mustStore()
	if err != nil {
		return nil, err
	}
	hs, err := loadHosts(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := openLogger()
	if err != nil {
		return nil, err
	}
	workDir, _ := os.Getwd()

	o := &orchestrator.Orchestrator{
		Store:       s,
		Hosts:       hs,
		Classifier:  newClassifier(cfg),
		Transitions: transition.NewManager(),
		Health:      git.New(workDir, projectDir),
		Logger:      logger.Logger,
		Dispatcher: worker.NewPool(worker.PoolConfig{
			Dispatch: cfg.Dispatch,
			Logger:   logger.Logger,
		}),
	}
	ss := &session{cfg: cfg, orch: o, logger: logger}
	if l := openHistory(); l != nil {
		ss.ledger = l
		o.History = l
	}
	return ss, nil
}

// warnInterrupted points at runs that started but never finished.
func warnInterrupted(l *history.Ledger) {
	if l == nil {
		return
	}
	runs, err := l.ListInterruptedRuns()
	if err != nil || len(runs) == 0 {
		return
	}
	for _, r := range runs {
		printStatus("⚠", fmt.Sprintf("run %s (%s, started %s) never finished", r.ID, r.EntryPoint,
			r.StartedAt.Local().Format("2006-01-02 15:04")), color.FgYellow)
	}
	fmt.Printf("  → Use %sdrover resume <run-id>%s to reconcile.\n\n", colorCyan, colorReset)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func statusColor(s store.Status) string {
	switch s.Normalize() {
	case store.StatusTodo:
		return colorWhite
	case store.StatusInProgress:
		return colorBlue
	case store.StatusReview:
		return colorMagenta
	case store.StatusDone:
		return colorGreen
	}
	return colorDim
}

func priorityColor(priority string) string {
	switch strings.ToLower(priority) {
	case store.PriorityHigh:
		return colorRed + colorBold
	case store.PriorityMedium:
		return colorYellow
	case store.PriorityLow:
		return colorDim
	default:
		return ""
	}
}

func verdictColor(v classify.Verdict) string {
	switch v {
	case classify.Background:
		return colorGreen
	case classify.Interactive:
		return colorMagenta
	}
	return colorDim
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
