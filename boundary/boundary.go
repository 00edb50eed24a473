// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatehouse-project/gatehouse/audit"
	"github.com/gatehouse-project/gatehouse/sandbox"
	"github.com/gatehouse-project/gatehouse/scan"
	"github.com/gatehouse-project/gatehouse/vault"
)

// BlockedError is a typed refusal: the operation was understood and
// denied. Callers distinguish it from operational failures with
// errors.As.
type BlockedError struct {
	Operation string
	Reason    string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s blocked: %s", e.Operation, e.Reason)
}

// Config assembles a Coordinator. Engine is required; everything else
// has a working default. Vault and Backend are optional — GetSecret
// and Execute fail cleanly when their dependency is absent.
type Config struct {
	// Engine decides what happens to scanned text.
	Engine *scan.Engine

	// Scanner runs the pattern table. Defaults to the built-in table.
	Scanner *scan.Scanner

	// Leaks detects credential material in output and outbound
	// requests. Defaults to the built-in detector.
	Leaks *scan.LeakDetector

	// Guard validates outbound destinations. Defaults to a guard
	// blocking private, loopback, link-local, CGNAT, and metadata
	// ranges.
	Guard *scan.Guard

	// Vault serves GetSecret. Optional.
	Vault *vault.Vault

	// Backend runs Execute commands. Optional.
	Backend sandbox.Backend

	// BaseProfile is the execution profile every tool starts from.
	// Zero value means sandbox.DefaultProfile().
	BaseProfile sandbox.Profile

	// ToolProfiles overlays per-tool profile overrides onto
	// BaseProfile, keyed by tool name.
	ToolProfiles map[string]sandbox.Profile

	// ToolFilters holds per-tool command filters, keyed by tool name.
	// Filter applies to every tool without its own entry; both nil
	// means no filtering.
	ToolFilters map[string]*CommandFilter
	Filter      *CommandFilter

	// Audit receives one record per decision. Defaults to a log sink.
	Audit audit.Sink

	// HTTPTimeout bounds each Fetch. Defaults to 30 seconds.
	HTTPTimeout time.Duration

	Logger *slog.Logger
}

// Coordinator is the trust boundary. Safe for concurrent use.
type Coordinator struct {
	engine       *scan.Engine
	scanner      *scan.Scanner
	leaks        *scan.LeakDetector
	guard        *scan.Guard
	vault        *vault.Vault
	backend      sandbox.Backend
	baseProfile  sandbox.Profile
	toolProfiles map[string]sandbox.Profile
	toolFilters  map[string]*CommandFilter
	filter       *CommandFilter
	sink         audit.Sink
	client       *http.Client
	logger       *slog.Logger
}

// New validates the configuration and builds a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Engine == nil {
		return nil, fmt.Errorf("boundary: Engine is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scanner := config.Scanner
	if scanner == nil {
		scanner = scan.NewScanner(scan.DefaultTable())
	}
	leaks := config.Leaks
	if leaks == nil {
		leaks = scan.NewLeakDetector()
	}
	guard := config.Guard
	if guard == nil {
		var err error
		guard, err = scan.NewGuard(scan.GuardConfig{})
		if err != nil {
			return nil, fmt.Errorf("boundary: default guard: %w", err)
		}
	}
	sink := config.Audit
	if sink == nil {
		sink = audit.NewLogSink(logger)
	}
	timeout := config.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseProfile := config.BaseProfile
	if len(baseProfile.ReadPaths) == 0 && len(baseProfile.WritePaths) == 0 {
		baseProfile = sandbox.DefaultProfile()
	}

	return &Coordinator{
		engine:       config.Engine,
		scanner:      scanner,
		leaks:        leaks,
		guard:        guard,
		vault:        config.Vault,
		backend:      config.Backend,
		baseProfile:  baseProfile,
		toolProfiles: config.ToolProfiles,
		toolFilters:  config.ToolFilters,
		filter:       config.Filter,
		sink:         sink,
		// One guarded client for the coordinator's lifetime, so idle
		// connections are pooled instead of leaking a transport per
		// fetch.
		client: guard.Client(timeout),
		logger: logger,
	}, nil
}

// ScanText runs the pattern scanners and the policy engine over text.
// A panic anywhere in scanning resolves to a block decision: the
// boundary fails closed, never open.
func (c *Coordinator) ScanText(ctx context.Context, session, requester, text string) (decision scan.Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scanner panic, failing closed",
				"session", session, "panic", r)
			decision = scan.Decision{
				Action:    scan.ActionBlock,
				Score:     1,
				Rationale: "internal scanner failure",
			}
			c.emit(ctx, session, "scan_text", requester, "", 1, audit.ActionBlock, map[string]string{
				"failure": "scanner panic",
			})
		}
	}()

	result := c.scanner.Scan(text)
	decision = c.engine.Decide(ctx, text, result)

	c.emit(ctx, session, "scan_text", requester,
		strongestCategory(result), decision.Score, auditAction(decision.Action), nil)
	return decision
}

// emit sends one audit record, logging (not failing the operation)
// when the sink is down. Losing an audit record must not turn into an
// outage of the boundary itself.
func (c *Coordinator) emit(ctx context.Context, session, operation, requester, category string, score float64, action audit.Action, detail map[string]string) {
	record := audit.New(session, operation)
	record.Requester = requester
	record.Category = category
	record.Score = score
	record.Action = action
	record.Detail = detail
	if err := c.sink.Emit(ctx, record); err != nil {
		c.logger.Error("audit emit failed",
			"operation", operation, "session", session, "error", err)
	}
}

// strongestCategory names the category with the highest sub-score, or
// empty when nothing matched.
func strongestCategory(result scan.Result) string {
	var best scan.Category
	var bestScore float64
	for _, category := range scan.Categories {
		if result.SubScores[category] > bestScore {
			best, bestScore = category, result.SubScores[category]
		}
	}
	return string(best)
}

func auditAction(action scan.Action) audit.Action {
	switch action {
	case scan.ActionWarn:
		return audit.ActionWarn
	case scan.ActionBlock:
		return audit.ActionBlock
	case scan.ActionSanitize:
		return audit.ActionSanitize
	default:
		return audit.ActionAllow
	}
}
