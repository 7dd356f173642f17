// Package bubble defines bubble.toml, the immutable per-bubble
// configuration spec §3 names, and composes the other engine packages
// into the lifecycle commands of spec §4.J. Its TOML parsing follows
// the teacher's formula.ParseFile/Parse split over BurntSushi/toml.
package bubble

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/felho/pairflow/internal/paths"
)

// Agent identifies which CLI drives one side of the implementer/reviewer
// pair.
type Agent string

const (
	AgentCodex  Agent = "codex"
	AgentClaude Agent = "claude"
)

// WorkMode, QualityMode, ReviewArtifactType, and ReviewerContextMode are
// presently single-valued enums (spec §3); they are typed separately so
// a future SPEC revision can widen them without touching callers that
// already pattern-match on the Config struct shape.
type WorkMode string
type QualityMode string
type ReviewArtifactType string
type ReviewerContextMode string

const (
	WorkModeWorktree WorkMode = "worktree"

	QualityModeStrict QualityMode = "strict"

	ReviewArtifactTypeAuto ReviewArtifactType = "auto"

	ReviewerContextModeFresh ReviewerContextMode = "fresh"
)

// OverlayMode controls how local_overlay entries are materialized into
// the worktree.
type OverlayMode string

const (
	OverlayModeSymlink OverlayMode = "symlink"
	OverlayModeCopy    OverlayMode = "copy"
)

// LocalOverlay mirrors untracked local files (credentials, caches) into
// a freshly created worktree.
type LocalOverlay struct {
	Enabled bool        `toml:"enabled"`
	Mode    OverlayMode `toml:"mode"`
	Entries []string    `toml:"entries"`
}

// Agents names which agent plays each role at bubble creation; the
// role assignment can subsequently swap per the role-swap rule (spec
// §4.I), but this pairing — which concrete agent binary is
// "implementer" versus "reviewer" — is fixed for the bubble's lifetime.
type Agents struct {
	Implementer Agent `toml:"implementer"`
	Reviewer    Agent `toml:"reviewer"`
}

// Commands names the shell commands a reviewer or watchdog may invoke
// against the worktree; Extra holds anything beyond test/typecheck.
type Commands struct {
	Test      string            `toml:"test"`
	Typecheck string            `toml:"typecheck"`
	Extra     map[string]string `toml:"extra"`
}

// Config is the immutable content of bubble.toml.
type Config struct {
	ID           string `toml:"id"`
	RepoPath     string `toml:"repo_path"`
	BaseBranch   string `toml:"base_branch"`
	BubbleBranch string `toml:"bubble_branch"`

	WorkMode            WorkMode            `toml:"work_mode"`
	QualityMode         QualityMode         `toml:"quality_mode"`
	ReviewArtifactType  ReviewArtifactType  `toml:"review_artifact_type"`
	ReviewerContextMode ReviewerContextMode `toml:"reviewer_context_mode"`

	WatchdogTimeoutMinutes int  `toml:"watchdog_timeout_minutes"`
	MaxRounds              int  `toml:"max_rounds"`
	CommitRequiresApproval bool `toml:"commit_requires_approval"`

	Agents   Agents       `toml:"agents"`
	Commands Commands     `toml:"commands"`
	Overlay  LocalOverlay `toml:"local_overlay"`
}

// Defaults applies the spec §3 default values for fields a caller left
// unset when building a new Config via NewConfig.
func Defaults() Config {
	return Config{
		WorkMode:               WorkModeWorktree,
		QualityMode:            QualityModeStrict,
		ReviewArtifactType:      ReviewArtifactTypeAuto,
		ReviewerContextMode:     ReviewerContextModeFresh,
		WatchdogTimeoutMinutes:  10,
		MaxRounds:               8,
		CommitRequiresApproval:  true,
	}
}

// NewConfig builds a Config for a freshly created bubble, applying
// defaults and deriving BubbleBranch from id per spec §3
// ("bubble_branch (derived as bubble/<id>)").
func NewConfig(id, repoPath, baseBranch string, implementer, reviewer Agent) (*Config, error) {
	if !paths.ValidBubbleID(id) {
		return nil, fmt.Errorf("invalid bubble id %q", id)
	}
	if implementer == reviewer {
		return nil, fmt.Errorf("implementer and reviewer must be distinct agents, both were %q", implementer)
	}

	cfg := Defaults()
	cfg.ID = id
	cfg.RepoPath = repoPath
	cfg.BaseBranch = baseBranch
	cfg.BubbleBranch = "bubble/" + id
	cfg.Agents = Agents{Implementer: implementer, Reviewer: reviewer}
	return &cfg, nil
}

// ParseFile reads and parses a bubble.toml file.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bubble config: %w", err)
	}
	return Parse(data)
}

// Parse parses bubble.toml content from bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing bubble.toml: %w", err)
	}
	return &cfg, nil
}

// WriteFile serializes cfg as TOML and writes it to path. bubble.toml
// is written once at creation and never mutated again (spec §3's
// "Lifecycles" note), so this is a plain write, not an atomic
// temp-file-and-rename — there is no concurrent writer to race.
func WriteFile(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating bubble config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding bubble.toml: %w", err)
	}
	return nil
}

// OtherRole returns the counterpart of role.
func OtherRole(role string) string {
	if role == "implementer" {
		return "reviewer"
	}
	return "implementer"
}

// AgentForRole returns the agent configured for role ("implementer" or
// "reviewer"), implementing the role-swap rule's config mapping (spec
// §4.I: "active_role=implementer ⇒ agents.implementer").
func (c *Config) AgentForRole(role string) Agent {
	if role == "implementer" {
		return c.Agents.Implementer
	}
	return c.Agents.Reviewer
}
