// Package allowlist implements the trusted package allowlist (spec §6): a
// YAML file of permitted packages and semver constraints plus an explicit
// blocked set, consulted by internal/workflow.Validate before a
// WorkflowSpec's pip_packages are allowed to run.
package allowlist

import (
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// Entry is one permitted package and the semver constraint its declared
// version must satisfy.
type Entry struct {
	Name       string `yaml:"name"`
	Constraint string `yaml:"constraint"`
}

// file is the on-disk YAML shape.
type file struct {
	Allowed []Entry  `yaml:"allowed"`
	Blocked []string `yaml:"blocked"`
}

// AuditEntry records one allowlist decision for the audit log (spec §6).
type AuditEntry struct {
	Timestamp time.Time
	Package   string
	Version   string
	Context   string
	Allowed   bool
	Reason    string
}

// AuditSink receives audit entries as they're produced. Implementations
// must be safe for concurrent use.
type AuditSink interface {
	Record(AuditEntry)
}

// Allowlist answers whether a package@version may be installed, and logs
// every check to its AuditSink.
type Allowlist struct {
	mu         sync.RWMutex
	constraints map[string]*semver.Constraints
	blocked    map[string]bool
	sink       AuditSink
}

// Option configures an Allowlist at construction.
type Option func(*Allowlist)

// WithAuditSink sets the destination for audit log entries. The default is
// an in-memory sink (InMemoryAuditSink) when none is given.
func WithAuditSink(sink AuditSink) Option {
	return func(a *Allowlist) { a.sink = sink }
}

// Load parses the YAML allowlist at path (spec §6's wire format: an
// `allowed` list of {name, constraint} and a `blocked` list of names).
func Load(path string, opts ...Option) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvalidAllowlist, "failed to read allowlist file", err)
	}
	return Parse(data, opts...)
}

// Parse builds an Allowlist from raw YAML bytes.
func Parse(data []byte, opts ...Option) (*Allowlist, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvalidAllowlist, "malformed allowlist yaml", err)
	}

	a := &Allowlist{
		constraints: map[string]*semver.Constraints{},
		blocked:     map[string]bool{},
		sink:        NewInMemoryAuditSink(0),
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, e := range f.Allowed {
		if e.Name == "" || e.Constraint == "" {
			return nil, ferrors.New(ferrors.CodeInvalidAllowlist, "allowlist entry missing name or constraint")
		}
		c, err := semver.NewConstraint(e.Constraint)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.CodeInvalidAllowlist, "invalid semver constraint for "+e.Name, err)
		}
		a.constraints[e.Name] = c
	}
	for _, name := range f.Blocked {
		a.blocked[name] = true
	}
	return a, nil
}

// Allowed reports whether name@version is permitted, recording the
// decision in the audit sink. A version that fails to parse as semver is
// rejected rather than erroring, since a malformed version can never
// satisfy a constraint.
func (a *Allowlist) Allowed(name, version string) bool {
	return a.check(name, version, "")
}

// AllowedInContext is Allowed plus a free-form context string (e.g. a
// workflow_id) carried into the audit entry.
func (a *Allowlist) AllowedInContext(name, version, context string) bool {
	return a.check(name, version, context)
}

func (a *Allowlist) check(name, version, context string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entry := AuditEntry{Timestamp: time.Now(), Package: name, Version: version, Context: context}

	if a.blocked[name] {
		entry.Allowed = false
		entry.Reason = "package is explicitly blocked"
		a.sink.Record(entry)
		return false
	}

	constraint, ok := a.constraints[name]
	if !ok {
		entry.Allowed = false
		entry.Reason = "package is not in the trusted allowlist"
		a.sink.Record(entry)
		return false
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		entry.Allowed = false
		entry.Reason = "version does not parse as semver: " + err.Error()
		a.sink.Record(entry)
		return false
	}

	if !constraint.Check(v) {
		entry.Allowed = false
		entry.Reason = "version does not satisfy constraint"
		a.sink.Record(entry)
		return false
	}

	entry.Allowed = true
	a.sink.Record(entry)
	return true
}

// Block adds name to the blocked set at runtime (e.g. an operator response
// to a vulnerability disclosure).
func (a *Allowlist) Block(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked[name] = true
}
