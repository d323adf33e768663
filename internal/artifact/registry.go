package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/artifact"

// namePattern keeps artifact names filesystem-safe.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateName checks that an artifact name is safe to use as a backing
// store filename.
func ValidateName(name string) error {
	if name == "" || len(name) > 255 {
		return ErrInvalidName
	}
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	if filepath.Clean(name) != name {
		return ErrInvalidName
	}
	return nil
}

// registryData is the persisted registry structure.
type registryData struct {
	Version   int                  `json:"version"`
	Artifacts map[string]*Artifact `json:"artifacts"` // key: artifact name, latest version
	History   []*Artifact          `json:"history"`   // append-only, every registered version
}

// Registry is the durable artifact store. All mutation goes through
// Register; reads re-load from disk when the backing store may have been
// modified externally (a prior, now-dead orchestrator instance, or an
// operator poking at files).
type Registry struct {
	mu         sync.RWMutex
	baseDir    string
	contentDir string
	filePath   string
	data       *registryData
	dirty      bool
	logger     *zap.Logger
	watcher    *watcher

	tracer          trace.Tracer
	registerCounter metric.Int64Counter
	integrityGauge  metric.Int64Counter
}

// NewRegistry opens (or creates) the registry rooted at baseDir.
func NewRegistry(baseDir string, logger *zap.Logger) (*Registry, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		baseDir:    baseDir,
		contentDir: filepath.Join(baseDir, "content"),
		filePath:   filepath.Join(baseDir, "registry.json"),
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		data: &registryData{
			Version:   1,
			Artifacts: make(map[string]*Artifact),
		},
	}

	if err := os.MkdirAll(r.contentDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	r.initMetrics()

	w, err := newWatcher(r.contentDir, r.markDirty, logger)
	if err != nil {
		// The registry still works without the watcher; integrity is
		// verified on demand after interruptions.
		logger.Warn("backing store watcher unavailable", zap.Error(err))
	} else {
		r.watcher = w
	}

	return r, nil
}

func (r *Registry) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	r.registerCounter, err = meter.Int64Counter(
		"orchd.artifact.registrations_total",
		metric.WithDescription("Total artifact registrations"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		r.logger.Warn("failed to create registration counter", zap.Error(err))
	}

	r.integrityGauge, err = meter.Int64Counter(
		"orchd.artifact.integrity_discrepancies_total",
		metric.WithDescription("Integrity discrepancies found during verification"),
		metric.WithUnit("{discrepancy}"),
	)
	if err != nil {
		r.logger.Warn("failed to create integrity counter", zap.Error(err))
	}
}

// markDirty flags the registry for re-verification before the next read.
func (r *Registry) markDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Register stores an artifact record and its content.
//
// The artifact must already carry a gate-determined validation status;
// ValidationPending is refused. Registering identical content again is
// idempotent. Differing content bumps the version and appends to history,
// never overwriting silently.
func (r *Registry) Register(ctx context.Context, a *Artifact) error {
	ctx, span := r.tracer.Start(ctx, "artifact.register")
	defer span.End()

	if a == nil {
		return fmt.Errorf("artifact is required")
	}
	span.SetAttributes(
		attribute.String("artifact.name", a.Name),
		attribute.String("artifact.status", string(a.ValidationStatus)),
	)

	if err := ValidateName(a.Name); err != nil {
		return fmt.Errorf("artifact name %q: %w", a.Name, err)
	}
	if a.ValidationStatus == ValidationPending || a.ValidationStatus == "" {
		return fmt.Errorf("refusing to register %q: %w", a.Name, ErrUnvalidated)
	}
	if a.ProducingStep == "" {
		return fmt.Errorf("artifact %q has no producing step", a.Name)
	}

	checksum := contentChecksum(a.Content)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.data.Artifacts[a.Name]; ok {
		if existing.Checksum == checksum {
			// Identical content: idempotent no-op.
			r.logger.Debug("artifact re-registration is idempotent",
				zap.String("name", a.Name),
				zap.Int("version", existing.Version),
			)
			return nil
		}
		a.Version = existing.Version + 1
	} else {
		a.Version = 1
	}

	a.Checksum = checksum
	a.CreatedAt = time.Now().UTC()
	if a.Path == "" {
		a.Path = filepath.Join(r.contentDir, a.Name)
	}

	if err := r.writeContent(a); err != nil {
		return err
	}

	stored := *a
	r.data.Artifacts[a.Name] = &stored
	r.data.History = append(r.data.History, &stored)

	if err := r.save(); err != nil {
		return err
	}

	if r.registerCounter != nil {
		r.registerCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(a.ValidationStatus)),
		))
	}

	r.logger.Info("registered artifact",
		zap.String("name", a.Name),
		zap.String("producing_step", a.ProducingStep),
		zap.Int("version", a.Version),
		zap.String("status", string(a.ValidationStatus)),
	)

	return nil
}

// Get returns the latest version of a named artifact.
//
// Absent artifacts return MissingArtifactError; present-but-failed
// artifacts return ErrArtifactInvalid. Neither case ever yields a usable
// default. If the backing store changed since the last read, the registry
// re-verifies before answering.
func (r *Registry) Get(ctx context.Context, name string) (*Artifact, error) {
	ctx, span := r.tracer.Start(ctx, "artifact.get")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.name", name))

	r.mu.RLock()
	dirty := r.dirty
	r.mu.RUnlock()

	if dirty {
		if _, err := r.VerifyIntegrity(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.data.Artifacts[name]
	if !ok {
		return nil, &MissingArtifactError{Name: name}
	}
	if a.ValidationStatus != ValidationPass {
		return nil, fmt.Errorf("artifact %q (version %d): %w", name, a.Version, ErrArtifactInvalid)
	}

	out := *a
	return &out, nil
}

// History returns every registered version of a named artifact, oldest
// first. The slice is empty when the artifact was never registered.
func (r *Registry) History(name string) []*Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versions []*Artifact
	for _, a := range r.data.History {
		if a.Name == name {
			out := *a
			versions = append(versions, &out)
		}
	}
	return versions
}

// VerifyIntegrity reconciles registry records against the backing store.
//
// Run defensively after any interruption. Records without content, content
// without records, checksum drift, and unsatisfied dependencies are all
// reported; the in-memory view is rebuilt from disk rather than trusted.
func (r *Registry) VerifyIntegrity(ctx context.Context) ([]Discrepancy, error) {
	ctx, span := r.tracer.Start(ctx, "artifact.verify_integrity")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Durable state wins over anything held in memory.
	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to reload registry: %w", err)
	}

	var discrepancies []Discrepancy

	for name, a := range r.data.Artifacts {
		contentPath := filepath.Join(r.contentDir, name)
		data, err := os.ReadFile(contentPath)
		if os.IsNotExist(err) {
			discrepancies = append(discrepancies, Discrepancy{
				Artifact: name,
				Kind:     DiscrepancyMissingContent,
				Detail:   fmt.Sprintf("record exists but %s is missing", contentPath),
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read content for %q: %w", name, err)
		}
		if sum := rawChecksum(data); sum != a.Checksum {
			discrepancies = append(discrepancies, Discrepancy{
				Artifact: name,
				Kind:     DiscrepancyChecksumMismatch,
				Detail:   fmt.Sprintf("stored content does not match recorded checksum for version %d", a.Version),
			})
			// Content was externally modified. Trust the backing store
			// and refresh the record rather than serving a stale view.
			a.Checksum = sum
			a.Content = string(data)
		}
		for _, dep := range a.Dependencies {
			if _, ok := r.data.Artifacts[dep]; !ok {
				discrepancies = append(discrepancies, Discrepancy{
					Artifact: name,
					Kind:     DiscrepancyMissingDependency,
					Detail:   fmt.Sprintf("depends on unregistered artifact %q", dep),
				})
			}
		}
	}

	// Content with no record: rebuild a pending record so the file is
	// tracked but never consumable until validated.
	entries, err := os.ReadDir(r.contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan content directory: %w", err)
	}
	rebuilt := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := r.data.Artifacts[name]; ok {
			continue
		}
		discrepancies = append(discrepancies, Discrepancy{
			Artifact: name,
			Kind:     DiscrepancyOrphanContent,
			Detail:   "content file exists with no registry record; rebuilt as pending",
		})
		data, err := os.ReadFile(filepath.Join(r.contentDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read orphan content %q: %w", name, err)
		}
		r.data.Artifacts[name] = &Artifact{
			Name:             name,
			Path:             filepath.Join(r.contentDir, name),
			Content:          string(data),
			ValidationStatus: ValidationPending,
			Version:          1,
			Checksum:         rawChecksum(data),
			CreatedAt:        time.Now().UTC(),
		}
		rebuilt = true
	}

	if rebuilt || len(discrepancies) > 0 {
		if err := r.save(); err != nil {
			return nil, err
		}
	}

	for _, d := range discrepancies {
		r.logger.Warn("registry integrity discrepancy",
			zap.String("artifact", d.Artifact),
			zap.String("kind", string(d.Kind)),
			zap.String("detail", d.Detail),
		)
	}
	if r.integrityGauge != nil && len(discrepancies) > 0 {
		r.integrityGauge.Add(ctx, int64(len(discrepancies)))
	}

	r.dirty = false
	span.SetAttributes(attribute.Int("discrepancy_count", len(discrepancies)))
	return discrepancies, nil
}

// Snapshot returns the registry file path, used as the registry reference
// inside handoff packages. The package references durable state; it never
// embeds it.
func (r *Registry) Snapshot() string {
	return r.filePath
}

// Close stops the backing store watcher.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// writeContent persists artifact content to the backing store atomically.
func (r *Registry) writeContent(a *Artifact) error {
	contentPath := filepath.Join(r.contentDir, a.Name)
	tmp := contentPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(a.Content), 0o600); err != nil {
		return fmt.Errorf("failed to write artifact content: %w", err)
	}
	if err := os.Rename(tmp, contentPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename artifact content: %w", err)
	}
	return nil
}

// load reads the registry from disk.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}
	var rd registryData
	if err := json.Unmarshal(data, &rd); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryCorrupted, err)
	}
	if rd.Artifacts == nil {
		rd.Artifacts = make(map[string]*Artifact)
	}
	r.data = &rd
	return nil
}

// save writes the registry to disk atomically.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}

func contentChecksum(content string) string {
	return rawChecksum([]byte(content))
}

func rawChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
