// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog loads the dial catalog that wires steering dials to
// SAE features.
//
// The default catalog ships embedded in the binary. An external YAML file
// can override it, either via the HORUS_CATALOG_PATH environment variable
// or the WithPath option, which allows deployments to curate their own
// dial sets without recompiling.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/features"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// CatalogVersion is the catalog file format version this package reads.
	CatalogVersion = 1

	// MaxYAMLFileSize is the maximum allowed catalog file size (1MB).
	// Prevents memory issues from oversized external files.
	MaxYAMLFileSize = 1024 * 1024

	// MaxDialsInCatalog is the maximum dials allowed in a catalog.
	MaxDialsInCatalog = 200

	// MaxTraceFeaturesPerDial is the maximum trace features per dial.
	MaxTraceFeaturesPerDial = 50

	// PathEnvVar names the environment variable for an external catalog.
	PathEnvVar = "HORUS_CATALOG_PATH"
)

// =============================================================================
// Embedded Default Catalog
// =============================================================================

// defaultCatalogYAML holds the raw bytes of the built-in dial catalog.
// Populated at compile time so the default dial set travels with the
// binary and cannot be tampered with on the host filesystem.
//
//go:embed catalog.yaml
var defaultCatalogYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	catalogLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steering_catalog_load_errors_total",
		Help: "Total dial catalog load errors",
	})

	catalogLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "steering_catalog_load_duration_seconds",
		Help:    "Duration of dial catalog loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})

	catalogReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steering_catalog_reloads_total",
		Help: "Total dial catalog reloads by result",
	}, []string{"result"})

	catalogDialCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steering_catalog_dials",
		Help: "Number of dials in the active catalog",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var catalogTracer = otel.Tracer("horus.steering.catalog")

// =============================================================================
// YAML Schema
// =============================================================================

// catalogFileYAML is the root structure for catalog deserialization.
//
// Concrete types only; nested slices are validated with go-playground
// validator tags plus the structural checks in convertCatalog.
type catalogFileYAML struct {
	Version int         `yaml:"version" validate:"required,eq=1"`
	ModelID string      `yaml:"modelId" validate:"required"`
	Dials   []dialYAML  `yaml:"dials" validate:"required,min=1,max=200,dive"`
	Groups  []groupYAML `yaml:"groups" validate:"omitempty,dive"`
}

// dialYAML represents a single dial entry in the catalog file.
type dialYAML struct {
	ID           string      `yaml:"id" validate:"required,max=64"`
	Label        string      `yaml:"label" validate:"required,max=128"`
	Polarity     string      `yaml:"polarity" validate:"required,oneof=bipolar unipolar"`
	DefaultValue float64     `yaml:"defaultValue"`
	Color        string      `yaml:"color" validate:"omitempty,hexcolor"`
	Locked       bool        `yaml:"locked"`
	Trace        []traceYAML `yaml:"trace" validate:"required,min=1,max=50,dive"`
}

// traceYAML represents one weighted feature reference in a dial's trace.
type traceYAML struct {
	Feature string  `yaml:"feature" validate:"required,featureref"`
	Weight  float64 `yaml:"weight" validate:"gte=0,lte=1"`
}

// groupYAML represents a display group in the catalog file.
type groupYAML struct {
	ID        string   `yaml:"id" validate:"required,max=64"`
	Label     string   `yaml:"label" validate:"required,max=128"`
	Dials     []string `yaml:"dials" validate:"required,min=1,dive,required"`
	Collapsed bool     `yaml:"collapsed"`
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// catalogValidate is the validator instance for catalog files.
// Initialized in init() with the featureref custom validator.
var catalogValidate *validator.Validate

func init() {
	catalogValidate = validator.New()

	// Trace entries must reference a feature of a registered model.
	_ = catalogValidate.RegisterValidation("featureref", validateFeatureRef)
}

// validateFeatureRef checks that a trace feature id parses as
// "model:layer:index" against the model registry. The compute path skips
// unparseable ids silently, but a curated catalog should never contain one.
func validateFeatureRef(fl validator.FieldLevel) bool {
	_, ok := features.Parse(fl.Field().String())
	return ok
}

// =============================================================================
// Registry
// =============================================================================

// Info describes the currently loaded catalog.
type Info struct {
	// ModelID is the model the catalog's dials are traced against.
	ModelID string

	// Version is the catalog file format version.
	Version int

	// Source is "embedded" or "external".
	Source string

	// Path is the external file path, empty for the embedded catalog.
	Path string

	// LoadedAt is when the catalog was loaded.
	LoadedAt time.Time

	// DialCount and GroupCount summarize the catalog contents.
	DialCount  int
	GroupCount int
}

// Registry loads and caches the dial catalog.
//
// Registry implements dials.CatalogSource, so a dial store built with
// dials.WithCatalogSource(registry) can populate itself via
// LoadDefaultCatalog.
//
// Thread Safety: safe for concurrent use. Concurrent first loads are
// deduplicated through singleflight.
type Registry struct {
	mu      sync.RWMutex
	loaded  bool
	catalog dials.Catalog
	info    Info

	flight singleflight.Group
	path   string
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPath sets an explicit external catalog path. Takes precedence over
// the HORUS_CATALOG_PATH environment variable.
func WithPath(path string) Option {
	return func(r *Registry) { r.path = path }
}

// WithLogger sets the logger used for load events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates a catalog registry. The catalog is loaded lazily on the
// first call to Catalog or eagerly via Reload.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the loaded dial catalog, loading it on first use.
//
// Description:
//
//	Fast path returns a copy of the cached catalog. On a cold registry
//	the load runs once even under concurrent callers; losers of the
//	race share the winner's result.
//
// Inputs:
//
//	ctx - Context for tracing and cancellation. Must not be nil.
//
// Outputs:
//
//	dials.Catalog - Deep copy of the catalog. Safe for the caller to mutate.
//	error - Non-nil if loading failed. The registry stays unloaded so a
//	        later call can retry.
func (r *Registry) Catalog(ctx context.Context) (dials.Catalog, error) {
	if ctx == nil {
		return dials.Catalog{}, fmt.Errorf("Catalog: ctx must not be nil")
	}

	r.mu.RLock()
	if r.loaded {
		cat := cloneCatalog(r.catalog)
		r.mu.RUnlock()
		return cat, nil
	}
	r.mu.RUnlock()

	_, err, _ := r.flight.Do("load", func() (interface{}, error) {
		// Another flight participant may have loaded it already.
		r.mu.RLock()
		loaded := r.loaded
		r.mu.RUnlock()
		if loaded {
			return nil, nil
		}
		return nil, r.Reload(ctx)
	})
	if err != nil {
		return dials.Catalog{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneCatalog(r.catalog), nil
}

// Reload loads the catalog from disk or the embedded default and swaps
// it in. On failure the previously loaded catalog stays active.
func (r *Registry) Reload(ctx context.Context) error {
	ctx, span := catalogTracer.Start(ctx, "catalog.Load")
	defer span.End()

	startTime := time.Now()
	defer func() {
		catalogLoadDuration.Observe(time.Since(startTime).Seconds())
	}()

	yamlData, source, path := r.resolveSource(ctx)
	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("yaml_size", len(yamlData)),
	)

	cat, file, err := parseCatalogYAML(yamlData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		catalogLoadErrors.Inc()
		return fmt.Errorf("parsing dial catalog: %w", err)
	}

	r.mu.Lock()
	r.catalog = cat
	r.loaded = true
	r.info = Info{
		ModelID:    file.ModelID,
		Version:    file.Version,
		Source:     source,
		Path:       path,
		LoadedAt:   time.Now(),
		DialCount:  len(cat.Dials),
		GroupCount: len(cat.Groups),
	}
	r.mu.Unlock()

	catalogDialCount.Set(float64(len(cat.Dials)))
	span.SetAttributes(
		attribute.Int("dial_count", len(cat.Dials)),
		attribute.Int("group_count", len(cat.Groups)),
	)

	r.logger.Info("dial catalog loaded",
		slog.String("source", source),
		slog.String("model_id", file.ModelID),
		slog.Int("dial_count", len(cat.Dials)),
		slog.Int("group_count", len(cat.Groups)))

	return nil
}

// Info returns metadata about the currently loaded catalog. The zero
// Info is returned before the first successful load.
func (r *Registry) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// Path returns the external catalog path the registry would load from,
// or empty when only the embedded catalog is in play.
func (r *Registry) Path() string {
	if r.path != "" {
		return r.path
	}
	return os.Getenv(PathEnvVar)
}

// resolveSource picks the catalog bytes: the external file when one is
// configured and readable, the embedded default otherwise.
func (r *Registry) resolveSource(ctx context.Context) (data []byte, source, path string) {
	path = r.Path()
	if path != "" {
		external, err := loadExternalYAML(ctx, path)
		if err == nil {
			return external, "external", path
		}
		r.logger.Warn("external dial catalog not available, using embedded default",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return defaultCatalogYAML, "embedded", ""
}

// loadExternalYAML reads an external catalog file with path and size checks.
func loadExternalYAML(ctx context.Context, path string) ([]byte, error) {
	_, span := catalogTracer.Start(ctx, "catalog.LoadExternal")
	defer span.End()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("loadExternalYAML: path traversal not allowed: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("catalog file too large: %d bytes (max %d)", info.Size(), MaxYAMLFileSize)
	}
	span.SetAttributes(attribute.Int64("file_size", info.Size()))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// =============================================================================
// Parsing
// =============================================================================

// parseCatalogYAML parses and validates catalog bytes.
func parseCatalogYAML(data []byte) (dials.Catalog, catalogFileYAML, error) {
	var file catalogFileYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return dials.Catalog{}, file, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if err := catalogValidate.Struct(&file); err != nil {
		return dials.Catalog{}, file, fmt.Errorf("validating catalog: %w", err)
	}

	cat, err := convertCatalog(file)
	if err != nil {
		return dials.Catalog{}, file, err
	}
	return cat, file, nil
}

// convertCatalog converts the file schema into the runtime catalog,
// enforcing the structural rules the tag validators cannot express.
func convertCatalog(file catalogFileYAML) (dials.Catalog, error) {
	if _, ok := features.Lookup(file.ModelID); !ok {
		return dials.Catalog{}, fmt.Errorf("convertCatalog: unknown model %q", file.ModelID)
	}

	cat := dials.Catalog{
		Dials:  make([]dials.Dial, 0, len(file.Dials)),
		Groups: make([]dials.Group, 0, len(file.Groups)),
	}

	seenDials := make(map[string]struct{}, len(file.Dials))
	for _, d := range file.Dials {
		if _, dup := seenDials[d.ID]; dup {
			return dials.Catalog{}, fmt.Errorf("convertCatalog: duplicate dial id %q", d.ID)
		}
		seenDials[d.ID] = struct{}{}

		polarity := dials.Polarity(d.Polarity)
		min, max := polarity.Bounds()
		if d.DefaultValue < min || d.DefaultValue > max {
			return dials.Catalog{}, fmt.Errorf("convertCatalog: dial %q default %v outside [%v, %v]",
				d.ID, d.DefaultValue, min, max)
		}

		trace := make([]dials.TraceFeature, 0, len(d.Trace))
		for _, t := range d.Trace {
			ref, _ := features.Parse(t.Feature)
			if ref.ModelID != file.ModelID {
				return dials.Catalog{}, fmt.Errorf("convertCatalog: dial %q traces feature %q of a different model",
					d.ID, t.Feature)
			}
			trace = append(trace, dials.TraceFeature{FeatureID: t.Feature, Weight: t.Weight})
		}

		cat.Dials = append(cat.Dials, dials.Dial{
			ID:           d.ID,
			Label:        d.Label,
			Value:        d.DefaultValue,
			DefaultValue: d.DefaultValue,
			Polarity:     polarity,
			Trace:        trace,
			Color:        d.Color,
			Locked:       d.Locked,
		})
	}

	seenGroups := make(map[string]struct{}, len(file.Groups))
	for _, g := range file.Groups {
		if _, dup := seenGroups[g.ID]; dup {
			return dials.Catalog{}, fmt.Errorf("convertCatalog: duplicate group id %q", g.ID)
		}
		seenGroups[g.ID] = struct{}{}

		for _, id := range g.Dials {
			if _, ok := seenDials[id]; !ok {
				return dials.Catalog{}, fmt.Errorf("convertCatalog: group %q references unknown dial %q", g.ID, id)
			}
		}

		cat.Groups = append(cat.Groups, dials.Group{
			ID:        g.ID,
			Label:     g.Label,
			DialIDs:   append([]string(nil), g.Dials...),
			Collapsed: g.Collapsed,
		})
	}

	return cat, nil
}

// cloneCatalog deep-copies a catalog so callers cannot mutate the cache.
func cloneCatalog(cat dials.Catalog) dials.Catalog {
	out := dials.Catalog{
		Dials:  make([]dials.Dial, 0, len(cat.Dials)),
		Groups: make([]dials.Group, 0, len(cat.Groups)),
	}
	for _, d := range cat.Dials {
		out.Dials = append(out.Dials, d.Clone())
	}
	for _, g := range cat.Groups {
		out.Groups = append(out.Groups, g.Clone())
	}
	return out
}
