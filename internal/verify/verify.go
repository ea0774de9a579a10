package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"tulip/internal/backend"
	"tulip/internal/catalog"
	"tulip/internal/digest"
	"tulip/internal/models"
)

const defaultBatchSize = 500

// Options tunes a verification run.
type Options struct {
	// SampleRate is the probability that an existing location is re-read
	// and re-hashed. 1.0 checks every digest, 0 checks existence only.
	SampleRate float64
	// BatchSize bounds how many location records are held in memory per
	// catalog scan page.
	BatchSize int
	Logger    *slog.Logger
}

// Verifier reconciles catalog records against physical backend state. It
// reports and records drift but never deletes catalog rows; repair is an
// operator decision.
type Verifier struct {
	catalog  *catalog.Catalog
	backends *backend.Registry

	sampleRate float64
	batchSize  int
	logger     *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Report summarizes one verification run.
type Report struct {
	CheckedLocations int `json:"checked_locations"`
	SampledDigests   int `json:"sampled_digests"`
	MissingLocations int `json:"missing_locations"`
	CorruptLocations int `json:"corrupt_locations"`
	OrphanedPaths    int `json:"orphaned_paths"`
	// Orphans lists stored paths per backend that no location record
	// accounts for.
	Orphans  map[string][]string              `json:"orphans,omitempty"`
	Statuses map[digest.Address]models.Status `json:"statuses"`
}

// New builds a Verifier.
func New(cat *catalog.Catalog, backends *backend.Registry, opts Options) (*Verifier, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if backends == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	if opts.SampleRate < 0 || opts.SampleRate > 1 {
		return nil, fmt.Errorf("sample rate must be in [0, 1], got %v", opts.SampleRate)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		catalog:    cat,
		backends:   backends,
		sampleRate: opts.SampleRate,
		batchSize:  batchSize,
		logger:     logger,
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// objectTally accumulates per-object findings across a run.
type objectTally struct {
	missing int
	corrupt int
	sampled int
	checked int
}

// Run scans every location record in batches and reconciles each against
// its backend, then sweeps the backends for orphaned bytes the catalog
// does not know about. Object statuses are updated from the aggregate
// findings: any corrupt location marks the object corrupt, any missing
// location marks it missing, and an object upgrades to verified only when
// at least one digest was sampled and every location passed.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	tallies := map[digest.Address]*objectTally{}
	report := &Report{Statuses: map[digest.Address]models.Status{}}
	catalogued := map[string]map[string]struct{}{}

	cursor := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, err := v.catalog.ScanLocations(ctx, cursor, v.batchSize)
		if err != nil {
			return nil, err
		}
		for i := range page {
			paths := catalogued[page[i].BackendID]
			if paths == nil {
				paths = map[string]struct{}{}
				catalogued[page[i].BackendID] = paths
			}
			paths[page[i].BackendPath] = struct{}{}

			if err := v.checkLocation(ctx, page[i], tallies, report); err != nil {
				return nil, err
			}
		}
		cursor = next
		if len(page) < v.batchSize {
			break
		}
	}

	if err := v.scanOrphans(ctx, catalogued, report); err != nil {
		return nil, err
	}
	if err := v.applyFindings(ctx, tallies, report); err != nil {
		return nil, err
	}
	return report, nil
}

// scanOrphans lists every backend and reports stored paths that no
// location record accounts for. Orphans are reported, never deleted.
func (v *Verifier) scanOrphans(ctx context.Context, catalogued map[string]map[string]struct{}, report *Report) error {
	for _, id := range v.backends.IDs() {
		b, err := v.backends.Get(id)
		if err != nil {
			return err
		}
		paths, err := b.List(ctx, "")
		if err != nil {
			return err
		}
		for _, path := range paths {
			if _, ok := catalogued[id][path]; ok {
				continue
			}
			if report.Orphans == nil {
				report.Orphans = map[string][]string{}
			}
			report.Orphans[id] = append(report.Orphans[id], path)
			report.OrphanedPaths++
			v.logger.Warn("backend bytes have no catalog record", "backend", id, "path", path)
		}
	}
	return nil
}

// RunObject verifies a single object's locations and returns its
// resulting status. The backend-wide orphan sweep only happens in Run.
func (v *Verifier) RunObject(ctx context.Context, address digest.Address) (models.Status, error) {
	object, err := v.catalog.GetObject(ctx, address)
	if err != nil {
		return "", err
	}

	tallies := map[digest.Address]*objectTally{}
	report := &Report{Statuses: map[digest.Address]models.Status{}}
	for _, location := range object.Locations {
		if err := v.checkLocation(ctx, location, tallies, report); err != nil {
			return "", err
		}
	}
	if err := v.applyFindings(ctx, tallies, report); err != nil {
		return "", err
	}
	if status, ok := report.Statuses[address]; ok {
		return status, nil
	}
	return object.Status, nil
}

func (v *Verifier) checkLocation(ctx context.Context, location models.Location, tallies map[digest.Address]*objectTally, report *Report) error {
	tally := tallies[location.ContentAddress]
	if tally == nil {
		tally = &objectTally{}
		tallies[location.ContentAddress] = tally
	}
	tally.checked++
	report.CheckedLocations++

	b, err := v.backends.Get(location.BackendID)
	if err != nil {
		return err
	}

	exists, err := b.Exists(ctx, location.BackendPath)
	if err != nil {
		return err
	}
	if !exists {
		tally.missing++
		report.MissingLocations++
		v.logger.Warn("catalogued bytes missing from backend",
			"address", location.ContentAddress, "backend", location.BackendID, "path", location.BackendPath)
		return nil
	}

	if !v.sample() {
		return nil
	}
	tally.sampled++
	report.SampledDigests++

	rc, err := b.Read(ctx, location.BackendPath)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			// Raced with an external delete between Exists and Read.
			tally.missing++
			report.MissingLocations++
			return nil
		}
		return err
	}
	got, _, err := digest.FromReader(location.ContentAddress.Algorithm(), rc)
	closeErr := rc.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	if got != location.ContentAddress {
		tally.corrupt++
		report.CorruptLocations++
		v.logger.Warn("digest mismatch at backend location",
			"address", location.ContentAddress, "backend", location.BackendID, "path", location.BackendPath, "actual", got)
	}
	return nil
}

func (v *Verifier) applyFindings(ctx context.Context, tallies map[digest.Address]*objectTally, report *Report) error {
	for address, tally := range tallies {
		var status models.Status
		switch {
		case tally.corrupt > 0:
			status = models.StatusCorrupt
		case tally.missing > 0:
			status = models.StatusMissing
		case tally.sampled > 0:
			status = models.StatusVerified
		default:
			// Existence-only pass: not strong enough to change status.
			continue
		}
		if err := v.catalog.SetStatus(ctx, address, status); err != nil {
			return err
		}
		report.Statuses[address] = status
	}
	return nil
}

func (v *Verifier) sample() bool {
	if v.sampleRate >= 1 {
		return true
	}
	if v.sampleRate <= 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rng.Float64() < v.sampleRate
}
