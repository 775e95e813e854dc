// Command validate checks a local rainfall data set before a monthly run: the
// raster catalog against the files on disk, every raster's readability and
// value ranges, sequence coverage for the target month, and the sub-county
// table with its rainfall history.
//
// Usage:
//
//	go run ./cmd/validate -month 2024-03 -seq-length 12
//
// DATABASE_URL is read from the environment or a .env file.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/geotiff"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/pipeline"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

const (
	// A month above this total is treated as a corrupt pixel.
	maxPlausibleMM = 2000.0
	// Rasters missing more than this share of the region are flagged.
	maxPctMissing = 50.0
	// SPI needs at least this many years of history to be meaningful.
	minHistoryYears = 10
	// Matches the per-step window used when assembling sequences.
	daysPerStep = 30
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	month := flag.String("month", "", "target month as YYYY-MM (default: current month)")
	seqLength := flag.Int("seq-length", 12, "monthly rasters required per sequence")
	flag.Parse()

	target := domain.Now()
	if *month != "" {
		t, err := time.Parse("2006-01", *month)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -month %q: %v\n", *month, err)
			os.Exit(2)
		}
		target = t
	}
	target = time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, time.UTC)

	_ = godotenv.Load()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	if code := run(url, target, *seqLength); code != 0 {
		os.Exit(code)
	}
}

func run(url string, target time.Time, seqLength int) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Println("=== Rainfall Data Set Validation ===")
	fmt.Println()

	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	assets, err := store.ListRasters(ctx, domain.RasterFilter{DataType: domain.Monthly})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	units, err := store.ListUnits(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	reader := geotiff.NewReader(slog.New(slog.NewTextHandler(io.Discard, nil)))
	phases := []*phase{
		validateCatalog(assets, fileChecksum),
		validateRasters(ctx, reader, assets, domain.KenyaASAL),
		validateCoverage(assets, target, seqLength),
		validateUnits(ctx, units, store, target.Month()),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Catalog: %d monthly rasters, %d sub-counties, target %s\n",
		len(assets), len(units), target.Format("2006-01"))

	for _, p := range phases {
		if len(p.notes) == 0 && p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for _, n := range p.notes {
			fmt.Printf("  %s\n", n)
		}
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phases ──

// validateCatalog checks that every completed entry has its file and, when a
// checksum was recorded, that the file still matches it.
func validateCatalog(assets []domain.RasterAsset, checksum func(path string) (string, error)) *phase {
	p := &phase{name: "Catalog / file parity"}
	for _, a := range assets {
		if !a.Usable() {
			continue
		}
		sum, err := checksum(a.FilePath)
		if err != nil {
			p.errorf("%d-%02d: %v", a.Year, a.Month, err)
			continue
		}
		if a.Checksum != "" && sum != a.Checksum {
			p.errorf("%d-%02d: checksum mismatch for %s", a.Year, a.Month, a.FilePath)
		}
	}
	return p
}

// validateRasters reads every completed raster over region and flags
// unreadable files, sparse coverage and implausible totals.
func validateRasters(ctx context.Context, reader raster.Reader, assets []domain.RasterAsset, region domain.BBox) *phase {
	p := &phase{name: "Raster integrity"}
	for _, a := range assets {
		if !a.Usable() {
			continue
		}
		g, err := reader.ReadWindow(ctx, a.FilePath, region)
		if err != nil {
			p.errorf("%d-%02d: %v", a.Year, a.Month, err)
			continue
		}
		st := raster.Statistics(g)
		switch {
		case !st.Valid:
			p.errorf("%d-%02d: no valid pixels", a.Year, a.Month)
			continue
		case st.PctMissing > maxPctMissing:
			p.errorf("%d-%02d: %.1f%% of the region is nodata", a.Year, a.Month, st.PctMissing)
		case st.Max > maxPlausibleMM:
			p.errorf("%d-%02d: max %.1f mm exceeds %.0f mm", a.Year, a.Month, st.Max, maxPlausibleMM)
		}
		p.notef("%d-%02d: mean %.1f mm, median %.1f mm, %.1f%% missing",
			a.Year, a.Month, st.Mean, st.Median, st.PctMissing)
	}
	return p
}

// validateCoverage checks that the target month has enough completed rasters
// to build a real sequence instead of the synthetic fallback.
func validateCoverage(assets []domain.RasterAsset, target time.Time, length int) *phase {
	p := &phase{name: "Sequence coverage"}
	filter := domain.RasterFilter{
		DataType: domain.Monthly,
		Status:   domain.StatusCompleted,
		From:     target.AddDate(0, 0, -length*daysPerStep),
		To:       target,
	}
	n := 0
	for _, a := range assets {
		if filter.Matches(a) && a.Usable() {
			n++
		}
	}
	if n < length {
		p.errorf("%s: %d completed rasters in window, need %d", target.Format("2006-01"), n, length)
	}
	return p
}

// validateUnits checks populations and extents, and that each unit has enough
// history for SPI in the target calendar month.
func validateUnits(ctx context.Context, units []domain.AdministrativeUnit, history pipeline.HistoryProvider, month time.Month) *phase {
	p := &phase{name: "Sub-counties / rainfall history"}
	if len(units) == 0 {
		p.errorf("no sub-counties loaded")
		return p
	}
	for _, u := range units {
		if u.Population <= 0 {
			p.errorf("%s: population %d", u.Code, u.Population)
		}
		if !u.Extent.IsZero() && !u.Extent.Valid() {
			p.errorf("%s: invalid extent %s", u.Code, u.Extent.Key())
		}
		if u.Extent.IsZero() {
			p.notef("%s: no extent, the region bbox will be used", u.Code)
		}

		h, err := history.MonthlyHistory(ctx, u.Code, month)
		if err != nil {
			p.errorf("%s: %v", u.Code, err)
			continue
		}
		if len(h) < minHistoryYears {
			p.errorf("%s: %d years of %s history, SPI needs %d", u.Code, len(h), month, minHistoryYears)
		}
	}
	return p
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
