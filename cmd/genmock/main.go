// Command genmock writes synthetic monthly CHIRPS-like rainfall GeoTIFFs over
// the Kenya ASAL region and, optionally, seeds a database with sample
// sub-counties, the raster catalog and a rainfall history. The output lets the
// predictor run locally without downloading CHIRPS.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/chirps \
//	  -end 2024-03 -months 24 \
//	  -seed-db
//
// With -seed-db, DATABASE_URL is read from the environment or a .env file.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/geotiff"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/raster"
)

// 0.1 degree pixels over domain.KenyaASAL.
const (
	gridRows = 105
	gridCols = 85

	historyFirstYear = 1991
)

var sampleUnits = []domain.AdministrativeUnit{
	{Code: "KE023001", Name: "Turkana North", CountyCode: "023", CountyName: "Turkana", Population: 65218,
		Extent: domain.BBox{MinLat: 4.0, MaxLat: 5.0, MinLon: 34.8, MaxLon: 36.0}},
	{Code: "KE023002", Name: "Turkana West", CountyCode: "023", CountyName: "Turkana", Population: 239627,
		Extent: domain.BBox{MinLat: 3.2, MaxLat: 4.6, MinLon: 34.0, MaxLon: 35.2}},
	{Code: "KE023003", Name: "Turkana Central", CountyCode: "023", CountyName: "Turkana", Population: 185305,
		Extent: domain.BBox{MinLat: 2.8, MaxLat: 3.8, MinLon: 35.2, MaxLon: 36.1}},
	{Code: "KE023004", Name: "Turkana South", CountyCode: "023", CountyName: "Turkana", Population: 153736,
		Extent: domain.BBox{MinLat: 1.5, MaxLat: 2.7, MinLon: 35.3, MaxLon: 36.3}},
	{Code: "KE010001", Name: "North Horr", CountyCode: "010", CountyName: "Marsabit", Population: 76540,
		Extent: domain.BBox{MinLat: 2.8, MaxLat: 4.4, MinLon: 36.2, MaxLon: 38.2}},
	{Code: "KE010002", Name: "Laisamis", CountyCode: "010", CountyName: "Marsabit", Population: 86879,
		Extent: domain.BBox{MinLat: 1.0, MaxLat: 2.6, MinLon: 37.0, MaxLon: 38.6}},
	{Code: "KE008001", Name: "Wajir North", CountyCode: "008", CountyName: "Wajir", Population: 81237},
	{Code: "KE007001", Name: "Lagdera", CountyCode: "007", CountyName: "Garissa", Population: 92401},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "data/chirps", "directory to write GeoTIFFs into")
	endFlag := flag.String("end", "2024-03", "last month to generate, YYYY-MM")
	months := flag.Int("months", 24, "number of months to generate, ending at -end")
	seedDB := flag.Bool("seed-db", false, "seed units, raster catalog and history into DATABASE_URL")
	flag.Parse()

	end, err := time.Parse("2006-01", *endFlag)
	if err != nil {
		return fmt.Errorf("invalid -end %q: %w", *endFlag, err)
	}
	if *months < 1 {
		return errors.New("-months must be at least 1")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	region := domain.KenyaASAL
	gt := raster.GeoTransformFor(region, gridRows, gridCols)

	assets := make([]domain.RasterAsset, 0, *months)
	for i := *months - 1; i >= 0; i-- {
		m := end.AddDate(0, -i, 0)
		path := filepath.Join(*outDir, domain.CHIRPSFileName(domain.Monthly, m.Year(), int(m.Month()), 0))

		if err := geotiff.WriteGrid(path, syntheticMonth(region, m), gt); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		asset, err := domain.NewRasterAsset(domain.Monthly, m.Year(), int(m.Month()), 0, path, domain.StatusCompleted)
		if err != nil {
			return err
		}
		asset.Extent = region
		if asset.Checksum, err = checksum(path); err != nil {
			return err
		}
		assets = append(assets, asset)
		log.Printf("%s: wrote %s", m.Format("2006-01"), path)
	}
	log.Printf("total: %d rasters", len(assets))

	if !*seedDB {
		return nil
	}
	return seed(assets, end.Year())
}

// seed upserts the sample units, the generated catalog and a monthly history
// for every unit from historyFirstYear to the year before lastYear.
func seed(assets []domain.RasterAsset, lastYear int) error {
	_ = godotenv.Load()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return errors.New("DATABASE_URL is required with -seed-db")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	store := postgres.NewStore(pool)

	if err := store.UpsertUnits(ctx, sampleUnits); err != nil {
		return err
	}
	if err := store.RegisterRasters(ctx, assets); err != nil {
		return err
	}

	var history []postgres.HistoryPoint
	for _, u := range sampleUnits {
		bbox := u.Extent
		if !bbox.Valid() {
			bbox = domain.KenyaASAL
		}
		lat, lon := (bbox.MinLat+bbox.MaxLat)/2, (bbox.MinLon+bbox.MaxLon)/2
		for y := historyFirstYear; y < lastYear; y++ {
			for m := time.January; m <= time.December; m++ {
				rng := monthRand(time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), u.Code)
				history = append(history, postgres.HistoryPoint{
					UnitCode: u.Code,
					Year:     y,
					Month:    m,
					PrecipMM: rainfall(lat, lon, m, rng),
				})
			}
		}
	}
	if err := store.RecordHistory(ctx, history); err != nil {
		return err
	}

	log.Printf("seeded %d units, %d rasters, %d history points", len(sampleUnits), len(assets), len(history))
	return nil
}

// syntheticMonth renders one month of rainfall in mm. The Indian Ocean corner
// of the region is NoData.
func syntheticMonth(region domain.BBox, month time.Time) *raster.Grid {
	g := raster.NewGrid(gridRows, gridCols)
	rng := monthRand(month, "grid")
	latStep := (region.MaxLat - region.MinLat) / gridRows
	lonStep := (region.MaxLon - region.MinLon) / gridCols

	for r := 0; r < gridRows; r++ {
		lat := region.MaxLat - (float64(r)+0.5)*latStep
		for c := 0; c < gridCols; c++ {
			lon := region.MinLon + (float64(c)+0.5)*lonStep
			if lon > 41.0 && lat < -1.7 {
				g.Set(r, c, raster.NoData)
				continue
			}
			g.Set(r, c, rainfall(lat, lon, month.Month(), rng))
		}
	}
	return g
}

// rainfall is a bimodal East African climatology: long rains peaking in April,
// short rains in November, wetter toward the south-west highlands.
func rainfall(lat, lon float64, month time.Month, rng *rand.Rand) float64 {
	m := float64(month)
	season := math.Exp(-math.Pow(m-4, 2)/1.5) + 0.7*math.Exp(-math.Pow(m-11, 2)/1.2)
	wetness := math.Max(0.15, 1-(lat+5)/14-(lon-33.5)/20)
	mm := (8 + 140*season) * wetness * (0.6 + 0.8*rng.Float64())
	return math.Round(mm*10) / 10
}

func monthRand(month time.Time, salt string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte(month.Format("2006-01")))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>1))
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
