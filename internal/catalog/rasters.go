// Package catalog provides file-backed implementations of the raster and
// boundary lookups the engine depends on.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/utils"
)

// Descriptor is one raster of the catalog. Year 0 marks a static layer.
type Descriptor struct {
	ID           int     `csv:"id" json:"id"`
	FilePath     string  `csv:"file_path" json:"file_path"`
	Resolution   float64 `csv:"resolution" json:"resolution"`
	Year         int     `csv:"year" json:"year"`
	AdminLevel   int     `csv:"admin_level" json:"admin_level"`
	Category     string  `csv:"category" json:"category"`
	Source       string  `csv:"source" json:"source"`
	ValueMapping string  `csv:"value_mapping" json:"value_mapping,omitempty"`
}

// Mapping decodes the value mapping, a JSON object from raw codes to
// harmonized classes.
func (d Descriptor) Mapping() (map[int]float64, error) {
	if strings.TrimSpace(d.ValueMapping) == "" {
		return nil, nil
	}
	var raw map[string]float64
	if err := json.Unmarshal([]byte(d.ValueMapping), &raw); err != nil {
		return nil, fmt.Errorf("invalid value mapping of raster %d: %w", d.ID, err)
	}
	out := make(map[int]float64, len(raw))
	for k, v := range raw {
		code, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid code %q in value mapping of raster %d", k, d.ID)
		}
		out[code] = v
	}
	return out, nil
}

// Filter selects rasters. Empty strings match anything; YearFrom and YearTo
// bound the year inclusively when non-zero. With Static set only year-0
// layers match. A non-nil AdminLevel restricts to rasters produced for that
// administrative level.
type Filter struct {
	Category   string
	Source     string
	Year       int
	YearFrom   int
	YearTo     int
	Static     bool
	AdminLevel *int
}

func (f Filter) Match(d Descriptor) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, d.Category) {
		return false
	}
	if f.AdminLevel != nil && d.AdminLevel != *f.AdminLevel {
		return false
	}
	if f.Source != "" && !strings.EqualFold(f.Source, d.Source) {
		return false
	}
	if f.Static {
		return d.Year == 0
	}
	if f.Year != 0 && d.Year != f.Year {
		return false
	}
	if f.YearFrom != 0 && d.Year < f.YearFrom {
		return false
	}
	if f.YearTo != 0 && d.Year > f.YearTo {
		return false
	}
	return true
}

type RasterStore interface {
	FindRasters(ctx context.Context, f Filter) ([]Descriptor, error)
}

// CSVStore is a raster catalog held in a CSV file. Relative file paths are
// resolved against the directory of the catalog.
type CSVStore struct {
	rasters []Descriptor
}

func LoadCSV(path string) (*CSVStore, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster catalog: %w", err)
	}
	defer file.Close()

	var rows []Descriptor
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse raster catalog: %w", err)
	}
	base := filepath.Dir(path)
	for i := range rows {
		if rows[i].FilePath != "" && !filepath.IsAbs(rows[i].FilePath) {
			rows[i].FilePath = filepath.Join(base, rows[i].FilePath)
		}
	}
	log.Info("[catalog] loaded raster catalog", zap.String("path", path), zap.Int("rasters", len(rows)))
	return &CSVStore{rasters: rows}, nil
}

func NewStore(rasters []Descriptor) *CSVStore {
	return &CSVStore{rasters: append([]Descriptor(nil), rasters...)}
}

// FindRasters returns the matching rasters ordered by year.
func (s *CSVStore) FindRasters(_ context.Context, f Filter) ([]Descriptor, error) {
	var out []Descriptor
	for _, d := range s.rasters {
		if f.Match(d) {
			out = append(out, d)
		}
	}
	utils.SortBy(out, func(d Descriptor) int { return d.Year })
	return out, nil
}

// Save writes the catalog back as CSV.
func (s *CSVStore) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create raster catalog: %w", err)
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&s.rasters, file); err != nil {
		return fmt.Errorf("failed to write raster catalog: %w", err)
	}
	return nil
}
