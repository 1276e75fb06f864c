package properties

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ClippingAlgorithm string

const (
	AllTouched  ClippingAlgorithm = "All Touched"
	PixelCenter ClippingAlgorithm = "Pixel Center"
)

type AreaMode string

const (
	AreaMercator AreaMode = "mercator"
	AreaGeodesic AreaMode = "geodesic"
)

const (
	DefaultNodata             = -32768.0
	DefaultPercentileWidening = 0.05
	DefaultGuestLimitHa       = 1_000_000.0
	DefaultAuthLimitHa        = 10_000_000.0
)

// PolygonLimits holds the custom-polygon area thresholds, in hectares.
type PolygonLimits struct {
	Guest         float64 `json:"guest"`
	Authenticated float64 `json:"authenticated"`
}

type Settings struct {
	RootPath           string
	ScratchDir         string
	OutputDir          string
	Clipping           ClippingAlgorithm
	EnableTiles        bool
	EnablePreview      bool
	CacheLimit         int
	DefaultNodata      float64
	PolygonLimits      PolygonLimits
	DatasourceLimits   map[string]PolygonLimits
	PercentileWidening float64
	AreaMode           AreaMode
	DownloadBaseURL    string
	WMSURL             string
	WMSWorkspace       string
}

func RootPath() string {
	return os.Getenv("ROOT_PATH")
}

func DataPath(elem ...string) string {
	return filepath.Join(append([]string{RootPath(), "data"}, elem...)...)
}

// Load reads the settings from the environment, falling back to defaults
// for anything unset or malformed.
func Load() Settings {
	s := Settings{
		RootPath:           RootPath(),
		ScratchDir:         envOr("SCRATCH_DIR", DataPath("scratch")),
		OutputDir:          envOr("OUTPUT_DIR", DataPath("result")),
		Clipping:           parseClipping(os.Getenv("RASTER_CLIPPING_ALGORITHM")),
		EnableTiles:        envBool("ENABLE_TILES", false),
		EnablePreview:      envBool("ENABLE_PREVIEW", false),
		CacheLimit:         envInt("CACHE_LIMIT", 0),
		DefaultNodata:      envFloat("DEFAULT_NODATA", DefaultNodata),
		PercentileWidening: envFloat("PERCENTILE_WIDENING", DefaultPercentileWidening),
		AreaMode:           AreaMercator,
		DownloadBaseURL:    os.Getenv("DOWNLOAD_BASE_URL"),
		WMSURL:             os.Getenv("WMS_URL"),
		WMSWorkspace:       envOr("WMS_WORKSPACE", "ldn"),
		PolygonLimits: PolygonLimits{
			Guest:         envFloat("GUEST_POLYGON_LIMIT_HA", DefaultGuestLimitHa),
			Authenticated: envFloat("AUTH_POLYGON_LIMIT_HA", DefaultAuthLimitHa),
		},
		DatasourceLimits: map[string]PolygonLimits{},
	}
	if strings.EqualFold(os.Getenv("AREA_MODE"), string(AreaGeodesic)) {
		s.AreaMode = AreaGeodesic
	}
	if raw := os.Getenv("DATASOURCE_POLYGON_LIMITS"); raw != "" {
		var limits map[string]PolygonLimits
		if err := json.Unmarshal([]byte(raw), &limits); err == nil {
			for k, v := range limits {
				s.DatasourceLimits[strings.ToLower(k)] = v
			}
		}
	}
	return s
}

// LimitsFor returns the polygon limits of a datasource, or the system-wide
// limits when the datasource has no override.
func (s Settings) LimitsFor(source string) PolygonLimits {
	if l, ok := s.DatasourceLimits[strings.ToLower(source)]; ok {
		return l
	}
	return s.PolygonLimits
}

func parseClipping(v string) ClippingAlgorithm {
	if strings.EqualFold(strings.TrimSpace(v), string(PixelCenter)) {
		return PixelCenter
	}
	return AllTouched
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || math.IsNaN(v) {
		return def
	}
	return v
}

type Color struct {
	R, G, B uint8
}

// ColorMap holds the preview colors of the classified outputs, keyed by class
// value. Values outside the map are drawn grey.
var ColorMap = map[int]Color{
	-1: {215, 25, 28},
	0:  {255, 255, 191},
	1:  {26, 150, 65},
	2:  {166, 217, 106},
	3:  {253, 174, 97},
	4:  {244, 109, 67},
	5:  {165, 0, 38},
	6:  {116, 173, 209},
	7:  {0, 104, 55},
	8:  {84, 39, 136},
}
