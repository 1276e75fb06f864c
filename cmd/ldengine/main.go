package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/common-nighthawk/go-figure"
	bannercolor "github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/batch"
	"github.com/forest-guardian/ldn-engine/internal/catalog"
	"github.com/forest-guardian/ldn-engine/internal/indicator"
	"github.com/forest-guardian/ldn-engine/internal/log"
	"github.com/forest-guardian/ldn-engine/internal/properties"
	"github.com/forest-guardian/ldn-engine/internal/vector"
)

var (
	catalogPath   string
	boundariesDir string
	cacheDir      string
	outputPath    string
	quiet         bool
)

func printBanner() {
	if quiet {
		return
	}
	bannercolor.Cyan(figure.NewFigure("LDN", "isometric1", true).String())
	bannercolor.Cyan(figure.NewFigure("Engine", "isometric1", true).String())
	fmt.Println()
}

func loadEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

func newEngine() (*indicator.Engine, error) {
	if catalogPath == "" {
		return nil, errors.New("a raster catalog is required (--catalog or RASTER_CATALOG)")
	}
	rasters, err := catalog.LoadCSV(catalogPath)
	if err != nil {
		return nil, err
	}
	if boundariesDir == "" {
		boundariesDir = properties.DataPath("boundaries")
	}
	var opts []indicator.Option
	if cacheDir != "" {
		opts = append(opts, indicator.WithCache(cacheDir))
	}
	if !quiet {
		opts = append(opts, indicator.WithProgressOutput(os.Stderr))
	}
	return indicator.New(rasters, catalog.NewBoundaryFiles(boundariesDir), properties.Load(), opts...), nil
}

func writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if outputPath == "" {
		_, err = fmt.Println(string(data))
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	log.Info("[cli] result written", zap.String("path", outputPath))
	return nil
}

type computeFlags struct {
	requestFile   string
	name          string
	adminLevel    int
	adminID       int
	customFile    string
	containingID  int
	start, end    int
	source        string
	resampling    string
	options       string
	authenticated bool
}

func (f computeFlags) request(cmd *cobra.Command) (indicator.Request, error) {
	var req indicator.Request
	if f.requestFile != "" {
		data, err := os.ReadFile(f.requestFile)
		if err != nil {
			return req, fmt.Errorf("failed to read request: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse request: %w", err)
		}
		return req, nil
	}

	name, err := indicator.ParseName(f.name)
	if err != nil {
		return req, err
	}
	req = indicator.Request{
		Indicator:     name,
		Authenticated: f.authenticated,
		Base: indicator.Base{
			Years:      indicator.YearRange{Start: f.start, End: f.end},
			Source:     f.source,
			Resampling: f.resampling,
		},
	}
	if f.customFile != "" {
		coords, err := os.ReadFile(f.customFile)
		if err != nil {
			return req, fmt.Errorf("failed to read custom polygon: %w", err)
		}
		req.Vector.CustomCoords = coords
		if cmd.Flags().Changed("containing-admin-id") {
			id, level := f.containingID, f.adminLevel
			req.Vector.ContainingAdminID = &id
			req.Vector.AdminLevel = &level
		}
	} else {
		level, id := f.adminLevel, f.adminID
		req.Vector.AdminLevel, req.Vector.AdminID = &level, &id
	}
	if f.options != "" {
		req.Options = json.RawMessage(f.options)
	}
	return req, nil
}

func computeCmd() *cobra.Command {
	var f computeFlags
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute one indicator for an administrative unit or a custom polygon",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd)
			if err != nil {
				return err
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}
			env, err := engine.Compute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(env)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.requestFile, "request", "r", "", "JSON request file; overrides the other request flags")
	fl.StringVarP(&f.name, "indicator", "i", "", "indicator name, see the names command")
	fl.IntVar(&f.adminLevel, "admin-level", vector.Country, "administrative level, -2 continental to 2 second-level")
	fl.IntVar(&f.adminID, "admin-id", 0, "administrative unit id")
	fl.StringVar(&f.customFile, "custom", "", "GeoJSON file with a custom polygon")
	fl.IntVar(&f.containingID, "containing-admin-id", 0, "unit of --admin-level the custom polygon must lie in")
	fl.IntVar(&f.start, "start", 0, "base year")
	fl.IntVar(&f.end, "end", 0, "target year")
	fl.StringVar(&f.source, "source", "", "raster datasource")
	fl.StringVar(&f.resampling, "resampling", "", "resampling of continuous inputs: near or average")
	fl.StringVar(&f.options, "options", "", "indicator options as a JSON object")
	fl.BoolVar(&f.authenticated, "authenticated", false, "apply the authenticated polygon limit")
	return cmd
}

func batchCmd() *cobra.Command {
	var (
		workers  int
		failFast bool
	)
	cmd := &cobra.Command{
		Use:   "batch <requests.json>",
		Short: "Compute a JSON array of requests concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := batch.LoadRequests(args[0])
			if err != nil {
				return err
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}
			opts := []batch.Option{batch.WithWorkers(workers)}
			if failFast {
				opts = append(opts, batch.FailFast())
			}
			if !quiet {
				opts = append(opts, batch.WithProgressOutput(os.Stderr))
			}
			items, runErr := batch.Run(cmd.Context(), engine, reqs, opts...)
			ok, failed := batch.Summary(items)
			log.Info("[cli] batch finished", zap.Int("ok", ok), zap.Int("failed", failed))
			if err := writeJSON(items); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "number of concurrent computations")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed request")
	return cmd
}

func checkPolygonCmd() *cobra.Command {
	var (
		source        string
		authenticated bool
	)
	cmd := &cobra.Command{
		Use:     "check-polygon <polygon.geojson>",
		Aliases: []string{"area"},
		Short:   "Report the area of a custom polygon and whether it is within the processing limits",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, err := vector.ParseGeometry(data)
			if err != nil {
				return err
			}
			settings := properties.Load()
			area := vector.PolygonAreaHectares(g, settings.AreaMode)
			check := vector.QueueThresholdCheck(area, authenticated, settings.LimitsFor(source))
			return writeJSON(map[string]any{
				"area_ha":    area,
				"exceeded":   check.Exceeded,
				"must_queue": check.MustQueue,
				"message":    check.Message,
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "datasource whose limits apply")
	cmd.Flags().BoolVar(&authenticated, "authenticated", false, "apply the authenticated limit")
	return cmd
}

func namesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "names",
		Short: "List the indicators",
		Run: func(cmd *cobra.Command, args []string) {
			for _, n := range indicator.Names() {
				fmt.Println(n)
			}
		},
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ldengine",
		Short:         "Land degradation indicators from raster and boundary data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			printBanner()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&catalogPath, "catalog", os.Getenv("RASTER_CATALOG"), "raster catalog CSV")
	pf.StringVar(&boundariesDir, "boundaries", os.Getenv("BOUNDARIES_DIR"), "directory of level_<n> boundary files")
	pf.StringVar(&cacheDir, "cache-dir", os.Getenv("RESULT_CACHE_DIR"), "directory caching administrative-unit results")
	pf.StringVarP(&outputPath, "output", "o", "", "write JSON here instead of stdout")
	pf.BoolVarP(&quiet, "quiet", "q", false, "no banner or progress bars")
	root.AddCommand(computeCmd(), batchCmd(), checkPolygonCmd(), namesCmd())
	return root
}

func main() {
	loadEnv()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Error("[cli] command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}
