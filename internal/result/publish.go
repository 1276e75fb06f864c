package result

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Publisher exposes a written raster to clients.
type Publisher interface {
	Publish(ctx context.Context, rasterPath string) (downloadURL string, tiles Tiles, err error)
}

// URLPublisher derives the download URL from the raster location below
// OutputRoot and, with tiles enabled, names the WMS layer a tile server
// would serve it under. It does not contact the tile server.
type URLPublisher struct {
	BaseURL     string
	OutputRoot  string
	EnableTiles bool
	WMSURL      string
	Workspace   string
}

func (p URLPublisher) Publish(_ context.Context, rasterPath string) (string, Tiles, error) {
	rel, err := filepath.Rel(p.OutputRoot, rasterPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", Tiles{}, fmt.Errorf("raster %s is outside the output directory %s", rasterPath, p.OutputRoot)
	}
	var download string
	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil {
			return "", Tiles{}, fmt.Errorf("invalid download base url: %w", err)
		}
		u.Path = path.Join(u.Path, filepath.ToSlash(rel))
		download = u.String()
	}
	var tiles Tiles
	if p.EnableTiles && p.WMSURL != "" {
		name := strings.TrimSuffix(filepath.Base(rasterPath), filepath.Ext(rasterPath))
		tiles = Tiles{URL: p.WMSURL, Layer: p.Workspace + ":" + name}
	}
	return download, tiles, nil
}
