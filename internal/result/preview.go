package result

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/forest-guardian/ldn-engine/internal/properties"
	"github.com/forest-guardian/ldn-engine/internal/raster"
)

const legendSpacing = 20

var noClassColor = color.RGBA{R: 160, G: 160, B: 160, A: 255}

func classColor(v int) color.RGBA {
	c, ok := properties.ColorMap[v]
	if !ok {
		return noClassColor
	}
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// RenderPreview draws a quick-look PNG of a classified layer with a legend
// below it. Nodata pixels are transparent.
func RenderPreview(l raster.Layer, labels Labels, outputPath string) error {
	width, height := l.Width(), l.Height()
	if width == 0 || height == 0 {
		return fmt.Errorf("empty raster")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := l.At(y, x)
			if raster.IsNoData(v, l.NoData()) {
				continue
			}
			img.Set(x, y, classColor(int(v)))
		}
	}

	legendWidth := 160
	totalHeight := max(height, len(labels)*legendSpacing+10)
	dc := gg.NewContext(width+legendWidth, totalHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.DrawImage(img, 0, 0)

	legendX := float64(width + 10)
	for i, lbl := range labels {
		y := float64(10 + i*legendSpacing)
		c := classColor(lbl.Value)
		dc.SetRGB(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255)
		dc.DrawRectangle(legendX, y, 15, 15)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawRectangle(legendX, y, 15, 15)
		dc.SetLineWidth(1)
		dc.Stroke()
		dc.DrawStringAnchored(lbl.Label, legendX+20, y+7, 0, 0.5)
	}

	if err := dc.SavePNG(outputPath); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}
