package tg_charts

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	logging "nuke-rewards/internal/infra/log"

	"github.com/cockroachdb/errors"
	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

const (
	chartWidth  = 2326
	chartHeight = 1334

	titleX = 200.0
	titleY = 120.0

	dailyX      = 1320.0
	dailyY      = 160.0
	dailyValueY = 240.0

	avgX      = 1720.0
	avgY      = 160.0
	avgValueY = 240.0

	chartAreaTop    = 400.0
	chartAreaBottom = 1200.0
	firstBarX       = 300.0
	barWidth        = 200.0
	barStep         = 250.0 // bar width + spacing

	gridLinesCount = 3
	gridLineStartX = 200.0
	gridLineEndX   = 2100.0

	titleFontSize    = 60.0
	mainFontSize     = 35.0
	barValueFontSize = 35.0
	dateFontSize     = 28.0
	valueFontSize    = 70.0

	barValueOffsetY = 40.0
	dateOffsetY     = 40.0

	ChartFileName = "rewards_chart.png"
)

// DayTotal is one bar: SOL distributed on one day.
type DayTotal struct {
	Label string
	SOL   float64
}

// fontPaths are tried in order; gg's built-in face is used when none loads.
var fontPaths = []string{
	"etc/fonts/InterVariable.ttf",
	"etc/fonts/Inter-Regular.ttf",
	"~/Library/Fonts/InterVariable.ttf",
	"/Library/Fonts/Inter-Regular.ttf",
	"/usr/share/fonts/truetype/inter/Inter-Regular.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
}

type fontLoader struct {
	dc   *gg.Context
	path string
}

func newFontLoader(dc *gg.Context) *fontLoader {
	for _, p := range fontPaths {
		expanded := expandPath(p)
		if _, err := os.Stat(expanded); err != nil {
			continue
		}
		if err := dc.LoadFontFace(expanded, mainFontSize); err != nil {
			logging.LogWarn("Font file exists but failed to load", zap.String("path", expanded), zap.Error(err))
			continue
		}
		return &fontLoader{dc: dc, path: expanded}
	}
	logging.LogWarn("No chart font found, using default face", zap.Int("paths_checked", len(fontPaths)))
	return &fontLoader{dc: dc}
}

func (f *fontLoader) size(points float64) {
	if f.path != "" {
		f.dc.LoadFontFace(f.path, points)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GenerateDistributionChart renders one bar per day and writes the PNG into dir.
func GenerateDistributionChart(days []DayTotal, last24h, avgDaily float64, dir string) (string, error) {
	if len(days) == 0 {
		return "", errors.New("no distribution data available")
	}

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetColor(color.Black)
	dc.Clear()
	fonts := newFontLoader(dc)

	dc.SetColor(color.White)
	fonts.size(titleFontSize)
	dc.DrawString("Holder Rewards", titleX, titleY)

	fonts.size(mainFontSize)
	dc.DrawString("Distributed 24h", dailyX, dailyY)
	fonts.size(valueFontSize)
	dc.SetColor(color.RGBA{0, 255, 0, 255})
	dc.DrawString(FormatSOL(last24h), dailyX, dailyValueY)

	dc.SetColor(color.White)
	fonts.size(mainFontSize)
	dc.DrawString("Average Daily", avgX, avgY)
	fonts.size(valueFontSize)
	dc.DrawString(FormatSOL(avgDaily), avgX, avgValueY)

	maxValue := 0.0
	for _, d := range days {
		if d.SOL > maxValue {
			maxValue = d.SOL
		}
	}
	if maxValue == 0 {
		maxValue = 1.0
	}
	chartAreaHeight := chartAreaBottom - chartAreaTop

	dc.SetLineWidth(1)
	for i := 0; i <= gridLinesCount; i++ {
		y := chartAreaBottom - float64(i)/float64(gridLinesCount)*chartAreaHeight
		dc.DrawLine(gridLineStartX, y, gridLineEndX, y)
		dc.Stroke()
	}

	for i, d := range days {
		barX := firstBarX + float64(i)*barStep
		barHeight := (d.SOL / maxValue) * chartAreaHeight
		barY := chartAreaBottom - barHeight

		dc.SetColor(color.RGBA{128, 128, 128, 255})
		dc.DrawRectangle(barX, barY, barWidth, barHeight)
		dc.Fill()

		dc.SetColor(color.White)
		if d.SOL > 0 {
			fonts.size(barValueFontSize)
			text := FormatSOL(d.SOL)
			w, _ := dc.MeasureString(text)
			dc.DrawString(text, barX+(barWidth-w)/2, barY-barValueOffsetY)
		}

		fonts.size(dateFontSize)
		w, _ := dc.MeasureString(d.Label)
		dc.DrawString(d.Label, barX+(barWidth-w)/2, chartAreaBottom+dateOffsetY)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create charts directory")
	}
	filename := filepath.Join(dir, ChartFileName)
	if err := dc.SavePNG(filename); err != nil {
		return "", errors.Wrap(err, "failed to save chart")
	}

	fileInfo, err := os.Stat(filename)
	if err != nil {
		return "", errors.Wrap(err, "failed to stat chart file")
	}
	if fileInfo.Size() == 0 {
		os.Remove(filename)
		return "", errors.New("chart file is empty after rendering")
	}

	logging.LogInfo("Rewards chart generated",
		zap.String("filename", filename),
		zap.Int64("fileSize", fileInfo.Size()),
		zap.Int("barsCount", len(days)))
	return filename, nil
}

// FormatSOL keeps up to 3 decimals and drops trailing zeros.
func FormatSOL(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
	return s + " SOL"
}
