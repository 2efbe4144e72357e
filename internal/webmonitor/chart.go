package webmonitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/dj-oyu/posewatch/internal/engine"
)

// renderChart draws the current series as a standalone HTML bar chart.
func renderChart(chart engine.ChartEvent, controls engine.Controls) ([]byte, error) {
	data := make([]opts.BarData, len(chart.Series))
	for i, v := range chart.Series {
		data[i] = opts.BarData{Value: v}
	}

	subtitle := fmt.Sprintf("frames=%d threshold=%.0f alert=%v", chart.Frames, controls.Threshold, controls.Enabled)
	if chart.HasSignal {
		subtitle += fmt.Sprintf(" avg=%.1f", chart.Average)
	}
	if chart.Timestamp > 0 {
		ts := time.Unix(0, int64(chart.Timestamp*float64(time.Second)))
		subtitle += " " + ts.Format(time.RFC3339)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "posewatch", Theme: "dark", Width: "900px", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: "Keypoint average Y (5s)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: controls.Min, Max: controls.Max, Name: "Y (px)", NameLocation: "middle", NameGap: 40}),
	)
	bar.SetXAxis(chart.Labels).
		AddSeries("average_y", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "threshold", YAxis: controls.Threshold}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleChart(c *gin.Context) {
	_, chart := s.engine.Latest()
	if chart.Labels == nil {
		chart.Labels = engine.KeypointLabels()
	}

	page, err := renderChart(chart, s.engine.Controls())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("render error: %v", err)})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}
