package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"fintrack/internal/core"
)

// ErrNoChartData is returned when there is nothing to draw.
var ErrNoChartData = errors.New("no chart data")

type (
	// PieDataset and BarDataset follow the Chart.js dataset layout.
	PieDataset struct {
		Data            []core.Money `json:"data"`
		BackgroundColor []string     `json:"backgroundColor"`
		HoverOffset     int          `json:"hoverOffset"`
	}

	BarDataset struct {
		Label           string       `json:"label"`
		Data            []core.Money `json:"data"`
		BackgroundColor string       `json:"backgroundColor"`
		BorderColor     string       `json:"borderColor"`
		BorderWidth     int          `json:"borderWidth"`
	}

	PieChartData struct {
		Labels   []string     `json:"labels"`
		Datasets []PieDataset `json:"datasets"`
	}

	BarChartData struct {
		Labels   []string     `json:"labels"`
		Datasets []BarDataset `json:"datasets"`
	}

	LegendItem struct {
		Name  string     `json:"name"`
		Color string     `json:"color"`
		Value core.Money `json:"value"`
	}

	// PieResponse is the payload of the category breakdown endpoint.
	PieResponse struct {
		ChartData  PieChartData `json:"chartData"`
		LegendData []LegendItem `json:"legendData"`
	}

	// BarResponse is the payload of the time series endpoint.
	BarResponse struct {
		ChartData BarChartData `json:"chartData"`
	}
)

// PieFromResult converts a category-mode result to the pie payload.
func PieFromResult(res Result) PieResponse {
	ds := PieDataset{
		Data:            make([]core.Money, 0, len(res.Entries)),
		BackgroundColor: make([]string, 0, len(res.Entries)),
		HoverOffset:     4,
	}
	labels := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		labels = append(labels, e.Label)
		ds.Data = append(ds.Data, e.Value)
		ds.BackgroundColor = append(ds.BackgroundColor, e.Color)
	}
	legend := make([]LegendItem, 0, len(res.Legend))
	for _, e := range res.Legend {
		legend = append(legend, LegendItem{Name: e.Label, Color: e.Color, Value: e.Value})
	}
	return PieResponse{
		ChartData:  PieChartData{Labels: labels, Datasets: []PieDataset{ds}},
		LegendData: legend,
	}
}

// BarFromResult converts a bucket-mode result to the bar payload.
func BarFromResult(res Result) BarResponse {
	color := BarColor(res.Type)
	ds := BarDataset{
		Label:           BarTitle(res.Type, res.Period),
		Data:            make([]core.Money, 0, len(res.Entries)),
		BackgroundColor: color,
		BorderColor:     color,
		BorderWidth:     1,
	}
	labels := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		labels = append(labels, e.Label)
		ds.Data = append(ds.Data, e.Value)
	}
	return BarResponse{ChartData: BarChartData{Labels: labels, Datasets: []BarDataset{ds}}}
}

// BarTitle is the dataset label, e.g. "Expense by month".
func BarTitle(f core.TypeFilter, p Period) string {
	return fmt.Sprintf("%s by %s", f.Title(), p)
}

// RenderPie draws a category-mode result as a PNG pie chart. Slices use the
// magnitude of each entry; empty groups are left out.
func RenderPie(res Result, width, height int) ([]byte, error) {
	values := make([]chart.Value, 0, len(res.Entries))
	for _, e := range res.Entries {
		v := e.Value.Abs()
		if v.IsZero() {
			continue
		}
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s: %s", e.Label, v),
			Value: v.Float(),
			Style: chart.Style{
				FillColor:   hexColor(e.Color),
				StrokeColor: chart.ColorWhite,
				FontSize:    12,
				FontColor:   chart.ColorBlack,
			},
		})
	}
	if len(values) == 0 {
		return nil, ErrNoChartData
	}

	pie := chart.PieChart{
		Title:  fmt.Sprintf("%s by category (%s)", res.Type.Title(), res.Period),
		Width:  width,
		Height: height,
		Values: values,
		Background: chart.Style{
			Padding:   chart.Box{Top: 50, Left: 50, Right: 50, Bottom: 50},
			FillColor: chart.ColorWhite,
		},
	}

	buf := bytes.NewBuffer(nil)
	if err := pie.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("render pie chart: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBar draws a bucket-mode result as a PNG bar chart.
func RenderBar(res Result, width, height int) ([]byte, error) {
	if len(res.Entries) == 0 {
		return nil, ErrNoChartData
	}
	color := hexColor(BarColor(res.Type))
	bars := make([]chart.Value, 0, len(res.Entries))
	minV, maxV := 0.0, 0.0
	for _, e := range res.Entries {
		v := e.Value.Float()
		minV, maxV = min(minV, v), max(maxV, v)
		bars = append(bars, chart.Value{
			Label: e.Label,
			Value: v,
			Style: chart.Style{FillColor: color, StrokeColor: color, StrokeWidth: 1},
		})
	}
	if minV == maxV {
		maxV = minV + 1
	}

	graph := chart.BarChart{
		Title:    BarTitle(res.Type, res.Period),
		Width:    width,
		Height:   height,
		BarWidth: max(8, (width-100)/(2*len(bars))),
		Background: chart.Style{
			Padding:   chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
			FillColor: chart.ColorWhite,
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: minV, Max: maxV},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.2f", f)
				}
				return ""
			},
		},
		UseBaseValue: minV < 0,
		BaseValue:    0,
		Bars:         bars,
	}

	buf := bytes.NewBuffer(nil)
	if err := graph.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("render bar chart: %w", err)
	}
	return buf.Bytes(), nil
}

// hexColor parses #RGB or #RRGGBB; anything else renders gray.
func hexColor(s string) drawing.Color {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return drawing.ColorFromHex("CCCCCC")
	}
	return drawing.ColorFromHex(h)
}
