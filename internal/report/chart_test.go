package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"fintrack/internal/core"
)

func TestPieFromResult(t *testing.T) {
	w, _ := Resolve(PeriodMonth, day(2024, 1, 7))
	res := mustAggregate(t, Input{
		Transactions: exampleSet(),
		Categories:   []core.Category{food},
		Window:       w,
		Type:         core.FilterBoth,
		Mode:         ModeCategory,
	})
	pie := PieFromResult(res)

	b, err := json.Marshal(pie)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"chartData":{"labels":["Food","Uncategorized"],"datasets":[{"data":[-200.50,1000.00],"backgroundColor":["#ff0000","#CCCCCC"],"hoverOffset":4}]},` +
		`"legendData":[{"name":"Uncategorized","color":"#CCCCCC","value":1000.00},{"name":"Food","color":"#ff0000","value":-200.50}]}`
	if string(b) != want {
		t.Fatalf("unexpected payload\n got %s\nwant %s", b, want)
	}
}

func TestBarFromResult(t *testing.T) {
	w, _ := Resolve(PeriodMonth, day(2024, 1, 7))
	res := mustAggregate(t, Input{Transactions: exampleSet(), Window: w, Type: core.FilterExpense, Mode: ModeBucket})
	bar := BarFromResult(res)

	ds := bar.ChartData.Datasets[0]
	if ds.Label != "Expense by month" || ds.BackgroundColor != "#fc5723" || ds.BorderWidth != 1 {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	if len(bar.ChartData.Labels) != 7 || ds.Data[5].Cents != 20050 || ds.Data[4].Cents != 0 {
		t.Fatalf("unexpected data %v %v", bar.ChartData.Labels, ds.Data)
	}
}

func TestRenderPNG(t *testing.T) {
	pngMagic := []byte("\x89PNG")
	w, _ := Resolve(PeriodMonth, day(2024, 1, 7))
	in := Input{Transactions: exampleSet(), Categories: []core.Category{food}, Window: w, Type: core.FilterBoth}

	in.Mode = ModeCategory
	b, err := RenderPie(mustAggregate(t, in), 400, 400)
	if err != nil {
		t.Fatalf("pie: %v", err)
	}
	if !bytes.HasPrefix(b, pngMagic) {
		t.Fatal("pie output is not a PNG")
	}

	in.Mode = ModeBucket
	b, err = RenderBar(mustAggregate(t, in), 600, 400)
	if err != nil {
		t.Fatalf("bar: %v", err)
	}
	if !bytes.HasPrefix(b, pngMagic) {
		t.Fatal("bar output is not a PNG")
	}
}

func TestRenderPieWithoutData(t *testing.T) {
	w, _ := Resolve(PeriodMonth, day(2024, 1, 7))
	res := mustAggregate(t, Input{Window: w, Type: core.FilterExpense, Mode: ModeCategory})
	if _, err := RenderPie(res, 400, 400); !errors.Is(err, ErrNoChartData) {
		t.Fatalf("expected ErrNoChartData, got %v", err)
	}
}
