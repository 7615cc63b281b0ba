package http

import (
	"errors"
	"net/http"

	"fintrack/internal/cache"
	"fintrack/internal/report"
	"fintrack/internal/services"
)

// Chart image bounds in pixels.
const (
	defaultChartWidth  = 800
	defaultChartHeight = 500
	minChartSize       = 200
	maxChartSize       = 2000
)

// chartRequest reads the chart query. The legacy dataType parameter is an
// alias for type.
func chartRequest(r *http.Request, mode report.Mode) services.ReportRequest {
	q := r.URL.Query()
	typ := q.Get("type")
	if typ == "" {
		typ = q.Get("dataType")
	}
	return services.ReportRequest{Period: q.Get("period"), Type: typ, Mode: string(mode)}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	q := r.URL.Query()
	res, err := s.ledger.Report(r.Context(), sess.UserID, services.ReportRequest{
		Period: q.Get("period"),
		Type:   q.Get("type"),
		Mode:   q.Get("mode"),
	})
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().JSON(res).Write(w)
}

func (s *Server) handlePieData(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	res, err := s.ledger.Report(r.Context(), sess.UserID, chartRequest(r, report.ModeCategory))
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().JSON(report.PieFromResult(res)).Write(w)
}

func (s *Server) handleBarData(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	res, err := s.ledger.Report(r.Context(), sess.UserID, chartRequest(r, report.ModeBucket))
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().JSON(report.BarFromResult(res)).Write(w)
}

func (s *Server) handlePieChart(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	s.renderChart(w, r, sess, report.ModeCategory, report.RenderPie)
}

func (s *Server) handleBarChart(w http.ResponseWriter, r *http.Request, sess cache.Session) {
	s.renderChart(w, r, sess, report.ModeBucket, report.RenderBar)
}

func (s *Server) renderChart(w http.ResponseWriter, r *http.Request, sess cache.Session, mode report.Mode,
	render func(report.Result, int, int) ([]byte, error)) {
	res, err := s.ledger.Report(r.Context(), sess.UserID, chartRequest(r, mode))
	if err != nil {
		s.failJSON(w, r, err)
		return
	}

	q := r.URL.Query()
	width := clamp(queryInt(q, "width", defaultChartWidth), minChartSize, maxChartSize)
	height := clamp(queryInt(q, "height", defaultChartHeight), minChartSize, maxChartSize)

	img, err := render(res, width, height)
	if errors.Is(err, report.ErrNoChartData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.failJSON(w, r, err)
		return
	}
	NewResponse().PNG(img).Write(w)
}
