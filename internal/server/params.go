package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"StockLens/internal/model"
)

// Default windows when a request gives no dates.
const (
	DefaultDays            = 30
	DefaultPerformanceDays = 365
	DefaultForecastDays    = 5
	DefaultForecastHistory = 90
	DefaultChartDays       = 180
	DefaultScreenLimit     = 100
)

// Messages returned for invalid date windows.
const (
	msgEndBeforeStart = "end_date must be greater than or equal to start_date"
	msgFutureDate     = "Dates cannot be in the future"
	msgDateFormat     = "Invalid date format. Please use YYYY-MM-DD format"
)

// requestError marks a client mistake; it is answered with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

type windowQuery struct {
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	Days      int    `validate:"gte=1,lte=3650"`
}

type analysisQuery struct {
	windowQuery
	Indicators []string
}

type forecastQuery struct {
	Days        int `validate:"gte=1,lte=365"`
	HistoryDays int `validate:"gte=2,lte=3650"`
}

type chartQuery struct {
	Days int `validate:"gte=2,lte=3650"`
}

type screenQuery struct {
	Limit int `validate:"gte=1,lte=10000"`
}

type portfolioQuery struct {
	windowQuery
	Symbols []string  `validate:"required,min=1,dive,required"`
	Weights []float64 `validate:"omitempty,dive,gte=0"`
}

// check runs struct validation and turns the first failure into a
// requestError.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "datetime" {
			return &requestError{msg: msgDateFormat}
		}
		return badRequest("invalid %s: failed %q check", queryName(fe.Field()), fe.Tag())
	}
	return badRequest("invalid request: %v", err)
}

func queryName(field string) string {
	switch field {
	case "StartDate":
		return "start_date"
	case "EndDate":
		return "end_date"
	case "HistoryDays":
		return "history_days"
	default:
		return strings.ToLower(field)
	}
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s: %q is not an integer", name, raw)
	}
	return v, nil
}

// listParam accepts both repeated parameters and comma separated values.
func listParam(q url.Values, name string) []string {
	var out []string
	for _, raw := range q[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func floatListParam(q url.Values, name string) ([]float64, error) {
	parts := listParam(q, name)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, badRequest("invalid %s: %q is not a number", name, p)
		}
		out[i] = v
	}
	return out, nil
}

func parseWindow(r *http.Request, defDays int) (windowQuery, error) {
	q := r.URL.Query()
	days, err := intParam(q, "days", defDays)
	if err != nil {
		return windowQuery{}, err
	}
	return windowQuery{
		StartDate: strings.TrimSpace(q.Get("start_date")),
		EndDate:   strings.TrimSpace(q.Get("end_date")),
		Days:      days,
	}, nil
}

// resolve turns a validated window into calendar dates. end defaults to
// today and start to end minus Days.
func (s *Server) resolve(w windowQuery) (start, end time.Time, err error) {
	today := model.Day(s.now())
	end = today
	if w.EndDate != "" {
		if end, err = time.Parse(model.DateLayout, w.EndDate); err != nil {
			return start, end, &requestError{msg: msgDateFormat}
		}
	}
	start = end.AddDate(0, 0, -w.Days)
	if w.StartDate != "" {
		if start, err = time.Parse(model.DateLayout, w.StartDate); err != nil {
			return start, end, &requestError{msg: msgDateFormat}
		}
	}
	if end.Before(start) {
		return start, end, &requestError{msg: msgEndBeforeStart}
	}
	if start.After(today) || end.After(today) {
		return start, end, &requestError{msg: msgFutureDate}
	}
	return start, end, nil
}
