package api

import (
	"encoding/json"
	"errors"
	"net/http"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"

	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/pipeline"
	"github.com/storacha/linkdex/pkg/reporter"
)

type errorDetails struct {
	Details string `json:"details"`
}

type errorBody struct {
	Error errorDetails `json:"error"`
}

type structureBody struct {
	Structure linkdex.Structure `json:"structure"`
}

type eventsBody struct {
	Results []pipeline.Result `json:"results"`
	Error   *errorDetails     `json:"error,omitempty"`
}

func (s *Server) getReport(c echo.Context) error {
	report, err := s.reportForCID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) getStructure(c echo.Context) error {
	report, err := s.reportForCID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, structureBody{Structure: report.Structure})
}

func (s *Server) reportForCID(c echo.Context) (reporter.Report, error) {
	root, err := reporter.ParseRoot(c.Param("cid"))
	if err != nil {
		return reporter.Report{}, err
	}
	// Raw archives are listed under the CID as requested, so v0 and v1
	// requests may see different reports.
	key := root.String()
	if s.cache != nil {
		if report, ok := s.cache.Get(key); ok {
			return report, nil
		}
	}
	report, err := reporter.ReportForCID(c.Request().Context(), root, s.reporters...)
	if err != nil {
		return reporter.Report{}, err
	}
	if s.cache != nil && report.Structure == linkdex.Complete {
		s.cache.Add(key, report)
	}
	return report, nil
}

func (s *Server) getReportForKey(c echo.Context) error {
	if s.siblings == nil {
		return echo.ErrNotFound
	}
	report, err := s.siblings.ReportForKey(c.Request().Context(), c.QueryParam("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) postEvents(c echo.Context) error {
	if s.pipeline == nil {
		return echo.ErrNotFound
	}
	// SNS posts JSON as text/plain.
	var evt lambdaevents.SNSEvent
	if err := json.NewDecoder(c.Request().Body).Decode(&evt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body: "+err.Error())
	}
	results, err := s.pipeline.Handle(c.Request().Context(), evt)
	if results == nil {
		results = []pipeline.Result{}
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, eventsBody{Results: results, Error: &errorDetails{Details: err.Error()}})
	}
	return c.JSON(http.StatusOK, eventsBody{Results: results})
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	details := err.Error()
	var he *echo.HTTPError
	switch {
	case errors.Is(err, reporter.ErrInvalidCID), errors.Is(err, reporter.ErrMissingKey):
		status = http.StatusBadRequest
	case errors.Is(err, reporter.ErrForbiddenKey):
		status = http.StatusForbidden
	case errors.As(err, &he):
		status = he.Code
		details = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			details = msg
		}
	}
	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "path", c.Path(), "error", err)
	}
	if err := c.JSON(status, errorBody{Error: errorDetails{Details: details}}); err != nil {
		log.Errorw("writing error response", "error", err)
	}
}
