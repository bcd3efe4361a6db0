package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/piwi3910/SlabQuote/internal/export"
	"github.com/piwi3910/SlabQuote/internal/model"
)

// quoteIDRule bounds the path id. Store backends use it as a key and a
// file name.
var quoteIDRule = "required,max=" + strconv.Itoa(model.MaxQuoteIDLen) + ",printascii,excludesall=\\/"

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) quoteID(c echo.Context) (string, error) {
	id := c.Param("id")
	if err := s.validate.Var(id, quoteIDRule); err != nil || id == "." || id == ".." {
		return "", model.NewInputError("invalid quote id %q", id)
	}
	return id, nil
}

// changeRequest decodes and validates the body into a snapshot for the
// path's quote.
func (s *Server) changeRequest(c echo.Context) (string, model.Snapshot, error) {
	id, err := s.quoteID(c)
	if err != nil {
		return "", model.Snapshot{}, err
	}
	var cs model.ChangeSet
	if err := c.Bind(&cs); err != nil {
		return "", model.Snapshot{}, model.WrapError(model.CodeInput, err, "invalid request body")
	}
	if err := c.Validate(&cs); err != nil {
		return "", model.Snapshot{}, err
	}
	snap := cs.Snapshot(s.defaults)
	if err := snap.Validate(); err != nil {
		return "", model.Snapshot{}, err
	}
	return id, snap, nil
}

// optimise runs the engine synchronously and returns the committed layout.
func (s *Server) optimise(c echo.Context) error {
	id, snap, err := s.changeRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.quotes.Optimise(c.Request().Context(), id, snap)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type scheduleResponse struct {
	QuoteID string `json:"quoteId"`
	Pending bool   `json:"pending"`
}

// schedule queues a debounced background run.
func (s *Server) schedule(c echo.Context) error {
	id, snap, err := s.changeRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.quotes.Schedule(id, snap); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, scheduleResponse{QuoteID: id, Pending: true})
}

func (s *Server) layout(c echo.Context) error {
	id, err := s.quoteID(c)
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.quotes.Latest(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// layoutReport serves the committed layout as a workbook download.
func (s *Server) layoutReport(c echo.Context) error {
	id, err := s.quoteID(c)
	if err != nil {
		return s.fail(c, err)
	}
	res, err := s.quotes.Latest(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	var buf bytes.Buffer
	if err := export.WriteReport(&buf, res); err != nil {
		return s.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", id+"-layout.xlsx"))
	return c.Blob(http.StatusOK, export.XLSXContentType, buf.Bytes())
}

func (s *Server) status(c echo.Context) error {
	id, err := s.quoteID(c)
	if err != nil {
		return s.fail(c, err)
	}
	st, err := s.quotes.Status(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
