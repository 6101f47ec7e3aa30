package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/paperflow/internal/outline"
)

const maxOutlineBytes = 1 << 20

type OutlinesHandler struct{}

func (h *OutlinesHandler) Register(g *echo.Group) {
	g.POST("/validate", h.validate)
}

type outlineValidation struct {
	Valid       bool                 `json:"valid"`
	Title       string               `json:"title,omitempty"`
	Sections    int                  `json:"sections,omitempty"`
	TargetWords int                  `json:"target_words,omitempty"`
	Errors      []outline.FieldError `json:"errors,omitempty"`
}

// validate checks the request body as an outline. Invalid outlines get 422
// with every field error.
func (h *OutlinesHandler) validate(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxOutlineBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) > maxOutlineBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "outline too large")
	}
	o, err := outline.Parse(body)
	if err != nil {
		var verrs outline.ValidationErrors
		if errors.As(err, &verrs) {
			return c.JSON(http.StatusUnprocessableEntity, outlineValidation{Errors: verrs})
		}
		return c.JSON(http.StatusUnprocessableEntity, outlineValidation{Errors: []outline.FieldError{{Message: err.Error()}}})
	}
	return c.JSON(http.StatusOK, outlineValidation{
		Valid:       true,
		Title:       o.Title,
		Sections:    len(o.Sections),
		TargetWords: o.TotalTargetWords(),
	})
}
