package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// SceneRequest is the body of POST /v1/scenes.
type SceneRequest struct {
	Bounds    domain.Bounds          `json:"bounds"`
	Materials *domain.MaterialConfig `json:"materials,omitempty"`
}

// SubmitSceneHandler validates a scene request and schedules a generation run.
// POST /v1/scenes {"bounds":{"min_lon":11.106,"min_lat":46.056,"max_lon":11.153,"max_lat":46.077}}
func SubmitSceneHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Runs == nil {
			return errUnavailable(c, "run registry not available")
		}
		var req SceneRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if _, err := req.Bounds.BoundingBox(); err != nil {
			return errBadRequest(c, err.Error())
		}
		materials := domain.DefaultMaterials()
		if req.Materials != nil {
			materials = *req.Materials
		}

		run, err := deps.Runs.Submit(c.UserContext(), req.Bounds, materials)
		if err != nil {
			LoggerFromCtx(c.UserContext()).Error("submit scene failed", "error", err)
			return errInternal(c, err.Error())
		}

		c.Location("/v1/runs/" + run.ID)
		return c.Status(fiber.StatusAccepted).JSON(run)
	}
}

// ListRunsHandler returns generation runs, newest first.
func ListRunsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Runs == nil {
			return errUnavailable(c, "run registry not available")
		}
		offset, limit := pageParams(c, 20, 100)

		runs, total, err := deps.Runs.List(c.UserContext(), limit, offset)
		if err != nil {
			return errInternal(c, err.Error())
		}
		if runs == nil {
			runs = []domain.RunReport{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: runs, Pagination: pg})
	}
}

// GetRunHandler returns a single run report by ID.
func GetRunHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Runs == nil {
			return errUnavailable(c, "run registry not available")
		}
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "run id is required")
		}
		run, err := deps.Runs.Get(c.UserContext(), id)
		if errors.Is(err, domain.ErrNotFound) {
			return errNotFound(c, "run not found")
		}
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(run)
	}
}

// ListTransmittersHandler returns provisioned transmitters, optionally
// restricted to one run with ?run_id=.
func ListTransmittersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Runs == nil {
			return errUnavailable(c, "run registry not available")
		}
		offset, limit := pageParams(c, 20, 100)

		txs, err := deps.Runs.Transmitters(c.UserContext(), c.Query("run_id"), limit, offset)
		if err != nil {
			return errInternal(c, err.Error())
		}
		if txs == nil {
			txs = []domain.Transmitter{}
		}
		return c.JSON(txs)
	}
}
