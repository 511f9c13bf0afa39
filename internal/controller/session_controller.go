package controller

import (
	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/pkg/serverutils"
	"clinical-workflow-be/internal/service"
	ws "clinical-workflow-be/internal/websocket"
	"clinical-workflow-be/pkg/eventbus"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Snapshot(ctx *fiber.Ctx) error
	Cancel(ctx *fiber.Ctx) error
	Advance(ctx *fiber.Ctx) error
	Reopen(ctx *fiber.Ctx) error
	SelectCode(ctx *fiber.Ctx) error
	RemoveCode(ctx *fiber.Ctx) error
	ReassignCategory(ctx *fiber.Ctx) error
	Compose(ctx *fiber.Ctx) error
	Dispatch(ctx *fiber.Ctx) error
	DispatchAttempts(ctx *fiber.Ctx) error
}

type sessionController struct {
	workflowService service.IWorkflowService
	dispatchService service.IDispatchService
	gateway         *ws.Gateway
}

func NewSessionController(workflowService service.IWorkflowService, dispatchService service.IDispatchService, gateway *ws.Gateway) ISessionController {
	return &sessionController{
		workflowService: workflowService,
		dispatchService: dispatchService,
		gateway:         gateway,
	}
}

func (c *sessionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/workflow/v1")

	// Streaming endpoint authenticates on the handshake; browsers cannot set
	// headers on websocket upgrades, so the token rides a query param.
	h.Use("sessions/:id/stream/:channel", func(ctx *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(ctx) {
			return fiber.ErrUpgradeRequired
		}
		actor, err := serverutils.ParseWsToken(ctx)
		if err != nil {
			return err
		}
		if !eventbus.ValidChannel(ctx.Params("channel")) {
			return fiber.ErrNotFound
		}
		if _, err := uuid.Parse(ctx.Params("id")); err != nil {
			return fiber.ErrBadRequest
		}
		ctx.Locals("actor", actor)
		return ctx.Next()
	})
	h.Get("sessions/:id/stream/:channel", websocket.New(c.stream))

	h.Use(serverutils.JwtMiddleware)
	h.Post("sessions", c.Create)
	h.Get("sessions/:id", c.Show)
	h.Get("sessions/:id/snapshot", c.Snapshot)
	h.Delete("sessions/:id", c.Cancel)
	h.Post("sessions/:id/steps/:step/advance", c.Advance)
	h.Post("sessions/:id/steps/:step/reopen", c.Reopen)
	h.Post("sessions/:id/codes", c.SelectCode)
	h.Delete("sessions/:id/codes/:code", c.RemoveCode)
	h.Put("sessions/:id/codes/:code/category", c.ReassignCategory)
	h.Post("sessions/:id/compose", c.Compose)
	h.Post("sessions/:id/dispatch", c.Dispatch)
	h.Get("sessions/:id/dispatch/attempts", c.DispatchAttempts)
}

func (c *sessionController) stream(conn *websocket.Conn) {
	sessionID := conn.Params("id")
	channel := eventbus.Channel(conn.Params("channel"))
	actor, _ := conn.Locals("actor").(string)

	c.gateway.ServeStream(conn, sessionID, channel, actor)
}

func (c *sessionController) Create(ctx *fiber.Ctx) error {
	var req dto.CreateSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.workflowService.CreateSession(ctx.Context(), &req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create workflow session", res))
}

func (c *sessionController) Show(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	res, err := c.workflowService.GetSession(ctx.Context(), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show workflow session", res))
}

func (c *sessionController) Snapshot(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	res, err := c.workflowService.GetSnapshot(ctx.Context(), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success snapshot workflow session", res))
}

func (c *sessionController) Cancel(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	var req dto.CancelSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.workflowService.CancelSession(ctx.Context(), id, &req); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success cancel workflow session", nil))
}

func (c *sessionController) Advance(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}
	step, err := ctx.ParamsInt("step")
	if err != nil {
		return fiber.ErrBadRequest
	}

	var req dto.AdvanceStepRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.workflowService.AdvanceStep(ctx.Context(), id, step, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success advance workflow step", res))
}

func (c *sessionController) Reopen(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}
	step, err := ctx.ParamsInt("step")
	if err != nil {
		return fiber.ErrBadRequest
	}

	var req dto.ReopenStepRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.workflowService.ReopenStep(ctx.Context(), id, step, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success reopen workflow step", res))
}

func (c *sessionController) SelectCode(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	var req dto.SelectCodeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.workflowService.SelectCode(ctx.Context(), id, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success select code", res))
}

func (c *sessionController) RemoveCode(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}
	code := ctx.Params("code")
	returnToSuggestions := ctx.QueryBool("return_to_suggestions")
	actor := ctx.Query("actor", "unknown")

	res, err := c.workflowService.RemoveCode(ctx.Context(), id, code, returnToSuggestions, actor)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success remove code", res))
}

func (c *sessionController) ReassignCategory(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}
	code := ctx.Params("code")

	var req dto.ReassignCategoryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.workflowService.ReassignCategory(ctx.Context(), id, code, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success reassign code category", res))
}

func (c *sessionController) Compose(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	var req dto.ComposeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.workflowService.Compose(ctx.Context(), id, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success compose note variants", res))
}

func (c *sessionController) Dispatch(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	var req dto.DispatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.dispatchService.Dispatch(ctx.Context(), id, req.Actor)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success dispatch workflow session", res))
}

func (c *sessionController) DispatchAttempts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	res, err := c.dispatchService.Attempts(ctx.Context(), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success list dispatch attempts", res))
}
