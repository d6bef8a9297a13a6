package handlers

import (
	"strconv"

	"hyrebuy-backend/middleware"
	"hyrebuy-backend/models"
	"hyrebuy-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGroupRoutes(app *fiber.App, groups *services.GroupService, auth, rateLimit fiber.Handler) {
	secured := app.Group("/groups", auth)

	// Code-based routes come before the :id routes.
	secured.Post("/join/:code", rateLimit, func(c *fiber.Ctx) error {
		res, err := groups.RedeemInvite(c.UserContext(), c.Params("code"), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Post("/code/:code/join", rateLimit, func(c *fiber.Ctx) error {
		member, err := groups.JoinByCode(c.UserContext(), c.Params("code"), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(member)
	})

	secured.Post("/invites/:code/decline", func(c *fiber.Ctx) error {
		if err := groups.DeclineInvite(c.UserContext(), c.Params("code"), middleware.AccountID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "invite declined"})
	})

	secured.Post("/", func(c *fiber.Ctx) error {
		var req services.CreateGroupInput
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		group, err := groups.CreateGroup(c.UserContext(), middleware.AccountID(c), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"group":     group,
			"share_url": groups.GroupShareURL(group),
		})
	})

	secured.Get("/", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("limit", "20"))
		discoverableOnly, err := strconv.ParseBool(c.Query("discoverable_only", "true"))
		if err != nil {
			discoverableOnly = true
		}
		list, err := groups.ListGroups(c.UserContext(), services.GroupFilter{
			Status:           models.GroupStatus(c.Query("status")),
			Location:         c.Query("location"),
			Configuration:    c.Query("configuration"),
			DiscoverableOnly: discoverableOnly,
			Page:             page,
			Limit:            size,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"groups": list, "page": page})
	})

	secured.Get("/:id", func(c *fiber.Ctx) error {
		group, err := groups.GetGroup(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(group)
	})

	secured.Post("/:id/join", func(c *fiber.Ctx) error {
		member, err := groups.JoinDiscoverable(c.UserContext(), c.Params("id"), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(member)
	})

	secured.Get("/:id/members", func(c *fiber.Ctx) error {
		members, err := groups.ListMembers(c.UserContext(), c.Params("id"), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"members": members})
	})

	secured.Patch("/:id/status", func(c *fiber.Ctx) error {
		type Req struct {
			Status            models.GroupStatus `json:"status" validate:"required,oneof=negotiating closed cancelled"`
			FinalPricePerUnit *int64             `json:"final_price_per_unit" validate:"omitempty,gt=0"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		group, err := groups.TransitionGroup(c.UserContext(), c.Params("id"), middleware.AccountID(c), req.Status, req.FinalPricePerUnit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(group)
	})

	secured.Patch("/:id/members/me", func(c *fiber.Ctx) error {
		type Req struct {
			Status        models.MemberStatus `json:"status" validate:"required,oneof=committed deposit_paid"`
			DepositAmount *int64              `json:"deposit_amount" validate:"omitempty,gt=0"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		member, err := groups.AdvanceMember(c.UserContext(), c.Params("id"), middleware.AccountID(c), req.Status, req.DepositAmount)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(member)
	})

	secured.Post("/:id/invites", func(c *fiber.Ctx) error {
		var req services.CreateInviteInput
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, err)
			}
		}
		res, err := groups.CreateInvite(c.UserContext(), c.Params("id"), middleware.AccountID(c), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	secured.Get("/:id/messages", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		msgs, err := groups.ListMessages(c.UserContext(), c.Params("id"), middleware.AccountID(c), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"messages": msgs})
	})

	secured.Post("/:id/messages", func(c *fiber.Ctx) error {
		type Req struct {
			Message     string `json:"message" validate:"required"`
			MessageType string `json:"message_type" validate:"omitempty,oneof=text announcement"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		msg, err := groups.SendMessage(c.UserContext(), c.Params("id"), middleware.AccountID(c), req.Message, req.MessageType)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(msg)
	})

	secured.Patch("/:id/messages/:message_id/pin", func(c *fiber.Ctx) error {
		type Req struct {
			Pinned *bool `json:"pinned"`
		}
		var req Req
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, err)
			}
		}
		pinned := req.Pinned == nil || *req.Pinned
		msg, err := groups.PinMessage(c.UserContext(), c.Params("id"), c.Params("message_id"), middleware.AccountID(c), pinned)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(msg)
	})
}
