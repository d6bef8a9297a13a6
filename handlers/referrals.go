package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"hyrebuy-backend/middleware"
	"hyrebuy-backend/models"
	"hyrebuy-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupReferralRoutes(app *fiber.App, referrals *services.ReferralService, auth, rateLimit, internal fiber.Handler) {
	// Internal first: the authenticated group below would otherwise claim every /referrals path.
	app.Post("/internal/referrals/:id/convert", internal, func(c *fiber.Ctx) error {
		type Req struct {
			ConversionType string `json:"conversion_type" validate:"required,oneof=property_view group_join property_purchase"`
		}
		var req Req
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, err)
			}
		}
		if req.ConversionType == "" {
			req.ConversionType = c.Query("conversion_type")
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		res, err := referrals.Convert(c.UserContext(), c.Params("id"), req.ConversionType)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured := app.Group("/referrals", auth)

	secured.Post("/", func(c *fiber.Ctx) error {
		type Req struct {
			Source string `json:"source" validate:"omitempty,oneof=whatsapp email link group_invite"`
		}
		var req Req
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, err)
			}
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		ref, err := referrals.Create(c.UserContext(), middleware.AccountID(c), req.Source)
		if err != nil {
			return respondError(c, err)
		}
		link := referrals.Link(ref.ReferralCode)
		share := "Join HyreBuy using my referral code " + ref.ReferralCode + " - " + link
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"referral":       ref,
			"referral_link":  link,
			"whatsapp_share": "https://wa.me/?text=" + strings.ReplaceAll(url.QueryEscape(share), "+", "%20"),
		})
	})

	secured.Post("/apply/:code", rateLimit, func(c *fiber.Ctx) error {
		res, err := referrals.Apply(c.UserContext(), c.Params("code"), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := referrals.Stats(c.UserContext(), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	secured.Get("/", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		list, err := referrals.List(c.UserContext(), middleware.AccountID(c), models.ReferralStatus(c.Query("status")), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"referrals": list})
	})
}
