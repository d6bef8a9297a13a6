package handlers

import (
	"hyrebuy-backend/middleware"
	"hyrebuy-backend/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupAccountRoutes(app *fiber.App, accounts *services.AccountService, referrals *services.ReferralService, auth, rateLimit fiber.Handler, log *zap.Logger) {
	authGroup := app.Group("/auth")

	authGroup.Post("/register", rateLimit, func(c *fiber.Ctx) error {
		type Req struct {
			services.RegisterInput
			ReferralCode string `json:"referral_code"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		res, err := accounts.Register(c.UserContext(), req.RegisterInput)
		if err != nil {
			return respondError(c, err)
		}

		// A bad referral code must not fail the signup itself.
		resp := fiber.Map{"access_token": res.Token, "token_type": res.Type, "account": res.Account}
		if req.ReferralCode != "" {
			applied, err := referrals.Apply(c.UserContext(), req.ReferralCode, res.Account.ID)
			if err != nil {
				log.Warn("[ACCOUNTS] referral code not applied at signup",
					zap.String("account_id", res.Account.ID), zap.Error(err))
				resp["referral_error"] = err.Error()
			} else {
				resp["referral"] = applied
			}
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	authGroup.Post("/login", rateLimit, func(c *fiber.Ctx) error {
		type Req struct {
			Email    string `json:"email" validate:"required"`
			Password string `json:"password" validate:"required"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		res, err := accounts.Login(c.UserContext(), req.Email, req.Password)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	authGroup.Get("/me", auth, func(c *fiber.Ctx) error {
		acct, err := accounts.Get(c.UserContext(), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(acct)
	})
}
