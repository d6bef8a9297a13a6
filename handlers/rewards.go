package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"hyrebuy-backend/middleware"
	"hyrebuy-backend/models"
	"hyrebuy-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const streamPollInterval = 2 * time.Second

func SetupRewardRoutes(app *fiber.App, ledger *services.RewardsLedger, badges *services.BadgeService, auth, sseAuth, internal fiber.Handler, log *zap.Logger) {
	app.Get("/rewards/config", func(c *fiber.Ctx) error {
		return c.JSON(ledger.Config())
	})

	// Must be registered before the authenticated group so the query-token auth applies.
	app.Get("/rewards/stream", sseAuth, func(c *fiber.Ctx) error {
		return streamTransactions(c, ledger, log)
	})

	secured := app.Group("/rewards", auth)

	secured.Get("/me", func(c *fiber.Ctx) error {
		stats, err := ledger.Stats(c.UserContext(), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	secured.Get("/stats/:account_id", func(c *fiber.Ctx) error {
		accountID := c.Params("account_id")
		if uuid.Validate(accountID) != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account not found"})
		}
		stats, err := ledger.Stats(c.UserContext(), accountID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	secured.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "10"))
		entries, err := ledger.Leaderboard(c.UserContext(), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	secured.Get("/transactions", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		txns, err := ledger.History(c.UserContext(), middleware.AccountID(c), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"transactions": txns})
	})

	secured.Post("/redeem", func(c *fiber.Ctx) error {
		type Req struct {
			Points      int64  `json:"points" validate:"required,gt=0"`
			Description string `json:"description" validate:"max=500"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		res, err := ledger.Redeem(c.UserContext(), middleware.AccountID(c), req.Points, req.Description)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	secured.Get("/badges", func(c *fiber.Ctx) error {
		list, err := badges.ListForAccount(c.UserContext(), middleware.AccountID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"badges": list})
	})

	// Service-to-service awards for events this service does not observe itself
	// (property views and saves).
	app.Post("/internal/rewards/award", internal, func(c *fiber.Ctx) error {
		type Req struct {
			AccountID         string            `json:"account_id" validate:"required,uuid"`
			ActionType        models.ActionType `json:"action_type" validate:"required"`
			Description       string            `json:"description" validate:"max=500"`
			RelatedReferralID *string           `json:"related_referral_id" validate:"omitempty,uuid"`
			RelatedGroupID    *string           `json:"related_group_id" validate:"omitempty,uuid"`
			RelatedPropertyID *string           `json:"related_property_id" validate:"omitempty,uuid"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate(&req); err != nil {
			return respondError(c, err)
		}
		res, err := ledger.Award(c.UserContext(), services.AwardRequest{
			AccountID:   req.AccountID,
			Action:      req.ActionType,
			Description: req.Description,
			ReferralID:  req.RelatedReferralID,
			GroupID:     req.RelatedGroupID,
			PropertyID:  req.RelatedPropertyID,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}

// streamTransactions pushes new ledger entries for the caller as server-sent events.
func streamTransactions(c *fiber.Ctx, ledger *services.RewardsLedger, log *zap.Logger) error {
	accountID := middleware.AccountID(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx := context.Background()
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		var cursor time.Time
		if latest, err := ledger.History(ctx, accountID, 1); err != nil {
			log.Warn("[SSE] cursor init failed", zap.String("account_id", accountID), zap.Error(err))
		} else if len(latest) > 0 {
			cursor = latest[0].CreatedAt
		}

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				txns, err := ledger.TransactionsSince(ctx, accountID, cursor)
				if err != nil {
					log.Warn("[SSE] poll failed", zap.String("account_id", accountID), zap.Error(err))
					continue
				}
				if len(txns) == 0 {
					// keepalive comment so dead clients are noticed
					w.WriteString(":\n\n")
				}
				for _, t := range txns {
					payload, _ := json.Marshal(t)
					fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", payload)
				}
				if len(txns) > 0 {
					cursor = txns[len(txns)-1].CreatedAt
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}
