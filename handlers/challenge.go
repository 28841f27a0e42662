// handlers/challenge_routes.go
package handlers

import (
	"challenge-settlement-system/middleware"
	"challenge-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupChallengeRoutes(app *fiber.App,
	challengeService *services.ChallengeService,
	escrowService *services.EscrowService,
	resultService *services.ResultService,
	statsService *services.StatsService,
) {
	// 🔓 Public routes — no wallet context, but still behind Gateway auth
	app.Get("/challenges", challengeService.GetChallenges)
	app.Get("/challenges/:id", challengeService.GetChallengeByID)

	// 🔐 Secured routes — require wallet context from the Gateway
	secured := app.Group("/s", middleware.WalletContextMiddleware())

	secured.Post("/challenges", challengeService.CreateChallenge)
	secured.Post("/challenges/:id/join", challengeService.JoinChallenge)
	secured.Post("/challenges/:id/cancel", challengeService.CancelChallenge)
	secured.Post("/challenges/:id/cancel-request", challengeService.RequestCancel)

	// Escrow lifecycle: lock retry after a ledger failure, payout claim
	secured.Post("/challenges/:id/locks", escrowService.LockStakes)
	secured.Post("/challenges/:id/claim", escrowService.ClaimPayout)

	// Result reporting
	secured.Post("/challenges/:id/result", resultService.SubmitResult)

	// Player aggregates
	app.Get("/players/:wallet/stats", func(c *fiber.Ctx) error {
		stats, err := statsService.GetPlayerStats(c.Params("wallet"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No stats for this wallet"})
		}
		return c.JSON(stats)
	})
}
