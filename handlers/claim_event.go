// handlers/claim_event_routes.go
package handlers

import (
	"challenge-settlement-system/middleware"
	"challenge-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupClaimEventRoutes(app *fiber.App, allocator *services.ClaimAllocator) {
	// 🔓 Public read
	app.Get("/claim-events/:id", allocator.GetEvent)

	// 🔐 Claiming requires wallet context
	secured := app.Group("/s", middleware.WalletContextMiddleware())
	secured.Post("/claim-events/:id/claim", allocator.Claim)

	// 🛡️ Event administration
	admin := secured.Group("/admin", middleware.RequireAdmin())
	admin.Post("/claim-events", allocator.CreateEvent)
	admin.Post("/claim-events/:id/deactivate", allocator.DeactivateEvent)
}
