// handlers/admin_routes.go
package handlers

import (
	"challenge-settlement-system/middleware"
	"challenge-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, repairService *services.RepairService) {
	admin := app.Group("/s/admin", middleware.WalletContextMiddleware(), middleware.RequireAdmin())

	admin.Get("/challenges/stuck", repairService.ListStuck)
	admin.Post("/challenges/:id/repair", repairService.Repair)
	admin.Get("/repairs", repairService.ListRepairs)
}
