package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"challenge-settlement-system/handlers"
	"challenge-settlement-system/middleware"
	"challenge-settlement-system/models"
	"challenge-settlement-system/services"
	"challenge-settlement-system/utils"
	"challenge-settlement-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — this service only moves JSON
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-Wallet-Address",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitReceiptArchive(); err != nil {
		log.Fatal("failed to initialize receipt archive:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.ChallengePlayer{},
		&models.ChallengeResult{},
		&models.ClaimEvent{},
		&models.ClaimGrant{},
		&models.RepairAction{},
		&models.PlayerStats{},
		&models.PlayerGameStats{},
		&models.EscrowMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// --- Ledger gateway (fronts the on-chain escrow program) ---
	ledgerURL := os.Getenv("LEDGER_SERVICE_URL")
	if ledgerURL == "" {
		log.Fatal("LEDGER_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("SETTLEMENT_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("SETTLEMENT_SERVICE_TOKEN environment variable not set")
	}
	ledger := services.NewLedgerClient(ledgerURL, serviceToken)

	// Event publishing degrades to a no-op when AMQP_URL is unset.
	events := services.NewEventPublisher(os.Getenv("AMQP_URL"))
	defer events.Close()

	statsService := services.NewStatsService(db)
	escrowService := services.NewEscrowService(db, ledger, events, statsService)
	challengeService := services.NewChallengeService(db, escrowService, events)
	resultService := services.NewResultService(db, events, statsService)
	deadlineMonitor := services.NewDeadlineMonitor(db, events, statsService)
	claimAllocator := services.NewClaimAllocator(db, events)
	repairService := services.NewRepairService(db, events, statsService)

	scheduler, err := services.NewSettlementScheduler(deadlineMonitor, claimAllocator)
	if err != nil {
		log.Fatal("failed to create scheduler:", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer scheduler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go workers.PollEscrows(ctx, ledger, db, 15*time.Second)

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupChallengeRoutes(app, challengeService, escrowService, resultService, statsService)
	handlers.SetupClaimEventRoutes(app, claimAllocator)
	handlers.SetupAdminRoutes(app, repairService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Deadline sweep and claim expiry jobs running")
	log.Println("✅ Escrow mirror polling running (every 15s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
