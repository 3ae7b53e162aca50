package main

import (
	"os"

	_ "naranja/api/swagger" // swagger docs
	"naranja/internal/database"
	"naranja/internal/handler"
	"naranja/internal/middleware"
	"naranja/internal/repository"
	"naranja/internal/service"
	"naranja/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Naranja Training API
// @version         1.0
// @description     Role-based training assignment management with automatic reconciliation.
// @host            localhost:8080
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load("configs/.env"); err != nil {
		log.Info("No configs/.env file found or error loading it")
	}

	dbHost := getenv("DB_HOST", "localhost")
	dbPort := getenv("DB_PORT", "5432")
	dbUser := getenv("DB_USER", "postgres")
	dbPassword := getenv("DB_PASSWORD", "postgres")
	dbName := getenv("DB_NAME", "naranja")
	dbSslMode := getenv("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}
	log.Info("Connected to PostgreSQL successfully")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	sourceRepo := repository.NewAssignmentSourceRepository(db)
	assignmentRepo := repository.NewUserAssignmentRepository(db)
	completionRepo := repository.NewCompletionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	reconcileService := service.NewReconcileService(
		userRepo, roleRepo, departmentRepo, sourceRepo,
		assignmentRepo, completionRepo, auditRepo,
		txManager, log, wsHub,
	)
	userService := service.NewUserService(userRepo, auditRepo, txManager, reconcileService, db)
	roleService := service.NewRoleService(roleRepo, departmentRepo, userRepo, sourceRepo, auditRepo, txManager, reconcileService)
	departmentService := service.NewDepartmentService(departmentRepo, sourceRepo, auditRepo, txManager)
	trainingService := service.NewTrainingService(db)
	assignmentService := service.NewAssignmentService(userRepo, assignmentRepo, completionRepo, auditRepo, txManager, db)
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService)
	roleHandler := handler.NewRoleHandler(roleService, reconcileService)
	departmentHandler := handler.NewDepartmentHandler(departmentService)
	trainingHandler := handler.NewTrainingHandler(trainingService)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService, reconcileService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:5174"} // Frontend URL
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	api := router.Group("/api")
	userHandler.RegisterRoutes(api)
	roleHandler.RegisterRoutes(api)
	departmentHandler.RegisterRoutes(api)
	trainingHandler.RegisterRoutes(api)
	assignmentHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	port := getenv("PORT", "8080")

	log.Infof("Server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
