package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "github.com/ruxplay/rulet-front-sub000/cmd/db"
	"github.com/ruxplay/rulet-front-sub000/internal/middleware"
	"github.com/ruxplay/rulet-front-sub000/internal/service"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"
	"github.com/ruxplay/rulet-front-sub000/pkg/redis"
)

const apiPrefix = "api/"

func Start() {
	gin.DisableConsoleColor()

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.BlockBadActorsMiddleware())
	authorized := router.Group("/", middleware.AuthMiddleware())

	redisAddr, ok := os.LookupEnv("REDIS_ADDR")
	if !ok {
		redisAddr = "redis:6379"
	}
	redisService := redis.NewRedisService(redisAddr, os.Getenv("REDIS_PASSWORD"))

	// Mesa engine with its two event sinks: the live websocket hub and
	// the recent-winners feed.
	service.MesaWS = service.NewMesaWebsocketService()
	winnersFeed := service.NewMesaWinnersFeed(redisService)
	service.InitMesaEngine(service.MesaWS, winnersFeed)
	defer service.MesaEngine.Stop()

	// router
	{
		// auth
		router.POST(apiPrefix+"users/auth", service.AuthLogin)
		router.POST(apiPrefix+"users/auth/signup", service.SignUp)
	}

	// authorized
	{
		// users
		authorized.GET(apiPrefix+"users/auth", service.Auth)
		authorized.GET(apiPrefix+"users", service.GetUser)
		authorized.GET(apiPrefix+"users/winnings", service.GetUserWinnings)

		// mesa
		authorized.GET(apiPrefix+"games/mesa/current", service.GetCurrentMesa)
		authorized.POST(apiPrefix+"games/mesa/place", service.PlaceMesaBet)
		authorized.POST(apiPrefix+"games/mesa/result", service.SubmitMesaSpinResult)
		authorized.GET(apiPrefix+"games/mesa/history", service.GetMesaHistory)
		authorized.GET(apiPrefix+"games/mesa/history/:id/bets", service.GetMesaBets)
		authorized.GET(apiPrefix+"games/mesa/winners/recent", winnersFeed.GetRecentWinners)

		// Mesa WebSocket route
		authorized.GET(apiPrefix+"ws/mesa/live", service.MesaWS.LiveMesaWebsocketHandler)
	}

	srv := &http.Server{
		Addr:    ":8080",
		Handler: router.Handler(),
	}

	go func() {
		// service connections
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen: %s\n", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with
	// a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server Shutdown: %v", err)
	}

	<-ctx.Done()
	logger.Info("timeout of 5 seconds.")
	logger.Info("Server exiting")
}
