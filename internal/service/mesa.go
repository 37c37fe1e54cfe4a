package service

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/ruxplay/rulet-front-sub000/internal/middleware"
	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/internal/models/mesa"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MesaEngine is the process-wide table engine, one active mesa per tier.
var MesaEngine *mesa.Engine

// InitMesaEngine wires the engine to postgres and the given event sinks.
// Timers can be tuned through MESA_GRACE_SECONDS, MESA_RESULT_TIMEOUT_SECONDS
// and MESA_COOLDOWN_SECONDS.
func InitMesaEngine(sinks ...mesa.EventSink) {
	cfg := mesa.Config{
		GraceDelay:    envSeconds("MESA_GRACE_SECONDS", mesa.DefaultGraceDelay),
		ResultTimeout: envSeconds("MESA_RESULT_TIMEOUT_SECONDS", mesa.DefaultResultTimeout),
		Cooldown:      envSeconds("MESA_COOLDOWN_SECONDS", mesa.DefaultCooldown),
	}
	MesaEngine = mesa.NewEngine(mesaStore{}, cfg, sinks...)
	logger.Info("Mesa engine started (grace=%s, result timeout=%s, cooldown=%s)",
		cfg.GraceDelay, cfg.ResultTimeout, cfg.Cooldown)
}

func envSeconds(name string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		logger.Warn("ignoring invalid %s=%q", name, raw)
		return def
	}
	return time.Duration(secs) * time.Second
}

// MesaBetInput takes the seat 1-based, as displayed.
type MesaBetInput struct {
	Tier string `json:"tier" validate:"required,oneof=A B"`
	Seat int    `json:"seat" validate:"required,min=1,max=15"`
}

// PlaceMesaBet handles POST requests to claim one seat on the caller's
// tier of choice.
func PlaceMesaBet(c *gin.Context) {
	var input MesaBetInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(400, gin.H{"error": "Invalid input"})
		return
	}
	if err := validate.Struct(input); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	userID, err := middleware.GetUserIDFromGinContext(c)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	user, err := models.GetUserByID(userID)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	tier, err := mesa.ParseTier(input.Tier)
	if err != nil {
		c.JSON(400, gin.H{"error": "unknown tier"})
		return
	}

	snap, newBalance, err := MesaEngine.PlaceBet(tier, user.Nickname, input.Seat-1)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInsufficientBalance):
			c.JSON(402, gin.H{"error": "Insufficient balance"})
		case errors.Is(err, mesa.ErrMesaNotOpen):
			c.JSON(403, gin.H{"error": "Mesa is not open for bets"})
		case errors.Is(err, mesa.ErrSeatTaken):
			c.JSON(409, gin.H{"error": "Seat already taken"})
		case errors.Is(err, mesa.ErrAlreadyBet):
			c.JSON(409, gin.H{"error": "You already hold a seat on this mesa"})
		case errors.Is(err, mesa.ErrInvalidSeat), errors.Is(err, mesa.ErrInvalidStake):
			c.JSON(400, gin.H{"error": err.Error()})
		default:
			logger.Error("Failed to place mesa bet: %v", err)
			c.Status(500)
		}
		return
	}

	c.JSON(200, gin.H{
		"mesa":        snap,
		"new_balance": newBalance.StringFixed(2),
	})
}

// GetCurrentMesa returns the active mesa snapshot of a tier. 404 means no
// mesa exists yet; the first bet creates one.
func GetCurrentMesa(c *gin.Context) {
	tier, err := mesa.ParseTier(c.Query("tier"))
	if err != nil {
		c.JSON(400, gin.H{"error": "unknown tier"})
		return
	}

	snap, err := MesaEngine.Current(tier)
	if err != nil {
		if errors.Is(err, mesa.ErrNoActiveMesa) {
			c.JSON(404, gin.H{"error": "no active mesa"})
			return
		}
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	c.JSON(200, snap)
}

// MesaResultInput takes the winning seat 1-based, as displayed on the
// physical wheel.
type MesaResultInput struct {
	MesaID      int64 `json:"mesa_id" validate:"required,min=1"`
	WinningSeat int   `json:"winning_seat" validate:"required,min=1,max=15"`
}

// SubmitMesaSpinResult handles the single accepted result submission per
// mesa. Retries and late arrivals get 409 without side effects.
func SubmitMesaSpinResult(c *gin.Context) {
	var input MesaResultInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(400, gin.H{"error": "Invalid input"})
		return
	}
	if err := validate.Struct(input); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	userID, err := middleware.GetUserIDFromGinContext(c)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	user, err := models.GetUserByID(userID)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	winners, err := MesaEngine.SubmitResult(input.MesaID, input.WinningSeat-1, user.Nickname)
	if err != nil {
		switch {
		case errors.Is(err, mesa.ErrAlreadyResolved):
			c.JSON(409, gin.H{"error": "Mesa already resolved"})
		case errors.Is(err, mesa.ErrMesaNotEligible):
			c.JSON(404, gin.H{"error": "Mesa is not awaiting a spin result"})
		case errors.Is(err, mesa.ErrInvalidSeat):
			c.JSON(400, gin.H{"error": err.Error()})
		default:
			logger.Error("Failed to submit spin result: %v", err)
			c.Status(500)
		}
		return
	}

	c.JSON(200, winners)
}

// GetMesaHistory returns recently closed mesas for reporting.
func GetMesaHistory(c *gin.Context) {
	tier := c.Query("tier")
	if tier != "" {
		if _, err := mesa.ParseTier(tier); err != nil {
			c.JSON(400, gin.H{"error": "unknown tier"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := models.GetClosedMesas(tier, limit)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	c.JSON(200, records)
}

// GetMesaBets returns the recorded seats of one closed mesa.
func GetMesaBets(c *gin.Context) {
	mesaID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid mesa id"})
		return
	}

	bets, err := models.GetMesaBets(mesaID)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	c.JSON(200, bets)
}
