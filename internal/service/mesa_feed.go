package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ruxplay/rulet-front-sub000/internal/models/mesa"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"
	"github.com/ruxplay/rulet-front-sub000/pkg/redis"

	"github.com/gin-gonic/gin"
)

const (
	mesaWinKeyPrefix = "mesa:win:"
	mesaWinTTL       = 24 * time.Hour
)

// MesaWinData is one feed entry for a paid prize.
type MesaWinData struct {
	Tier       mesa.Tier `json:"tier"`
	MesaID     int64     `json:"mesa_id"`
	Username   string    `json:"username"`
	SeatNumber int       `json:"seat_number"`
	Kind       string    `json:"kind"` // main, left, right
	Prize      string    `json:"prize"`
	Timestamp  int64     `json:"timestamp"`
}

// MesaWinnersFeed keeps the recent winners of every tier in Redis so the
// lobby can show a live feed without touching the engine or the database.
type MesaWinnersFeed struct {
	redisService *redis.RedisService
}

func NewMesaWinnersFeed(redisService *redis.RedisService) *MesaWinnersFeed {
	return &MesaWinnersFeed{redisService: redisService}
}

// Publish implements mesa.EventSink; only closes are recorded. Storing is
// handed off to a goroutine because the engine publishes while holding
// the tier lock.
func (f *MesaWinnersFeed) Publish(ev mesa.Event) {
	if ev.Type != mesa.EventClosed || ev.Mesa == nil || ev.Mesa.Winners == nil {
		return
	}
	w := ev.Mesa.Winners

	entries := make([]MesaWinData, 0, 3)
	ts := w.ResolvedAt.UnixNano()
	for kind, winner := range map[string]*mesa.Winner{
		"main": w.Main, "left": w.Left, "right": w.Right,
	} {
		if winner == nil {
			continue
		}
		entries = append(entries, MesaWinData{
			Tier:       ev.Tier,
			MesaID:     ev.MesaID,
			Username:   winner.Username,
			SeatNumber: winner.SeatNumber,
			Kind:       kind,
			Prize:      winner.Prize.StringFixed(2),
			Timestamp:  ts,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				logger.Error("%v", err)
				return
			}
			key := fmt.Sprintf("%s%020d:%d", mesaWinKeyPrefix, ts, i)
			if err := f.redisService.SetKey(ctx, key, data, mesaWinTTL); err != nil {
				logger.Error("failed to store mesa win: %v", err)
			}
		}
	}()
}

// GetRecentWinners handles GET requests for the recent-winners feed.
func (f *MesaWinnersFeed) GetRecentWinners(c *gin.Context) {
	wins, err := f.fetchRecentWins(c.Request.Context(), 15)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	if len(wins) < 1 {
		c.String(404, "[]")
		return
	}
	c.JSON(200, wins)
}

func (f *MesaWinnersFeed) fetchRecentWins(ctx context.Context, limit int) ([]MesaWinData, error) {
	keys, err := f.redisService.Client().Keys(ctx, mesaWinKeyPrefix+"*").Result()
	if err != nil {
		return nil, logger.WrapError(err, "")
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	var wins []MesaWinData
	for _, key := range keys {
		data, err := f.redisService.GetKey(ctx, key)
		if err != nil {
			return nil, logger.WrapError(err, "")
		}
		var win MesaWinData
		if err := json.Unmarshal([]byte(data), &win); err != nil {
			return nil, logger.WrapError(err, "")
		}
		wins = append(wins, win)
	}
	return wins, nil
}
