// Command api exposes a thin, read-only HTTP status surface over the
// engine's persisted state and live opportunity scan — a dashboard
// backend, not a trading control plane. Grounded on the teacher's
// cmd/api/main.go for gin+cors server setup, narrowed to the handful
// of GET routes SPEC_FULL.md's supplemented status surface calls for;
// the teacher's websocket hub, audit middleware, rate limiter, and
// order-placement routes have no read-only-status equivalent and are
// not carried here (see DESIGN.md).
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/clock"
	"github.com/fundingbot/fundingbot/internal/config"
	"github.com/fundingbot/fundingbot/internal/obslog"
	"github.com/fundingbot/fundingbot/internal/store"
	"github.com/fundingbot/fundingbot/internal/strategy"
	"github.com/fundingbot/fundingbot/internal/venue"
)

func main() {
	configPath := os.Getenv("FUNDINGBOT_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}
	if err := obslog.Init(cfg.LogLevel, "", true); err != nil {
		panic(err)
	}
	log := obslog.Component("api")

	h := &handlers{cfg: cfg, log: log, strat: buildOpportunityStrategy(cfg, log)}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", h.healthz)
	router.GET("/positions", h.positions)
	router.GET("/performance", h.performance)
	router.GET("/opportunities", h.opportunities)

	addr := cfg.API.GetAPIAddr()
	if addr == ":0" || addr == "" {
		addr = "0.0.0.0:8081"
	}
	log.Info().Str("addr", addr).Msg("starting status api")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("api server exited")
	}
}

// buildOpportunityStrategy builds a read-only same-venue strategy per
// configured exchange purely to serve /opportunities; it carries no
// alerter and is never registered with a risk.Manager, since this
// process never executes or closes a position.
func buildOpportunityStrategy(cfg *config.Config, log zerolog.Logger) strategy.Strategy {
	clk := clock.Real{}
	var children []strategy.Strategy
	for name, exCfg := range cfg.Exchanges {
		var v venue.Venue
		if cfg.SimulationMode {
			v = venue.NewMock(name, clk)
		} else {
			v = venue.NewBinance(venue.BinanceConfig{
				APIKey:    exCfg.APIKey,
				APISecret: exCfg.APISecret,
				Testnet:   exCfg.UseTestnet,
			}, log)
		}
		for _, sc := range cfg.Strategies {
			if sc.Type != "same_venue_spot_perp" {
				continue
			}
			s := strategy.NewSameVenueSpotPerp(v, clk, nil, log)
			s.SetMinFundingRate(sc.MinFundingRate)
			s.SetMinExpectedProfit(sc.MinExpectedProfit)
			children = append(children, s)
		}
	}
	if len(children) == 0 {
		return nil
	}
	return strategy.NewComposite(children...)
}

func openFileStore(cfg *config.Config, log zerolog.Logger) (*store.FileStore, error) {
	return store.NewFileStore("./data", log)
}

type handlers struct {
	cfg   *config.Config
	log   zerolog.Logger
	strat strategy.Strategy
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bot_name": h.cfg.BotName})
}

func (h *handlers) positions(c *gin.Context) {
	fs, err := openFileStore(h.cfg, h.log)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": fs.LoadPositions()})
}

func (h *handlers) performance(c *gin.Context) {
	fs, err := openFileStore(h.cfg, h.log)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, ok := fs.LoadPerformance()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"performance": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"performance": stats})
}

// opportunities runs a one-off scan against live venues. This is the
// only handler that touches the network; the others are pure reads off
// the persisted-state files so a wedged venue never blocks /healthz.
func (h *handlers) opportunities(c *gin.Context) {
	if h.strat == nil {
		c.JSON(http.StatusOK, gin.H{"opportunities": []interface{}{}})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	opps, err := h.strat.FindOpportunities(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opps})
}
