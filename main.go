package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/dkurbatov/vpn-shop-bot/internal/catalog"
	"github.com/dkurbatov/vpn-shop-bot/internal/config"
	"github.com/dkurbatov/vpn-shop-bot/internal/handlers"
	"github.com/dkurbatov/vpn-shop-bot/internal/logging"
	"github.com/dkurbatov/vpn-shop-bot/internal/middleware"
	"github.com/dkurbatov/vpn-shop-bot/internal/payments"
	"github.com/dkurbatov/vpn-shop-bot/internal/provision"
	"github.com/dkurbatov/vpn-shop-bot/internal/purchase"
	"github.com/dkurbatov/vpn-shop-bot/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "console")
		fallback.Fatal().Err(err).Msg("config load failed")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rdb, err := store.NewRedisClient(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, "vpn_shop")
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rdb.Close()

	scratchStore := store.NewRedisScratchStore(rdb, cfg.PendingOrderTTL)

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pgStore.Close()

	cat := catalog.New(catalog.Prices{
		OneMonth:     cfg.Plan1MonthPrice,
		ThreeMonths:  cfg.Plan3MonthPrice,
		SixMonths:    cfg.Plan6MonthPrice,
		TwelveMonths: cfg.Plan12MonthPrice,
	})

	gateways := payments.NewRegistry()
	gateways.Register("crypto", payments.NewCryptoPay(cfg.CryptoPayToken, cfg.CryptoPayAsset))
	gateways.Register("yoomoney", payments.NewYooMoney(cfg.YooMoneyToken, cfg.YooMoneyReceiver))

	wg := provision.NewWireGuard(provision.WireGuardConfig{
		ServerPublicKey: cfg.WGServerPubKey,
		EndpointHost:    cfg.WGEndpointHost,
		EndpointPort:    cfg.WGEndpointPort,
	}, &provision.WGQuickRegistry{Interface: cfg.WGInterface})

	ovpn := provision.NewOpenVPN(provision.OpenVPNConfig{
		RemoteHost: cfg.OVPNRemoteHost,
		RemotePort: cfg.OVPNRemotePort,
		CACert:     cfg.OVPNCACert,
		TLSAuthKey: cfg.OVPNTLSAuthKey,
	}, nil)

	prov := provision.NewService(wg, ovpn)

	ledger := purchase.NewLedger(pgStore, cfg.ReferralPercent, log)
	orch := purchase.NewOrchestrator(pgStore, scratchStore, cat, gateways, prov, ledger, log)

	sweeper := purchase.NewSweeper(pgStore, cfg.PendingOrderTTL, cfg.SweepInterval, log)
	sweeper.Start()
	defer sweeper.Stop()

	httpClient := &http.Client{
		Timeout: 10 * time.Minute,
	}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		cfg.BotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("bot create failed")
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("getMe failed")
	}

	h := handlers.NewHandlers(orch, ledger, pgStore, pgStore, cat, cfg, log, me.Username)

	middlewares := middleware.New(pgStore, log)
	handlerChain := middlewares.SerializeMiddleware(
		middlewares.IdentifyMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)

	log.Info().Str("bot", me.Username).Msg("bot started")
	b.Start(ctx)
}
