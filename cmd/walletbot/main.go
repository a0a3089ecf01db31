package main

import (
	"log"

	corebootstrap "github.com/m3rciful/walletbot/core/bootstrap"
	"github.com/m3rciful/walletbot/core/buildinfo"
	corecmd "github.com/m3rciful/walletbot/core/cmd"
	"github.com/m3rciful/walletbot/internal/bot"
	appconfig "github.com/m3rciful/walletbot/internal/config"
	"github.com/m3rciful/walletbot/internal/wallet"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return appconfig.Load(path)
		},
		Bootstrap: bootstrapApp,
	})
	if err != nil {
		log.Fatal(err)
	}
}

func bootstrapApp(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg := carrier.(*appconfig.Config)
	res, err := corebootstrap.Run(corebootstrap.Options{Config: cfg.CoreConfig()})
	if err != nil {
		return nil, err
	}
	client := wallet.NewClient(wallet.Options{
		BaseURL:   cfg.Wallet.BaseURL,
		Timeout:   cfg.Wallet.Timeout(),
		UserAgent: userAgent(cfg.Wallet.UserAgent),
	})
	return bot.NewApp(cfg.CoreConfig(), res.Store, client), nil
}

func userAgent(configured string) string {
	if configured != "" {
		return configured
	}
	return "walletbot/" + buildinfo.Version
}
