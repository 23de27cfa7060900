// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/balance_screen/internal/app"
	"github.com/relabs-tech/balance_screen/internal/config"
)

func main() {
	log.Println("starting balance-screen kiosk display")

	if err := config.InitGlobal(config.Path()); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: the display requires I2C access (run with sudo on the Pi)")

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
