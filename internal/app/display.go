// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/session"
)

const (
	panelWidth  = 128
	panelHeight = 64
	lineHeight  = 13
)

// fixedAddrBus sends every transaction to addr, so the panel can sit on an
// address other than the driver's default.
type fixedAddrBus struct {
	i2c.Bus
	addr uint16
}

func (b fixedAddrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// RunDisplay drives the SSD1306 kiosk panel from the session controller
// and serves the same HTTP API as RunWeb so the session can be operated.
func RunDisplay() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(fixedAddrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines([]string{"", "  Balance", "  Screening"}), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := NewStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	var dirty atomic.Bool
	dirty.Store(true)
	stack.Controller.AddListener(func(session.Event) { dirty.Store(true) })

	go func() {
		if err := serve(ctx, stack); err != nil {
			log.Printf("display: web server: %v", err)
		}
	}()

	interval := time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			_ = dev.Draw(dev.Bounds(), renderLines(nil), image.Point{})
			return nil
		case <-ticker.C:
			if !dirty.Swap(false) {
				continue
			}
			if err := dev.Draw(dev.Bounds(), renderStatus(stack.Controller.Snapshot()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

// statusLines is the panel text for a snapshot, at most four lines of
// eighteen characters.
func statusLines(s session.Snapshot) []string {
	switch s.State {
	case session.Idle:
		lines := []string{"Balance test", "Press start to", "read instructions"}
		if s.Warning != "" {
			lines = append(lines, truncate(s.Warning))
		}
		return lines
	case session.Instructions:
		lines := []string{"Stand still", "feet together", "arms at sides"}
		if s.Warning != "" {
			lines = append(lines, truncate(s.Warning))
		} else {
			lines = append(lines, "Ready")
		}
		return lines
	case session.Countdown:
		return []string{"Get ready", "", fmt.Sprintf("   %d", s.RemainingSeconds)}
	case session.Running:
		return []string{
			"Hold still",
			fmt.Sprintf("%2ds left", s.RemainingSeconds),
			fmt.Sprintf("n=%d abn=%d", s.TotalReadings, s.AbnormalReadings),
		}
	case session.Processing:
		return []string{"Analyzing...", fmt.Sprintf("%d readings", s.TotalReadings)}
	case session.Completed:
		if s.Result == nil {
			return []string{"Done"}
		}
		lines := []string{
			"Result:",
			strings.ToUpper(string(s.Result.Outcome)),
			fmt.Sprintf("abn %.1f%%", s.Result.Metrics.AbnormalPercentage),
		}
		if s.Result.Source != "" {
			lines = append(lines, truncate(string(s.Result.Source)))
		}
		return lines
	default:
		return []string{string(s.State)}
	}
}

func truncate(s string) string {
	const maxChars = panelWidth / 7
	if len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}

func renderStatus(s session.Snapshot) *image1bit.VerticalLSB {
	return renderLines(statusLines(s))
}

func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, panelWidth, panelHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if (i+1)*lineHeight > panelHeight {
			break
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawString(line)
	}
	return img
}
