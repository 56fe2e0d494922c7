package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pacer/pkg/logx"
	"pacer/pkg/notify"
	"pacer/pkg/speedtest"
	"pacer/pkg/textparse"
)

type speedtestConfig struct {
	Servers        int    `json:"servers,omitempty"`
	FullTests      int    `json:"full_tests,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty"`
	PacketLoss     bool   `json:"packet_loss,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	// FailStreak is how many consecutive failed runs escalate to a high
	// severity status line. 0 means the default of 3.
	FailStreak int `json:"fail_streak,omitempty"`
}

const defaultSpeedtestTimeout = 5 * time.Minute

func buildSpeedtest(raw json.RawMessage, deps Deps) (RunFunc, error) {
	var c speedtestConfig
	if err := decodeConfig(raw, &c); err != nil {
		return nil, err
	}
	if c.FailStreak <= 0 {
		c.FailStreak = 3
	}
	timeout := textparse.SafeDuration(c.Timeout, defaultSpeedtestTimeout)

	runner := speedtest.NewRunner(speedtest.Config{
		ServerCount:     c.Servers,
		FullTestServers: c.FullTests,
		MaxConnections:  c.MaxConnections,
		PacketLoss:      c.PacketLoss,
	})

	streak := 0
	return func(ctx context.Context) (string, error) {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := runner.Run(runCtx)
		if err != nil {
			streak++
			if streak >= c.FailStreak {
				deps.Reporter.ReportStatus(
					fmt.Sprintf("speedtest failing (%d in a row): %v", streak, err),
					notify.High)
			}
			return "", err
		}
		streak = 0

		detail := fmt.Sprintf("down %.1f up %.1f Mbit/s ping %.0f ms",
			res.DownloadMbps, res.UploadMbps, res.PingMs)
		msg := detail
		if res.ServerName != "" {
			msg = fmt.Sprintf("%s (%s, %s)", detail, res.ServerName, res.ServerCountry)
		}
		deps.Reporter.ReportStatus("speedtest: "+msg, notify.Low)
		deps.Log.Debug("speedtest done",
			logx.Float64("down_mbps", res.DownloadMbps),
			logx.Float64("up_mbps", res.UploadMbps),
			logx.Duration("took", res.Duration),
			logx.Int("full_tests", res.FullTestCount))
		return detail, nil
	}, nil
}
