package speedtest

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.ServerCount != 5 || c.FullTestServers != 1 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.MaxConnections != 4 || c.PingConcurrency != 4 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.PacketLossTimeout != 3*time.Second {
		t.Fatalf("unexpected packet loss timeout: %v", c.PacketLossTimeout)
	}

	c = Config{ServerCount: 2, FullTestServers: 9}.withDefaults()
	if c.FullTestServers != 2 {
		t.Fatalf("full test servers not capped: %d", c.FullTestServers)
	}
}

func TestAverage(t *testing.T) {
	ms := []measurement{
		{download: 100, upload: 10, ping: 10 * time.Millisecond},
		{download: 50, upload: 20, ping: 30 * time.Millisecond},
	}
	avg := average(ms)
	if avg.download != 75 || avg.upload != 15 {
		t.Fatalf("bad averages: %+v", avg)
	}
	if avg.ping != 20*time.Millisecond {
		t.Fatalf("bad ping average: %v", avg.ping)
	}
}

func TestPickBest(t *testing.T) {
	ms := []measurement{
		{download: 100, ping: 30 * time.Millisecond},
		{download: 80, ping: 10 * time.Millisecond},
		{download: 90, ping: 10 * time.Millisecond},
	}
	best := pickBest(ms)
	if best.ping != 10*time.Millisecond || best.download != 90 {
		t.Fatalf("picked %+v", best)
	}
}
