package speedtest

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// Config controls how a run is executed.
type Config struct {
	// ServerCount is how many nearby servers to consider. They are sorted
	// by distance and then latency-tested before any full test starts.
	ServerCount int
	// FullTestServers is how many of the lowest-latency candidates get a
	// full download/upload test. Full tests run sequentially to keep peak
	// memory down.
	FullTestServers int
	// MaxConnections caps parallel connections within one transfer test.
	MaxConnections int
	// PingConcurrency caps how many latency probes run at once.
	PingConcurrency int

	// PacketLoss enables the extra packet loss probe against the chosen
	// server. PacketLossTimeout bounds it.
	PacketLoss        bool
	PacketLossTimeout time.Duration
}

// Runner executes speedtest runs.
type Runner struct {
	cfg Config
}

// NewRunner constructs a Runner. Zero config fields get sane defaults on Run.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run executes a single measurement. It honors ctx for every network phase
// and cleans up library state and connections before returning.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := r.cfg.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	ctx = runCtx

	start := time.Now()
	hc, tr := newHTTPClient(cfg.MaxConnections)

	// Per-run client; package-level speedtest-go helpers keep global state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		MaxConnections: cfg.MaxConnections,
	}))
	applyHTTPClient(stc, hc)
	stc.SetNThread(cfg.MaxConnections)

	defer func() {
		cancel()
		stc.Snapshots().Clean()
		stc.Reset()
		tr.CloseIdleConnections()
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if len(servers) > cfg.ServerCount {
		servers = servers[:cfg.ServerCount]
	}

	pinged := pingServers(ctx, servers, cfg.PingConcurrency)
	if len(pinged) == 0 {
		return nil, fmt.Errorf("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	if len(pinged) > cfg.FullTestServers {
		pinged = pinged[:cfg.FullTestServers]
	}

	tested := make([]measurement, 0, len(pinged))
	for _, s := range pinged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			continue
		}
		dl := s.DLSpeed.Mbps()
		if err := s.UploadTestContext(ctx); err != nil {
			continue
		}
		tested = append(tested, measurement{
			server:   s,
			download: dl,
			upload:   s.ULSpeed.Mbps(),
			ping:     s.Latency,
		})
		// Drop per-test snapshots early, before the next server starts.
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(tested) == 0 {
		return nil, fmt.Errorf("full test failed for all servers")
	}

	avg := average(tested)
	best := pickBest(tested)

	loss := 0.0
	if cfg.PacketLoss {
		loss = probePacketLoss(ctx, best.server.Host, cfg.PacketLossTimeout)
	}

	jitterMs := float64(best.server.Jitter.Milliseconds())
	if jitterMs <= 0 {
		jitterMs = math.Max(0.1, float64(avg.ping.Milliseconds())*0.1)
	}

	return &Result{
		Timestamp:      time.Now(),
		DownloadMbps:   avg.download,
		UploadMbps:     avg.upload,
		PingMs:         float64(avg.ping.Milliseconds()),
		JitterMs:       jitterMs,
		PacketLoss:     loss,
		ISP:            user.Isp,
		ServerName:     best.server.Sponsor,
		ServerCountry:  best.server.Country,
		Duration:       time.Since(start),
		CandidateCount: len(servers),
		FullTestCount:  len(tested),
	}, nil
}

func (c Config) withDefaults() Config {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	if c.FullTestServers > c.ServerCount {
		c.FullTestServers = c.ServerCount
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	if c.PacketLossTimeout <= 0 {
		c.PacketLossTimeout = 3 * time.Second
	}
	return c
}

type measurement struct {
	server   *st.Server
	download float64
	upload   float64
	ping     time.Duration
}

// pingServers latency-tests candidates concurrently and returns those that
// answered. Order is not preserved.
func pingServers(ctx context.Context, servers []*st.Server, concurrency int) []*st.Server {
	sem := make(chan struct{}, concurrency)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()
			if err := s.PingTestContext(ctx, nil); err != nil {
				return
			}
			if s.Latency > 0 {
				out <- s
			}
		}(s)
	}
	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		pinged = append(pinged, s)
	}
	return pinged
}

func average(ms []measurement) measurement {
	var (
		dl, ul float64
		ping   time.Duration
	)
	for _, m := range ms {
		dl += m.download
		ul += m.upload
		ping += m.ping
	}
	n := len(ms)
	return measurement{
		download: dl / float64(n),
		upload:   ul / float64(n),
		ping:     ping / time.Duration(n),
	}
}

// pickBest prefers lower ping, then higher download.
func pickBest(ms []measurement) measurement {
	best := ms[0]
	for _, m := range ms[1:] {
		if m.ping < best.ping || (m.ping == best.ping && m.download > best.download) {
			best = m
		}
	}
	return best
}

func probePacketLoss(ctx context.Context, host string, timeout time.Duration) float64 {
	if host == "" {
		return 0
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	plCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pla := st.NewPacketLossAnalyzer(nil)
	pl, err := pla.RunMultiWithContext(plCtx, []string{host})
	if err != nil || pl == nil {
		return 0
	}
	return pl.LossPercent()
}

// applyHTTPClient installs a custom client on the speedtest instance.
// speedtest-go has grown several setter spellings across versions; probe the
// known ones and fall back to setting an exported field.
func applyHTTPClient(stc any, hc *http.Client) {
	switch s := stc.(type) {
	case interface{ SetHTTPClient(*http.Client) }:
		s.SetHTTPClient(hc)
		return
	case interface{ SetHttpClient(*http.Client) }:
		s.SetHttpClient(hc)
		return
	}

	v := reflect.ValueOf(stc)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	e := v.Elem()
	if e.Kind() != reflect.Struct {
		return
	}
	for _, name := range []string{"HTTPClient", "HttpClient", "Client"} {
		f := e.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			continue
		}
		if f.Type().AssignableTo(reflect.TypeOf((*http.Client)(nil))) {
			f.Set(reflect.ValueOf(hc))
			return
		}
	}
}

func newHTTPClient(maxConns int) (*http.Client, *http.Transport) {
	if maxConns < 2 {
		maxConns = 2
	}
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: tr}, tr
}
