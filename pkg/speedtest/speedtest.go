// Package speedtest runs bandwidth measurements against speedtest.net
// servers and reduces them to a single Result.
//
// The package keeps its own HTTP transport per run so connections can be
// torn down aggressively afterwards; a measurement daemon should not keep
// idle sockets open between runs that may be hours apart.
package speedtest

import "time"

// Result is a single completed measurement.
type Result struct {
	Timestamp    time.Time
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	JitterMs     float64
	PacketLoss   float64

	ISP           string
	ServerName    string
	ServerCountry string

	Duration       time.Duration
	CandidateCount int
	FullTestCount  int
}
