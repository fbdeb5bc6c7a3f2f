// Package build carries metadata stamped in at link time, e.g.
//
//	go build -ldflags "-X escrow/build.Version=v1.2.3 -X escrow/build.Date=2022-06-01"
package build

var (
	Version = "development"
	Date    = "unknown"
)
