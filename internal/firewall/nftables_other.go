//go:build !linux

package firewall

import "errors"

func NewNFTables(Config) (Firewall, error) {
	return nil, errors.New("nftables: only supported on linux")
}
