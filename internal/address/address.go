package address

import (
	"strings"

	"github.com/tonkeeper/tongo/ton"
)

// Network codes offered for withdrawals
const (
	USDTTRC20 = "usdt_trc20"
	USDTERC20 = "usdt_erc20"
	TON       = "ton"
)

// Network is a withdrawal network shown to the user
type Network struct {
	Code  string
	Title string
}

// Networks is the fixed set a user can choose from, in display order
var Networks = []Network{
	{Code: USDTTRC20, Title: "USDT • TRC20"},
	{Code: USDTERC20, Title: "USDT • ERC20"},
	{Code: TON, Title: "TON"},
}

var memoNetworks = map[string]bool{
	"xrp":    true,
	"bnb":    true,
	"cosmos": true,
}

// Supported reports whether code is one of Networks
func Supported(code string) bool {
	for _, n := range Networks {
		if n.Code == code {
			return true
		}
	}
	return false
}

// Title returns the display name of a network code
func Title(code string) string {
	for _, n := range Networks {
		if n.Code == code {
			return n.Title
		}
	}
	return strings.ToUpper(code)
}

// Validate checks address against the network's format rule.
// Unknown networks never validate.
func Validate(network, addr string) bool {
	switch network {
	case USDTTRC20:
		return strings.HasPrefix(addr, "T") && len(addr) > 20
	case USDTERC20:
		return strings.HasPrefix(addr, "0x") && len(addr) == 42
	case TON:
		return len(addr) > 30
	default:
		return false
	}
}

// NeedMemo reports whether the network requires a memo/tag
func NeedMemo(network string) bool {
	return memoNetworks[strings.ToLower(network)]
}

// Display returns the address as it should be shown to the admin.
// TON addresses that parse are rendered in user-friendly bounceable form.
func Display(network, addr string) string {
	if network != TON {
		return addr
	}

	acc, err := ton.ParseAccountID(addr)
	if err != nil {
		return addr
	}
	return acc.ToHuman(true, false)
}
