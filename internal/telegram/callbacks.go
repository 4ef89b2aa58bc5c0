package telegram

import (
	"strconv"
	"strings"
)

// Callback payloads
const (
	cbContinue       = "continue"
	cbPay            = "pay"
	cbBalance        = "balance"
	cbRefLink        = "ref_link"
	cbWithdraw       = "withdraw"
	cbWithdrawOK     = "wd_ok"
	cbWithdrawCancel = "wd_cancel"
	cbNetworkPrefix  = "wd_net:"
	cbApprovePrefix  = "admin_approve:"
	cbRejectPrefix   = "admin_reject:"
)

// callback is a parsed button payload
type callback struct {
	action  string
	network string
	userID  int64
}

// parseCallback decodes a button payload. Malformed payloads report false.
func parseCallback(data string) (callback, bool) {
	switch data {
	case cbContinue, cbPay, cbBalance, cbRefLink, cbWithdraw, cbWithdrawOK, cbWithdrawCancel:
		return callback{action: data}, true
	}

	switch {
	case strings.HasPrefix(data, cbNetworkPrefix):
		network := strings.TrimPrefix(data, cbNetworkPrefix)
		if network == "" {
			return callback{}, false
		}
		return callback{action: cbNetworkPrefix, network: network}, true
	case strings.HasPrefix(data, cbApprovePrefix):
		return parseUserCallback(cbApprovePrefix, data)
	case strings.HasPrefix(data, cbRejectPrefix):
		return parseUserCallback(cbRejectPrefix, data)
	}

	return callback{}, false
}

func parseUserCallback(prefix, data string) (callback, bool) {
	userID, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil || userID <= 0 {
		return callback{}, false
	}
	return callback{action: prefix, userID: userID}, true
}

// parseReferrer extracts the referrer id from "/start <id>".
// Self-referral and malformed payloads yield nil.
func parseReferrer(text string, userID int64) *int64 {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return nil
	}

	ref, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || ref <= 0 || ref == userID {
		return nil
	}
	return &ref
}
