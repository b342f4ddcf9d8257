package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	paramsKey   = []byte("escrow/params")
	nextIDKey   = []byte("escrow/next-id")
	activeIDKey = []byte("escrow/active")
)

func transferKey(id uint64) []byte {
	return []byte(fmt.Sprintf("escrow/transfer/%020d", id))
}

func outboxKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("escrow/outbox/%x", addr.Bytes()))
}

func inboxKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("escrow/inbox/%x", addr.Bytes()))
}

func dayCountKey(addr common.Address, day uint64) []byte {
	return []byte(fmt.Sprintf("escrow/count/%x/%d", addr.Bytes(), day))
}

func totalCountKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("escrow/count-total/%x", addr.Bytes()))
}
