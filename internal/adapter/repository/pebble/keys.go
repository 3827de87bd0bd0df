package pebble

import (
	"fmt"

	"github.com/iho/custody/internal/domain"
)

const (
	kindBalance     = "balance"
	kindCustody     = "custody"
	kindPrice       = "price"
	kindOrder       = "order"
	kindAgreement   = "agreement"
	kindEscrow      = "escrow"
	kindApplication = "application"
)

func storePrefix(store, kind string) []byte {
	return []byte(fmt.Sprintf("store/%s/%s/", store, kind))
}

func metaKey(store string) []byte {
	return []byte(fmt.Sprintf("store/%s/meta", store))
}

func balanceKey(store string, owner, asset domain.Address) []byte {
	return fmt.Appendf(storePrefix(store, kindBalance), "%s/%s", owner, asset)
}

func assetKey(store, kind string, asset domain.Address) []byte {
	return fmt.Appendf(storePrefix(store, kind), "%s", asset)
}

func idKey(store, kind string, id uint64) []byte {
	return fmt.Appendf(storePrefix(store, kind), "%020d", id)
}

func agreementKey(store string, orderID, id uint64) []byte {
	return fmt.Appendf(storePrefix(store, kindAgreement), "%020d/%020d", orderID, id)
}

const (
	outboxPending   = "outbox/pending/"
	outboxPublished = "outbox/published/"
)

func pendingKey(id string) []byte {
	return []byte(outboxPending + id)
}

func publishedKey(id string) []byte {
	return []byte(outboxPublished + id)
}
