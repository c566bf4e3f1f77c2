package shared

import "fmt"

// OrderNumberLockKey builds the redis key serialising order number issuance per company.
func OrderNumberLockKey(companyID int64) string {
	return fmt.Sprintf("procurement:company:%d:po-number:lock", companyID)
}

// LowStockScanLockKey guards the low stock scan against overlapping runs.
func LowStockScanLockKey() string {
	return "inventory:low-stock-scan:lock"
}
