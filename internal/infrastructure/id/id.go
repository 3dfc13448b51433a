// Package id produces identifiers and human-facing order numbers.
package id

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// OrderNumbers formats numbers as ORD-<yyyymmddHHMMSS>-<6 upper hex>.
// Uniqueness is enforced by the store; collisions are regenerated by the ledger.
type OrderNumbers struct{}

func NewOrderNumbers() OrderNumbers { return OrderNumbers{} }

func (OrderNumbers) NewOrderNumber(now time.Time) string {
	u := uuid.New()
	suffix := strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:6])
	return "ORD-" + now.UTC().Format("20060102150405") + "-" + suffix
}
