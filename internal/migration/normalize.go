// Package migration converges legacy wallet documents onto the canonical
// nested schema.
package migration

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

// fieldPath locates a value in a decoded document.
type fieldPath []string

// sources lists, per bucket, where a value may live, highest precedence
// first: canonical nested fields, then flat fields, then the wallet.* shape.
var sources = map[models.Bucket][]fieldPath{
	models.BucketUSDTMain: {
		{"usdt", "mainUsdt"},
		{"mainUsdt"},
		{"wallet", "main"},
	},
	models.BucketUSDTPurchase: {
		{"usdt", "purchaseUsdt"},
		{"purchaseUsdt"},
		{"wallet", "purchase"},
	},
	models.BucketINRMain: {
		{"inr", "mainInr"},
		{"mainInr"},
		{"wallet", "inrMain"},
	},
	models.BucketINRPurchase: {
		{"inr", "purchaseInr"},
		{"purchaseInr"},
		{"wallet", "inrPurchase"},
	},
	models.BucketDLX: {
		{"dlx"},
		{"wallet", "dlx"},
	},
}

// Normalize converts a legacy wallet document in any known shape into a
// canonical wallet. Missing buckets are zero. Values may be JSON numbers or
// numeric strings; anything else, or a negative amount, is an error.
func Normalize(userID string, raw json.RawMessage) (*models.Wallet, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode wallet document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("wallet document is not an object")
	}

	wallet := models.NewWallet(userID)
	for _, bucket := range models.AllBuckets {
		for _, path := range sources[bucket] {
			value, ok := lookup(doc, path)
			if !ok {
				continue
			}
			amount, err := parseAmount(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path.String(), err)
			}
			if amount.IsNegative() {
				return nil, fmt.Errorf("%s: negative balance %s", path.String(), amount.String())
			}
			wallet.SetBalance(bucket, amount)
			break
		}
	}
	return wallet, nil
}

func lookup(doc map[string]interface{}, path fieldPath) (interface{}, bool) {
	var current interface{} = doc
	for _, key := range path {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func parseAmount(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("non-numeric value %q", v)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("non-numeric value of type %T", value)
	}
}

func (p fieldPath) String() string {
	var b bytes.Buffer
	for i, key := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(key)
	}
	return b.String()
}
