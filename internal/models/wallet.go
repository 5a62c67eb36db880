package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyUSDT Currency = "USDT"
	CurrencyINR  Currency = "INR"
	CurrencyDLX  Currency = "DLX"
)

func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case CurrencyUSDT, CurrencyINR, CurrencyDLX:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", s)
	}
}

// Bucket names one sub-balance of a wallet.
type Bucket string

const (
	BucketUSDTMain     Bucket = "usdt.main"
	BucketUSDTPurchase Bucket = "usdt.purchase"
	BucketINRMain      Bucket = "inr.main"
	BucketINRPurchase  Bucket = "inr.purchase"
	BucketDLX          Bucket = "dlx"
)

// AllBuckets lists every bucket of the canonical wallet shape.
var AllBuckets = []Bucket{BucketUSDTMain, BucketUSDTPurchase, BucketINRMain, BucketINRPurchase, BucketDLX}

const (
	BucketKindMain     = "main"
	BucketKindPurchase = "purchase"
)

func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllBuckets {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown bucket %q", s)
}

// BucketFor resolves the bucket a request targets. An empty kind means the
// currency's main bucket. DLX has a single bucket.
func BucketFor(currency Currency, kind string) (Bucket, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = BucketKindMain
	}
	switch currency {
	case CurrencyUSDT:
		switch kind {
		case BucketKindMain:
			return BucketUSDTMain, nil
		case BucketKindPurchase:
			return BucketUSDTPurchase, nil
		}
	case CurrencyINR:
		switch kind {
		case BucketKindMain:
			return BucketINRMain, nil
		case BucketKindPurchase:
			return BucketINRPurchase, nil
		}
	case CurrencyDLX:
		if kind == BucketKindMain {
			return BucketDLX, nil
		}
	}
	return "", fmt.Errorf("currency %s has no %q bucket", currency, kind)
}

func (b Bucket) Currency() Currency {
	switch b {
	case BucketUSDTMain, BucketUSDTPurchase:
		return CurrencyUSDT
	case BucketINRMain, BucketINRPurchase:
		return CurrencyINR
	case BucketDLX:
		return CurrencyDLX
	}
	return ""
}

// Wallet is the per-user balance record. Balances are read and written
// through Balance and SetBalance only.
type Wallet struct {
	UserID    string
	Balances  map[Bucket]decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewWallet returns an all-zero wallet.
func NewWallet(userID string) *Wallet {
	w := &Wallet{
		UserID:   userID,
		Balances: make(map[Bucket]decimal.Decimal, len(AllBuckets)),
	}
	for _, b := range AllBuckets {
		w.Balances[b] = decimal.Zero
	}
	return w
}

func (w *Wallet) Balance(b Bucket) decimal.Decimal {
	if w == nil || w.Balances == nil {
		return decimal.Zero
	}
	return w.Balances[b]
}

// IsEmpty reports whether every bucket is zero.
func (w *Wallet) IsEmpty() bool {
	for _, b := range AllBuckets {
		if !w.Balance(b).IsZero() {
			return false
		}
	}
	return true
}

func (w *Wallet) SetBalance(b Bucket, amount decimal.Decimal) {
	if w.Balances == nil {
		w.Balances = make(map[Bucket]decimal.Decimal, len(AllBuckets))
	}
	w.Balances[b] = amount
}

func (w *Wallet) Clone() *Wallet {
	c := *w
	c.Balances = make(map[Bucket]decimal.Decimal, len(w.Balances))
	for k, v := range w.Balances {
		c.Balances[k] = v
	}
	return &c
}

// Document renders the wallet in the canonical nested shape.
func (w *Wallet) Document() WalletDocument {
	return WalletDocument{
		USDT: USDTBalances{
			MainUSDT:     w.Balance(BucketUSDTMain),
			PurchaseUSDT: w.Balance(BucketUSDTPurchase),
		},
		INR: INRBalances{
			MainINR:     w.Balance(BucketINRMain),
			PurchaseINR: w.Balance(BucketINRPurchase),
		},
		DLX: w.Balance(BucketDLX),
	}
}

// WalletDocument is the canonical wallet shape:
// { usdt: { mainUsdt, purchaseUsdt }, inr: { mainInr, purchaseInr }, dlx }.
type WalletDocument struct {
	USDT USDTBalances    `json:"usdt"`
	INR  INRBalances     `json:"inr"`
	DLX  decimal.Decimal `json:"dlx"`
}

type USDTBalances struct {
	MainUSDT     decimal.Decimal `json:"mainUsdt"`
	PurchaseUSDT decimal.Decimal `json:"purchaseUsdt"`
}

type INRBalances struct {
	MainINR     decimal.Decimal `json:"mainInr"`
	PurchaseINR decimal.Decimal `json:"purchaseInr"`
}

func (d WalletDocument) Wallet(userID string) *Wallet {
	w := NewWallet(userID)
	w.SetBalance(BucketUSDTMain, d.USDT.MainUSDT)
	w.SetBalance(BucketUSDTPurchase, d.USDT.PurchaseUSDT)
	w.SetBalance(BucketINRMain, d.INR.MainINR)
	w.SetBalance(BucketINRPurchase, d.INR.PurchaseINR)
	w.SetBalance(BucketDLX, d.DLX)
	return w
}
