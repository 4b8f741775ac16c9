package reference

import "github.com/shopspring/decimal"

// Country is a market the marketplace lists offers for
type Country struct {
	Code           string          `yaml:"code" json:"code"`
	Name           string          `yaml:"name" json:"name"`
	Currency       string          `yaml:"currency" json:"currency"`
	ReferencePrice decimal.Decimal `yaml:"reference_price" json:"reference_price"`
	Banks          []Bank          `yaml:"banks" json:"-"`
}

type Bank struct {
	Name  string `yaml:"name" json:"name"`
	Swift string `yaml:"swift" json:"swift"`
}

// CountryBanks is the response of GET /p2p/banks/:code
type CountryBanks struct {
	Country Country `json:"country"`
	Banks   []Bank  `json:"banks"`
}

// Price is the indicative USDT price in a country's currency
type Price struct {
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
}

type catalog struct {
	Countries []Country `yaml:"countries"`
}
