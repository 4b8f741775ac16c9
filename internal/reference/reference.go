// Package reference serves the static market data clients need to build offers.
package reference

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Service answers reference data lookups from an in-memory catalog
type Service struct {
	countries []Country
	byCode    map[string]Country
}

// NewService loads the built in catalog
func NewService() (*Service, error) {
	return Parse(defaultCatalog)
}

// Parse builds a service from a YAML catalog
func Parse(data []byte) (*Service, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse reference catalog: %w", err)
	}

	s := &Service{
		countries: c.Countries,
		byCode:    make(map[string]Country, len(c.Countries)),
	}
	for _, country := range c.Countries {
		code := strings.ToUpper(country.Code)
		if len(code) != 2 {
			return nil, fmt.Errorf("country code %q must have two letters", country.Code)
		}
		if _, dup := s.byCode[code]; dup {
			return nil, fmt.Errorf("country %s listed twice", code)
		}
		s.byCode[code] = country
	}
	return s, nil
}

func (s *Service) Countries() []Country {
	return s.countries
}

// Banks returns the banks known for a country. Known countries without banks
// return an empty list.
func (s *Service) Banks(code string) (*CountryBanks, error) {
	country, ok := s.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, apperr.NotFound("country %s not supported", code)
	}
	banks := country.Banks
	if banks == nil {
		banks = []Bank{}
	}
	return &CountryBanks{Country: country, Banks: banks}, nil
}

// ReferencePrices returns indicative prices keyed by country code
func (s *Service) ReferencePrices() map[string]Price {
	prices := make(map[string]Price, len(s.byCode))
	for code, country := range s.byCode {
		prices[code] = Price{Currency: country.Currency, Price: country.ReferencePrice}
	}
	return prices
}

// GinHandlers contains HTTP handlers for reference data endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for reference data endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CountriesHandler handles GET /p2p/countries
func (h *GinHandlers) CountriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.List(c, h.service.Countries(), nil)
	}
}

// BanksHandler handles GET /p2p/banks/:code
func (h *GinHandlers) BanksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		banks, err := h.service.Banks(c.Param("code"))
		response.Handle(c, banks, err)
	}
}

// ReferencePricesHandler handles GET /p2p/reference-prices
func (h *GinHandlers) ReferencePricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.ReferencePrices())
	}
}
