package reference

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	svc, err := NewService()
	require.NoError(t, err)

	countries := svc.Countries()
	require.Len(t, countries, 9)
	assert.Equal(t, "CO", countries[0].Code)
	assert.Equal(t, "COP", countries[0].Currency)

	banks, err := svc.Banks("co")
	require.NoError(t, err)
	assert.Equal(t, "Colombia", banks.Country.Name)
	require.Len(t, banks.Banks, 4)
	assert.Equal(t, Bank{Name: "Bancolombia", Swift: "BANCOL"}, banks.Banks[0])

	banks, err = svc.Banks("PE")
	require.NoError(t, err)
	assert.NotNil(t, banks.Banks)
	assert.Empty(t, banks.Banks)

	_, err = svc.Banks("XX")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	prices := svc.ReferencePrices()
	assert.Len(t, prices, 9)
	assert.Equal(t, "MXN", prices["MX"].Currency)
	assert.True(t, prices["MX"].Price.Equal(decimal.RequireFromString("17.5")))
}

func TestParseRejectsBadCatalog(t *testing.T) {
	_, err := Parse([]byte("countries:\n  - code: COL\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("countries:\n  - code: CO\n  - code: co\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("countries: ["))
	assert.Error(t, err)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := NewService()
	require.NoError(t, err)
	h := NewGinHandlers(svc)

	router := gin.New()
	router.GET("/p2p/countries", h.CountriesHandler())
	router.GET("/p2p/banks/:code", h.BanksHandler())
	router.GET("/p2p/reference-prices", h.ReferencePricesHandler())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/p2p/countries")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":9`)

	w = get("/p2p/banks/AR")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Mercado Pago")

	assert.Equal(t, http.StatusNotFound, get("/p2p/banks/ZZ").Code)

	w = get("/p2p/reference-prices")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"currency":"COP"`)
}
