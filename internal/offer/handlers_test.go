package offer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/internal/testutil"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *response.Meta  `json:"meta"`
	Error   *response.Error `json:"error"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _ := newTestService(t)
	handlers := NewGinHandlers(svc)

	withWallet := func(c *gin.Context) {
		if wallet := c.GetHeader("X-Test-Wallet"); wallet != "" {
			c.Set(auth.ContextWalletKey, wallet)
		}
	}

	router := gin.New()
	router.GET("/p2p/offers/country/:code", handlers.ListByCountryHandler())
	router.GET("/p2p/offers/wallet/:wallet", handlers.ListByWalletHandler())
	router.GET("/p2p/offers/:id", handlers.GetOfferHandler())
	router.POST("/p2p/offers", withWallet, handlers.CreateOfferHandler())
	router.PUT("/p2p/offers/:id", withWallet, handlers.UpdateOfferHandler())
	router.PUT("/p2p/offers/:id/status", withWallet, handlers.SetStatusHandler())
	return router, svc
}

func serve(t *testing.T, router *gin.Engine, method, path, wallet, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set("X-Test-Wallet", wallet)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decodeOffer(t *testing.T, env envelope) Offer {
	t.Helper()
	var offer Offer
	require.NoError(t, json.Unmarshal(env.Data, &offer))
	return offer
}

const offerBody = `{
	"type": "sell",
	"price": "3850.50",
	"min_quantity": "50",
	"max_quantity": "1000",
	"country_code": "co",
	"currency": "cop",
	"payment_method": "bank-transfer",
	"bank_name": "Bancolombia",
	"account_number": "123-456789-00"
}`

func TestCreateOfferHandler(t *testing.T) {
	router, _ := newTestRouter(t)
	owner := testutil.Wallet('A')

	code, env := serve(t, router, http.MethodPost, "/p2p/offers", owner, offerBody)
	require.Equal(t, http.StatusCreated, code)
	created := decodeOffer(t, env)
	assert.Equal(t, owner, created.OwnerWallet)
	assert.Equal(t, "CO", created.CountryCode)
	assert.Equal(t, "3850.5", created.Price.String())

	tests := []struct {
		name   string
		wallet string
		body   string
		status int
		code   string
	}{
		{"no token", "", offerBody, http.StatusUnauthorized, response.ErrCodeUnauthorized},
		{"body wallet differs from token", owner,
			strings.Replace(offerBody, "{", `{"wallet":"`+testutil.Wallet('B')+`",`, 1),
			http.StatusForbidden, response.ErrCodeForbidden},
		{"price not a number", owner, strings.Replace(offerBody, `"3850.50"`, `"lots"`, 1),
			http.StatusBadRequest, response.ErrCodeBadRequest},
		{"price below a cent", owner, strings.Replace(offerBody, `"3850.50"`, `"3850.505"`, 1),
			http.StatusBadRequest, response.ErrCodeValidationFailed},
		{"unknown payment method", owner, strings.Replace(offerBody, "bank-transfer", "barter", 1),
			http.StatusBadRequest, response.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := serve(t, router, http.MethodPost, "/p2p/offers", tt.wallet, tt.body)
			assert.Equal(t, tt.status, code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestUpdateOfferHandler(t *testing.T) {
	router, _ := newTestRouter(t)
	owner := testutil.Wallet('A')

	code, env := serve(t, router, http.MethodPost, "/p2p/offers", owner, offerBody)
	require.Equal(t, http.StatusCreated, code)
	id := decodeOffer(t, env).OfferID

	edited := strings.Replace(offerBody, `"3850.50"`, `"3900"`, 1)
	code, env = serve(t, router, http.MethodPut, "/p2p/offers/"+id, owner, edited)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3900", decodeOffer(t, env).Price.String())

	code, env = serve(t, router, http.MethodPut, "/p2p/offers/"+id, testutil.Wallet('B'), edited)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrCodeForbidden, env.Error.Code)

	code, env = serve(t, router, http.MethodPut, "/p2p/offers/OFR_missing", owner, edited)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrCodeNotFound, env.Error.Code)

	code, _ = serve(t, router, http.MethodPut, "/p2p/offers/"+id+"/status", owner, `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, code)

	code, env = serve(t, router, http.MethodPut, "/p2p/offers/"+id, owner, edited)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrCodeInvalidTransition, env.Error.Code)
}

func TestSetStatusHandler(t *testing.T) {
	router, _ := newTestRouter(t)
	owner := testutil.Wallet('A')

	code, env := serve(t, router, http.MethodPost, "/p2p/offers", owner, offerBody)
	require.Equal(t, http.StatusCreated, code)
	path := "/p2p/offers/" + decodeOffer(t, env).OfferID + "/status"

	code, env = serve(t, router, http.MethodPut, path, owner, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrCodeBadRequest, env.Error.Code)

	code, env = serve(t, router, http.MethodPut, path, testutil.Wallet('B'), `{"status":"paused"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrCodeForbidden, env.Error.Code)

	code, env = serve(t, router, http.MethodPut, path, owner, `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrCodeInvalidTransition, env.Error.Code)

	code, env = serve(t, router, http.MethodPut, path, owner, `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusPaused, decodeOffer(t, env).Status)
}

func TestListOfferHandlers(t *testing.T) {
	router, _ := newTestRouter(t)
	owner := testutil.Wallet('A')

	code, env := serve(t, router, http.MethodPost, "/p2p/offers", owner, offerBody)
	require.Equal(t, http.StatusCreated, code)
	id := decodeOffer(t, env).OfferID

	code, env = serve(t, router, http.MethodGet, "/p2p/offers/country/co?min_amount=10&max_amount=1000", "", "")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)

	code, env = serve(t, router, http.MethodGet, "/p2p/offers/country/co?min_amount=60", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Meta.Total)

	for _, query := range []string{"min_amount=ten", "max_amount=1e", "min_amount=50&max_amount=abc"} {
		code, env = serve(t, router, http.MethodGet, "/p2p/offers/country/co?"+query, "", "")
		assert.Equal(t, http.StatusBadRequest, code, query)
		require.NotNil(t, env.Error, query)
		assert.Equal(t, response.ErrCodeValidationFailed, env.Error.Code, query)
	}

	code, env = serve(t, router, http.MethodGet, "/p2p/offers/wallet/"+owner, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)

	code, env = serve(t, router, http.MethodGet, "/p2p/offers/"+id, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, decodeOffer(t, env).OfferID)

	code, env = serve(t, router, http.MethodGet, "/p2p/offers/OFR_missing", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrCodeNotFound, env.Error.Code)
}
