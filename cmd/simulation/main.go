package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/internal/offer"
	"github.com/ksred/p2p-usdt-api/internal/order"
	"github.com/ksred/p2p-usdt-api/internal/stats"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/ksred/p2p-usdt-api/pkg/tron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	numSellers      = 3
	numBuyers       = 5
	ordersPerBuyer  = 4
	disputeOneIn    = 5
	abandonOneIn    = 7
	referencePrice  = 3850
	settleWaitLimit = 30 * time.Second
)

// errConflict marks a 409 answer, the expected result of losing a race
var errConflict = errors.New("conflict")

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]
	return
}

// trader is one simulated wallet with its signing key and session token
type trader struct {
	wallet string
	key    *ecdsa.PrivateKey
	token  string
}

// simulationClient handles HTTP communication with the P2P API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

func newSimulationClient(baseURL string) *simulationClient {
	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":       {name: "Authentication"},
			"offer":      {name: "Create Offer"},
			"order":      {name: "Create Order"},
			"transition": {name: "Order Transition"},
			"get":        {name: "Get Order"},
			"chat":       {name: "Chat"},
			"stats":      {name: "Market Stats"},
		},
	}
}

// call sends a JSON request and decodes the envelope's data into out. A 409
// is returned as errConflict.
func (sc *simulationClient) call(route, method, path, token string, headers map[string]string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		sc.stats[route].record(time.Since(start), err != nil && !errors.Is(err, errConflict))
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+"/api/v1"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	envelope := response.Response{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%s %s: %w", method, path, errConflict)
	}
	if !envelope.Success {
		msg := "unknown error"
		if envelope.Error != nil {
			msg = envelope.Error.Code + ": " + envelope.Error.Message
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return nil
}

// authenticate signs a fresh challenge with the trader's key
func (sc *simulationClient) authenticate(t *trader) error {
	var challenge auth.ChallengeResponse
	if err := sc.call("auth", http.MethodPost, "/auth/challenge", "", nil,
		auth.ChallengeRequest{Wallet: t.wallet}, &challenge); err != nil {
		return err
	}

	sig, err := crypto.Sign(tron.HashMessage(challenge.Message), t.key)
	if err != nil {
		return err
	}
	sig[crypto.RecoveryIDOffset] += 27

	var token auth.TokenResponse
	if err := sc.call("auth", http.MethodPost, "/auth/token", "", nil,
		auth.TokenRequest{Wallet: t.wallet, Signature: hex.EncodeToString(sig)}, &token); err != nil {
		return err
	}
	t.token = token.Token
	return nil
}

func (sc *simulationClient) createOffer(seller *trader) (*offer.Offer, error) {
	price := decimal.NewFromInt(referencePrice + int64(rand.Intn(200)-100))
	input := offer.CreateOfferInput{
		Type:             offer.TypeSell,
		CountryCode:      "CO",
		Currency:         "COP",
		PaymentMethod:    offer.PaymentBankTransfer,
		BankName:         "Bancolombia",
		AccountNumber:    fmt.Sprintf("%010d", rand.Intn(1_000_000_000)),
		AccountHolder:    "Simulated Seller",
		TimeLimitMinutes: offer.DefaultTimeLimitMinutes,
		Price:            price,
		MinQuantity:      decimal.NewFromInt(10),
		MaxQuantity:      decimal.NewFromInt(500),
	}

	var created offer.Offer
	if err := sc.call("offer", http.MethodPost, "/p2p/offers", seller.token, nil, input, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (sc *simulationClient) createOrder(buyer *trader, offerID string, quantity decimal.Decimal) (*order.Order, error) {
	var created order.Order
	err := sc.call("order", http.MethodPost, "/p2p/orders", buyer.token,
		map[string]string{"Idempotency-Key": uuid.NewString()},
		order.CreateOrderRequest{OfferID: offerID, Quantity: quantity}, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (sc *simulationClient) transition(t *trader, orderID string, request order.TransitionRequest) (*order.Order, error) {
	var updated order.Order
	if err := sc.call("transition", http.MethodPut, "/p2p/orders/"+orderID+"/status", t.token, nil, request, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (sc *simulationClient) getOrder(t *trader, orderID string) (*order.Order, error) {
	var o order.Order
	if err := sc.call("get", http.MethodGet, "/p2p/orders/"+orderID, t.token, nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (sc *simulationClient) sendChat(t *trader, orderID, body string) error {
	return sc.call("chat", http.MethodPost, "/p2p/orders/"+orderID+"/chat", t.token, nil,
		map[string]string{"body": body}, nil)
}

// outcome tallies what happened to every simulated order
type outcome struct {
	mu           sync.Mutex
	created      int
	failed       int
	confirmed    int
	confirmRaces int
	raceLosses   int
	disputed     int
	abandoned    int
	completed    int
	volumeUSDT   decimal.Decimal
	confirmedBy  map[string]*trader // order id to buyer
}

func (o *outcome) add(f func(o *outcome)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f(o)
}

// runBuyer drives one buyer through several orders. Each order is paid, then
// the seller confirms from two goroutines at once; exactly one may win.
func runBuyer(sc *simulationClient, buyer *trader, sellers map[string]*trader, offers []*offer.Offer, result *outcome) {
	logger := log.With().Str("buyer_wallet", buyer.wallet).Logger()

	for i := 0; i < ordersPerBuyer; i++ {
		source := offers[rand.Intn(len(offers))]
		seller := sellers[source.OwnerWallet]
		quantity := decimal.NewFromInt(int64(rand.Intn(490) + 10))

		created, err := sc.createOrder(buyer, source.OfferID, quantity)
		if err != nil {
			logger.Error().Err(err).Str("offer_id", source.OfferID).Msg("Failed to create order")
			result.add(func(o *outcome) { o.failed++ })
			continue
		}
		result.add(func(o *outcome) { o.created++ })
		orderID := created.OrderID

		if rand.Intn(abandonOneIn) == 0 {
			// left pending for the expiry sweep
			result.add(func(o *outcome) { o.abandoned++ })
			continue
		}

		if _, err := sc.transition(buyer, orderID, order.TransitionRequest{
			Status:       order.StatusPaid,
			PaymentProof: "https://receipts.example/" + orderID,
			Notes:        "Transfer sent",
		}); err != nil {
			logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to mark order paid")
			result.add(func(o *outcome) { o.failed++ })
			continue
		}
		if err := sc.sendChat(buyer, orderID, "Payment sent, please check your account"); err != nil {
			logger.Warn().Err(err).Str("order_id", orderID).Msg("Failed to send chat message")
		}

		if rand.Intn(disputeOneIn) == 0 {
			if _, err := sc.transition(seller, orderID, order.TransitionRequest{
				Status: order.StatusDisputed,
				Reason: "Payment not received",
			}); err != nil {
				logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to open dispute")
			} else {
				result.add(func(o *outcome) { o.disputed++ })
			}
			continue
		}

		wins, losses := raceConfirm(sc, seller, orderID)
		result.add(func(o *outcome) {
			o.confirmRaces++
			o.raceLosses += losses
			if wins == 1 {
				o.confirmed++
				o.volumeUSDT = o.volumeUSDT.Add(quantity)
				o.confirmedBy[orderID] = buyer
			}
		})
		if wins != 1 {
			logger.Error().Int("wins", wins).Str("order_id", orderID).Msg("Confirm race did not produce exactly one winner")
		}

		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

func raceConfirm(sc *simulationClient, seller *trader, orderID string) (wins, losses int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sc.transition(seller, orderID, order.TransitionRequest{
				Status: order.StatusConfirmed,
				Notes:  "Funds received",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, errConflict):
				losses++
			default:
				log.Error().Err(err).Str("order_id", orderID).Msg("Confirm request failed")
			}
		}()
	}
	wg.Wait()
	return wins, losses
}

// waitForSettlement polls confirmed orders until the settlement processor has
// completed them or the wait limit passes
func waitForSettlement(sc *simulationClient, result *outcome) {
	deadline := time.Now().Add(settleWaitLimit)
	pending := make(map[string]*trader, len(result.confirmedBy))
	for id, buyer := range result.confirmedBy {
		pending[id] = buyer
	}

	for len(pending) > 0 && time.Now().Before(deadline) {
		for id, buyer := range pending {
			o, err := sc.getOrder(buyer, id)
			if err != nil {
				log.Warn().Err(err).Str("order_id", id).Msg("Failed to poll order")
				continue
			}
			if o.Status == order.StatusCompleted {
				delete(pending, id)
				result.completed++
			}
		}
		if len(pending) > 0 {
			time.Sleep(time.Second)
		}
	}
}

// printPerformanceStats prints per route latency statistics
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-18s %8s %8s %10s %10s %10s %10s %10s %10s\n",
		"Route", "Calls", "Failed", "Min", "Max", "Mean", "Median", "P95", "P99")

	routes := make([]string, 0, len(sc.stats))
	for route := range sc.stats {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	for _, route := range routes {
		rs := sc.stats[route]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-18s %8d %8d %10s %10s %10s %10s %10s %10s\n",
			rs.name, rs.totalCalls, rs.failures,
			min.Round(time.Microsecond), max.Round(time.Microsecond), mean.Round(time.Microsecond),
			median.Round(time.Microsecond), p95.Round(time.Microsecond), p99.Round(time.Microsecond))
	}
}

func newTrader() (*trader, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &trader{wallet: tron.PubkeyToAddress(key.PublicKey), key: key}, nil
}

// main drives a running P2P API through the full order lifecycle
func main() {
	serverAddress := flag.String("server", "http://localhost:8080", "base URL of a running P2P API")
	flag.Parse()

	sc := newSimulationClient(*serverAddress)
	startTime := time.Now()

	sellers := make(map[string]*trader, numSellers)
	var offers []*offer.Offer
	for i := 0; i < numSellers; i++ {
		seller, err := newTrader()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate seller key")
		}
		if err := sc.authenticate(seller); err != nil {
			log.Fatal().Err(err).Msg("Failed to authenticate seller")
		}
		created, err := sc.createOffer(seller)
		if err != nil {
			log.Fatal().Err(err).Str("wallet", seller.wallet).Msg("Failed to create offer")
		}
		sellers[seller.wallet] = seller
		offers = append(offers, created)
		log.Info().
			Str("offer_id", created.OfferID).
			Str("wallet", seller.wallet).
			Str("price", created.Price.String()).
			Msg("Offer created")
	}

	buyers := make([]*trader, 0, numBuyers)
	for i := 0; i < numBuyers; i++ {
		buyer, err := newTrader()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate buyer key")
		}
		if err := sc.authenticate(buyer); err != nil {
			log.Fatal().Err(err).Msg("Failed to authenticate buyer")
		}
		buyers = append(buyers, buyer)
	}

	log.Info().
		Int("sellers", numSellers).
		Int("buyers", numBuyers).
		Int("target_orders", numBuyers*ordersPerBuyer).
		Msg("Starting simulation")

	result := &outcome{volumeUSDT: decimal.Zero, confirmedBy: map[string]*trader{}}
	var wg sync.WaitGroup
	for _, buyer := range buyers {
		wg.Add(1)
		go func(b *trader) {
			defer wg.Done()
			runBuyer(sc, b, sellers, offers, result)
		}(buyer)
	}
	wg.Wait()

	log.Info().Int("confirmed", result.confirmed).Msg("Waiting for settlement")
	waitForSettlement(sc, result)

	var market stats.MarketStats
	if err := sc.call("stats", http.MethodGet, "/p2p/stats", "", nil, nil, &market); err != nil {
		log.Error().Err(err).Msg("Failed to fetch market stats")
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("P2P Simulation Summary")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Orders created:        %d\n", result.created)
	fmt.Printf("Orders failed:         %d\n", result.failed)
	fmt.Printf("Confirmed:             %d (%s USDT)\n", result.confirmed, result.volumeUSDT.String())
	fmt.Printf("Settled to completed:  %d\n", result.completed)
	fmt.Printf("Disputed:              %d\n", result.disputed)
	fmt.Printf("Left to expire:        %d\n", result.abandoned)
	fmt.Printf("Confirm races:         %d (losers answered 409: %d)\n", result.confirmRaces, result.raceLosses)
	fmt.Printf("Market active offers:  %d\n", market.ActiveOffers)
	fmt.Printf("Market completed USDT: %s\n", market.CompletedVolumeUSDT.String())
	fmt.Println(strings.Repeat("=", 80))

	log.Info().
		Int("orders", result.created).
		Int("completed", result.completed).
		Dur("duration", time.Since(startTime)).
		Msg("Simulation completed")

	sc.printPerformanceStats()
}
