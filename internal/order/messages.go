package order

import "fmt"

// System chat templates, one per transition
const (
	msgPaid              = "The buyer has marked the payment as sent. Waiting for the seller to confirm."
	msgConfirmed         = "The seller has confirmed receipt of the payment. Releasing USDT..."
	msgCompleted         = "Order completed successfully. Thank you for trading P2P."
	msgExpired           = "The payment window has closed without payment. Order cancelled."
	msgResolvedCompleted = "Dispute resolved by an arbiter in favour of the buyer. Releasing USDT..."
	msgResolvedCancelled = "Dispute resolved by an arbiter. Order cancelled."
)

func msgCreated(timeLimitMinutes int) string {
	return fmt.Sprintf("Order created. The buyer must complete the payment within %d minutes.", timeLimitMinutes)
}

func msgDisputed(wallet, reason string) string {
	short := wallet
	if len(short) > 8 {
		short = short[:8]
	}
	if reason == "" {
		return fmt.Sprintf("Dispute opened by %s...", short)
	}
	return fmt.Sprintf("Dispute opened by %s... Reason: %s", short, reason)
}
