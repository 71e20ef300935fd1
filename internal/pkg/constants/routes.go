package constants

// Static route constants
const (
	HealthRoute            = "/health"
	StripeWebhookRoute     = "/webhooks/stripe"
	FireblocksWebhookRoute = "/webhooks/fireblocks"
	APIRoute               = "/api"
	InternalAPIRoute       = "/internal"
)
