package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	ProviderMonnify = "monnify"
	ProviderSquare  = "square"

	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvShippingFees          = "STOREFRONT_SHIPPING_FEES"
	EnvFreeShippingThreshold = "STOREFRONT_FREE_SHIPPING_THRESHOLD"
	EnvTaxRatePercent        = "STOREFRONT_TAX_RATE_PERCENT"

	EnvPaymentProvider       = "STOREFRONT_PAYMENT_PROVIDER"
	EnvGatewaySessionTimeout = "STOREFRONT_GATEWAY_SESSION_TIMEOUT"

	EnvMonnifyAPIKey       = "STOREFRONT_MONNIFY_API_KEY"
	EnvMonnifySecretKey    = "STOREFRONT_MONNIFY_SECRET_KEY"
	EnvMonnifyContractCode = "STOREFRONT_MONNIFY_CONTRACT_CODE"

	EnvSquareAccessToken = "STOREFRONT_SQUARE_ACCESS_TOKEN"
	EnvSquareLocationID  = "STOREFRONT_SQUARE_LOCATION_ID"
	EnvSquareWebhookKey  = "STOREFRONT_SQUARE_WEBHOOK_SIGNATURE_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
