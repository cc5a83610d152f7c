package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"

	OrderGatewayStreamName          = "order_gateway"
	OrderGatewayStreamSubjectAll    = "order_gateway.*"
	OrderGatewayStreamSubjectPlaced = "order_gateway.placed"
)
