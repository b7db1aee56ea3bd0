package seeder

// ServiceProfile describes one simulated service: where its events come
// from and how often they go wrong.
type ServiceProfile struct {
	Name         string   `yaml:"name"`
	Sources      []string `yaml:"sources"`
	EventTypes   []string `yaml:"event_types"`
	ErrorRate    float64  `yaml:"error_rate"`
	CriticalRate float64  `yaml:"critical_rate"`
}

// DefaultProfiles returns the built-in simulated services.
func DefaultProfiles() []ServiceProfile {
	return []ServiceProfile{
		{
			Name:         "E-Commerce API",
			Sources:      []string{"order-service", "payment-service", "inventory-service"},
			EventTypes:   []string{"REQUEST", "ORDER_CREATED", "PAYMENT_PROCESSED", "STOCK_UPDATE"},
			ErrorRate:    0.05,
			CriticalRate: 0.01,
		},
		{
			Name:         "User Authentication",
			Sources:      []string{"auth-service", "session-manager", "oauth-provider"},
			EventTypes:   []string{"LOGIN", "LOGOUT", "TOKEN_REFRESH", "PASSWORD_RESET"},
			ErrorRate:    0.03,
			CriticalRate: 0.005,
		},
		{
			Name:         "Analytics Pipeline",
			Sources:      []string{"data-collector", "etl-worker", "report-generator"},
			EventTypes:   []string{"DATA_INGESTED", "TRANSFORM_COMPLETE", "REPORT_GENERATED", "METRIC"},
			ErrorRate:    0.08,
			CriticalRate: 0.02,
		},
	}
}
