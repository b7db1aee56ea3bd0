package seeder

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/aegis-telemetry/aegis/cli/internal/client"
)

// Generator produces realistic events from service profiles.
type Generator struct {
	profiles []ServiceProfile
	rng      *rand.Rand
}

// NewGenerator creates a generator over the given profiles.
func NewGenerator(profiles []ServiceProfile, seed int64) *Generator {
	return &Generator{
		profiles: profiles,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Next generates one event from a randomly chosen profile.
func (g *Generator) Next() (*client.Event, ServiceProfile) {
	profile := g.profiles[g.rng.Intn(len(g.profiles))]
	source := profile.Sources[g.rng.Intn(len(profile.Sources))]
	eventType := profile.EventTypes[g.rng.Intn(len(profile.EventTypes))]

	event := &client.Event{
		Source:    source,
		EventType: eventType,
		Severity:  g.severity(profile),
		Payload:   g.payload(eventType, source),
	}
	if eventType == "REQUEST" {
		latency := int64(g.rng.Intn(496) + 5)
		event.LatencyMS = &latency
	}
	return event, profile
}

// severity rolls a severity from the profile's error and critical rates.
func (g *Generator) severity(profile ServiceProfile) string {
	r := g.rng.Float64()
	switch {
	case r < profile.CriticalRate:
		return "CRITICAL"
	case r < profile.ErrorRate:
		return "ERROR"
	case r < profile.ErrorRate+0.1:
		return "WARN"
	case r < 0.3:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// payload builds a realistic payload for the event type.
func (g *Generator) payload(eventType, source string) map[string]interface{} {
	base := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"host":      fmt.Sprintf("%s-%d.aegis.local", source, g.rng.Intn(5)+1),
	}

	switch eventType {
	case "REQUEST":
		base["method"] = gofakeit.HTTPMethod()
		base["path"] = pick(g.rng, "/api/users", "/api/orders", "/api/products", "/api/checkout")
		base["status_code"] = pick(g.rng, 200, 200, 200, 201, 400, 404, 500)
		base["user_agent"] = gofakeit.UserAgent()
	case "ORDER_CREATED", "PAYMENT_PROCESSED":
		base["order_id"] = fmt.Sprintf("ORD-%d", g.rng.Intn(90000)+10000)
		base["amount"] = gofakeit.Price(10, 500)
		base["currency"] = "USD"
	case "LOGIN", "LOGOUT":
		base["user_id"] = fmt.Sprintf("USR-%d", g.rng.Intn(9000)+1000)
		base["ip_address"] = gofakeit.IPv4Address()
	case "METRIC":
		base["metric_name"] = pick(g.rng, "cpu_usage", "memory_usage", "disk_io", "network_in")
		base["value"] = gofakeit.Float64Range(0, 100)
		base["unit"] = "%"
	default:
		base["details"] = fmt.Sprintf("Event %s from %s", eventType, source)
	}
	return base
}

func pick[T any](rng *rand.Rand, options ...T) T {
	return options[rng.Intn(len(options))]
}
