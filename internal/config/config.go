package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// Storage
	DatabaseURL string `envconfig:"DATABASE_URL"`
	Store       string `envconfig:"STORE" default:"postgres"`
	// HTTP
	Port        string   `envconfig:"PORT" default:"8080"`
	JWTSecret   string   `envconfig:"JWT_SECRET"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173"`
	// Reservation engine
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	GraceWindow   time.Duration `envconfig:"GRACE_WINDOW" default:"15m"`
	ProbeStep     time.Duration `envconfig:"PROBE_STEP" default:"30m"`
	ProbeSteps    int           `envconfig:"PROBE_STEPS" default:"48"`
	DisplayTZ     string        `envconfig:"DISPLAY_TZ" default:"Asia/Kolkata"`
	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`
	// Broadcast transport
	RabbitURL            string `envconfig:"RABBIT_URL"`
	AvailabilityExchange string `envconfig:"AVAILABILITY_EXCHANGE" default:"parking.availability"`
	// Notifications
	SendGridAPIKey    string `envconfig:"SENDGRID_API_KEY"`
	SendGridFromEmail string `envconfig:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `envconfig:"SENDGRID_FROM_NAME" default:"parkd"`
	TwilioAccountSID  string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `envconfig:"TWILIO_FROM_NUMBER"`
	// Geocoding and tracing
	GoogleMapsAPIKey string `envconfig:"GOOGLE_MAPS_API_KEY"`
	OTLPEndpoint     string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the environment.
func Load() (App, error) {
	_ = godotenv.Load()
	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c App) validate() error {
	switch strings.ToLower(c.Store) {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE must be postgres or memory, got %q", c.Store)
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("GRACE_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.ProbeStep <= 0 || c.ProbeSteps <= 0 {
		return fmt.Errorf("PROBE_STEP and PROBE_STEPS must be positive")
	}
	return nil
}

func (c App) UseMemoryStore() bool {
	return strings.EqualFold(c.Store, "memory")
}

func (c App) NotificationsEnabled() bool {
	return c.SendGridAPIKey != "" || c.TwilioAccountSID != ""
}
