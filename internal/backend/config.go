package backend

import (
	"fmt"
	"time"

	"expensemanager/internal/config"
)

// Config holds configuration for backend creation
type Config struct {
	Type   BackendType
	Mirror MirrorType

	// SQLite also holds the sync queue for the mongo backend.
	SQLiteDBPath  string
	MongoURI      string
	MongoDatabase string

	RemoteBaseURL string

	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	SessionTTL  time.Duration
	MaxSessions int
	BcryptCost  int
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:   BackendType(appConfig.DataBackend),
		Mirror: MirrorType(appConfig.Mirror),

		SQLiteDBPath:  appConfig.SQLiteDBPath,
		MongoURI:      appConfig.MongoURI,
		MongoDatabase: appConfig.MongoDatabase,

		RemoteBaseURL: appConfig.RemoteBaseURL,

		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		SessionTTL:  appConfig.SessionTTL,
		MaxSessions: appConfig.MaxSessions,
		BcryptCost:  appConfig.BcryptCost,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Mirror == "" {
		c.Mirror = NoMirror
	}
	if !c.Mirror.IsValid() {
		return fmt.Errorf("invalid mirror type: %s", c.Mirror)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case MongoBackend:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("MongoDB URI and database are required for mongo backend")
		}
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for the mongo backend sync queue")
		}
	}

	switch c.Mirror {
	case RESTMirror:
		if c.RemoteBaseURL == "" {
			return fmt.Errorf("remote base URL is required for rest mirror")
		}
	case SheetsMirror:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets mirror")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			return fmt.Errorf("Google service account credentials are required for sheets mirror")
		}
	}

	return nil
}
