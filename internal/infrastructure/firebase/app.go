package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"chatcore/pkg/config"
	"chatcore/pkg/logger"
)

// Clients holds the Google Cloud clients the server needs. Either field may
// be nil when the corresponding feature is not configured.
type Clients struct {
	Firestore *firestore.Client
	Auth      *auth.Client
}

func (c *Clients) Close() error {
	if c.Firestore != nil {
		return c.Firestore.Close()
	}
	return nil
}

// credentials picks the service account from the environment JSON first and
// the key file second. Without either, application default credentials apply.
func credentials(cfg *config.Config) ([]option.ClientOption, error) {
	if cfg.FirebaseServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))}, nil
	}
	if cfg.FirebaseServiceAccountPath != "" {
		if _, err := os.Stat(cfg.FirebaseServiceAccountPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account file does not exist: %s", cfg.FirebaseServiceAccountPath)
		}
		logger.Info("Using Firebase service account from file: %s", cfg.FirebaseServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(cfg.FirebaseServiceAccountPath)}, nil
	}
	logger.Info("Using application default credentials for Firebase")
	return nil, nil
}

// NewClients initializes only what cfg asks for: Firestore when it is the
// store driver and Firebase Auth when it is the auth provider.
func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	clients := &Clients{}
	wantStore := cfg.StoreDriver == config.StoreFirestore
	wantAuth := cfg.AuthProvider == config.AuthFirebase
	if !wantStore && !wantAuth {
		return clients, nil
	}

	opts, err := credentials(cfg)
	if err != nil {
		return nil, err
	}

	if wantAuth {
		app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
		if err != nil {
			return nil, fmt.Errorf("initialize firebase: %w", err)
		}
		clients.Auth, err = app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize firebase auth: %w", err)
		}
	}

	if wantStore {
		clients.Firestore, err = firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
	}

	return clients, nil
}
