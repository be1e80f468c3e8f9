package config

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// InitFirebase initializes the Firebase Admin SDK. It returns nil, nil when
// no credentials are configured so push delivery is simply skipped.
func InitFirebase(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	if !cfg.Configured() {
		log.Info().Msg("Firebase credentials not configured, push notifications disabled")
		return nil, nil
	}

	var opt option.ClientOption
	if cfg.CredentialsBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 credentials: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
	} else {
		log.Info().Str("file", cfg.CredentialsFile).Msg("using Firebase credentials file")
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opt)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	return app, nil
}
